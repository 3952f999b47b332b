package sim

import (
	"fmt"
	"strings"
	"sync"
)

// Fault is a misbehaviour the platform can be told to exhibit for one call.
type Fault int

const (
	FaultNone Fault = iota
	// FaultInvalidCall makes the call return an invalid call id.
	FaultInvalidCall
	// FaultIOFailure completes with the io-failure flag set.
	FaultIOFailure
	// FaultNilPayload completes with no payload.
	FaultNilPayload
	// FaultLogical completes with a payload that reports failure.
	FaultLogical
	// FaultDuplicate completes twice.
	FaultDuplicate
	// FaultMismatch completes with a payload for another leaderboard or app.
	FaultMismatch
	// FaultNotReady keeps images and names from ever becoming ready.
	FaultNotReady
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultInvalidCall:
		return "invalid_call"
	case FaultIOFailure:
		return "io_failure"
	case FaultNilPayload:
		return "nil_payload"
	case FaultLogical:
		return "logical"
	case FaultDuplicate:
		return "duplicate"
	case FaultMismatch:
		return "mismatch"
	case FaultNotReady:
		return "not_ready"
	}
	return "unknown"
}

func ParseFault(s string) (Fault, error) {
	for f := FaultNone; f <= FaultNotReady; f++ {
		if f.String() == strings.ToLower(strings.TrimSpace(s)) {
			return f, nil
		}
	}
	return FaultNone, fmt.Errorf("unknown fault %q", s)
}

// Call names accepted by Faults.
const (
	CallFindLeaderboard         = "FindLeaderboard"
	CallFindOrCreateLeaderboard = "FindOrCreateLeaderboard"
	CallDownloadEntries         = "DownloadLeaderboardEntries"
	CallDownloadEntriesForUsers = "DownloadLeaderboardEntriesForUsers"
	CallUploadScore             = "UploadLeaderboardScore"
	CallAttachUGC               = "AttachLeaderboardUGC"
	CallRequestUserStats        = "RequestUserStats"
	CallRequestGlobalStats      = "RequestGlobalStats"
	CallStoreStats              = "StoreStats"
	CallFileWrite               = "FileWrite"
	CallFileShare               = "FileShare"
	CallUGCDownload             = "UGCDownload"
	CallAvatarHandle            = "AvatarHandle"
	CallRequestUserInformation  = "RequestUserInformation"
)

// Faults holds the injected faults per call name. Sticky faults apply to
// every call until cleared; one-shot faults are consumed in order first.
type Faults struct {
	mu     sync.Mutex
	sticky map[string]Fault
	once   map[string][]Fault
}

func NewFaults() *Faults {
	return &Faults{sticky: map[string]Fault{}, once: map[string][]Fault{}}
}

func (f *Faults) Set(call string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky[call] = fault
}

// Once queues fault for the next call only.
func (f *Faults) Once(call string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.once[call] = append(f.once[call], fault)
}

func (f *Faults) Clear(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sticky, call)
	delete(f.once, call)
}

// Reset clears every fault.
func (f *Faults) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky = map[string]Fault{}
	f.once = map[string][]Fault{}
}

func (f *Faults) take(call string) Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.once[call]; len(q) > 0 {
		f.once[call] = q[1:]
		return q[0]
	}
	return f.sticky[call]
}

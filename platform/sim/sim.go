// Package sim is an in-process reference platform. It implements every
// platform service over a Storage backend and completes calls on their own
// goroutines after a configurable latency, with optional injected faults.
package sim

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"salkit/core"
	"salkit/platform"
)

// DefaultAppID is used when Config.AppID is zero.
const DefaultAppID uint32 = 480

// DefaultLocalUser is used when Config.LocalUser is empty.
const DefaultLocalUser core.SubjectID = "76561197960287930"

// AchievementDef is one entry of the achievement schema.
type AchievementDef struct {
	APIName       string  `json:"api_name" yaml:"api_name"`
	DisplayName   string  `json:"display_name" yaml:"display_name"`
	Description   string  `json:"description" yaml:"description"`
	Hidden        bool    `json:"hidden" yaml:"hidden"`
	GlobalPercent float32 `json:"global_percent" yaml:"global_percent"`
}

type Config struct {
	AppID     uint32
	LocalUser core.SubjectID
	// Offline starts the platform with no logged-on user.
	Offline bool
	// Latency delays every completion.
	Latency time.Duration
	// AvatarReadyAfter is the number of avatar queries answered "loading"
	// before the image becomes available.
	AvatarReadyAfter int
	// Personas maps accounts to display names. Names other than the local
	// user's and friends' are only known after RequestUserInformation.
	Personas     map[core.SubjectID]string
	Friends      []core.SubjectID
	Achievements []AchievementDef
	// StatSchema restricts which stats exist and their types. Empty allows any stat.
	StatSchema  map[string]core.StatType
	GlobalStats map[string]float64
	Logger      *slog.Logger
}

// Platform implements platform.UserStats, RemoteStorage, Friends, Utils and User.
type Platform struct {
	cfg    Config
	store  Storage
	log    *slog.Logger
	faults *Faults
	calls  platform.CallIDs

	loggedOn atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool

	mu            sync.Mutex
	entries       map[platform.EntriesHandle][]platform.LeaderboardEntry
	lastEntries   platform.EntriesHandle
	session       *statsSession
	globalLoaded  bool
	known         map[core.SubjectID]bool
	avatarQueries map[avatarKey]int
	avatars       map[avatarKey]int
	icons         map[string]int
	images        map[int]rgbaImage
	lastImage     int
	downloads     map[core.UGCHandle][]byte
}

// New starts a platform over store.
func New(store Storage, cfg Config) *Platform {
	if cfg.AppID == 0 {
		cfg.AppID = DefaultAppID
	}
	if cfg.LocalUser == "" {
		cfg.LocalUser = DefaultLocalUser
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Platform{
		cfg:           cfg,
		store:         store,
		log:           cfg.Logger.With("component", "sim"),
		faults:        NewFaults(),
		ctx:           ctx,
		cancel:        cancel,
		entries:       map[platform.EntriesHandle][]platform.LeaderboardEntry{},
		known:         map[core.SubjectID]bool{cfg.LocalUser: true},
		avatarQueries: map[avatarKey]int{},
		avatars:       map[avatarKey]int{},
		icons:         map[string]int{},
		images:        map[int]rgbaImage{},
		downloads:     map[core.UGCHandle][]byte{},
	}
	for _, f := range cfg.Friends {
		p.known[f] = true
	}
	p.loggedOn.Store(!cfg.Offline)
	return p
}

// Services exposes p through the platform interfaces.
func (p *Platform) Services() platform.Services {
	return platform.Services{UserStats: p, RemoteStorage: p, Friends: p, Utils: p, User: p}
}

// Faults returns the fault table consulted by every call.
func (p *Platform) Faults() *Faults { return p.faults }

// Store returns the backing storage.
func (p *Platform) Store() Storage { return p.store }

func (p *Platform) SetLoggedOn(v bool) { p.loggedOn.Store(v) }

// Close stops accepting calls and waits for pending completions. Calls still
// sleeping on latency complete with an io failure.
func (p *Platform) Close() {
	p.closeMu.Lock()
	p.closed = true
	p.cancel()
	p.closeMu.Unlock()
	p.wg.Wait()
}

// track registers one completion goroutine. It reports false once Close has begun.
func (p *Platform) track() bool {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

func (p *Platform) AppID() uint32 { return p.cfg.AppID }

func (p *Platform) LoggedOn() bool { return p.loggedOn.Load() }

func (p *Platform) SubjectID() core.SubjectID { return p.cfg.LocalUser }

// dispatch issues one asynchronous call. work builds the payload and handles
// the payload-shaping faults (FaultLogical, FaultMismatch); a work error is
// reported as an io failure.
func dispatch[T any](p *Platform, call string, done platform.Completion[T], work func(ctx context.Context, f Fault) (*T, error)) platform.CallID {
	f := p.faults.take(call)
	if f == FaultInvalidCall || !p.track() {
		p.log.Debug("call rejected", "call", call)
		return platform.InvalidCall
	}
	id := p.calls.Next()
	go func() {
		defer p.wg.Done()
		if !p.sleep() {
			done(nil, true)
			return
		}
		switch f {
		case FaultIOFailure:
			done(new(T), true)
			return
		case FaultNilPayload:
			done(nil, false)
			return
		}
		res, err := work(p.ctx, f)
		if err != nil {
			p.log.Warn("call failed", "call", call, "call_id", uint64(id), "error", err)
			done(nil, true)
			return
		}
		p.log.Debug("call completed", "call", call, "call_id", uint64(id), "fault", f.String())
		done(res, false)
		if f == FaultDuplicate {
			done(res, false)
		}
	}()
	return id
}

// sleep waits out the configured latency. It reports false when closed meanwhile.
func (p *Platform) sleep() bool {
	if p.cfg.Latency <= 0 {
		return p.ctx.Err() == nil
	}
	t := time.NewTimer(p.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// after runs fn after the configured latency on a tracked goroutine.
func (p *Platform) after(fn func()) {
	if !p.track() {
		return
	}
	go func() {
		defer p.wg.Done()
		if p.sleep() {
			fn()
		}
	}()
}

func hash64(parts ...string) uint64 {
	h := fnv.New64a()
	for _, s := range parts {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func (p *Platform) gameID(f Fault) uint64 {
	if f == FaultMismatch {
		return uint64(p.cfg.AppID) + 1
	}
	return uint64(p.cfg.AppID)
}

var (
	_ platform.UserStats     = (*Platform)(nil)
	_ platform.RemoteStorage = (*Platform)(nil)
	_ platform.Friends       = (*Platform)(nil)
	_ platform.Utils         = (*Platform)(nil)
	_ platform.User          = (*Platform)(nil)
)

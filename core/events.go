package core

import "time"

// EventType enumerates request lifecycle events.
type EventType string

const (
	EventRequestDispatched EventType = "request_dispatched"
	EventRequestCompleted  EventType = "request_completed"
	EventRequestFailed     EventType = "request_failed"
	EventRequestDiscarded  EventType = "request_discarded"
	EventAvatarCacheHit    EventType = "avatar_cache_hit"
)

// AllEventTypes lists every lifecycle event type, in publish order.
var AllEventTypes = []EventType{
	EventRequestDispatched,
	EventRequestCompleted,
	EventRequestFailed,
	EventRequestDiscarded,
	EventAvatarCacheHit,
}

// Event represents an immutable lifecycle event.
type Event struct {
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	RequestID string         `json:"request_id,omitempty"`
	Op        string         `json:"op"`
	CallID    uint64         `json:"call_id,omitempty"`
	Kind      Kind           `json:"kind,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewDispatched(requestID, op string, call uint64) Event {
	return Event{Type: EventRequestDispatched, Time: time.Now().UTC(), RequestID: requestID, Op: op, CallID: call}
}

func NewCompleted(requestID, op string, call uint64, took time.Duration) Event {
	return Event{Type: EventRequestCompleted, Time: time.Now().UTC(), RequestID: requestID, Op: op, CallID: call, Duration: took}
}

func NewFailed(requestID, op string, call uint64, err *Error, took time.Duration) Event {
	ev := Event{Type: EventRequestFailed, Time: time.Now().UTC(), RequestID: requestID, Op: op, CallID: call, Duration: took}
	if err != nil {
		ev.Kind = err.Kind
		ev.Reason = err.Error()
		if err.Step != "" {
			ev.Metadata = map[string]any{"step": err.Step, "completed_steps": err.Completed}
		}
	}
	return ev
}

func NewDiscarded(requestID, op string, call uint64) Event {
	return Event{Type: EventRequestDiscarded, Time: time.Now().UTC(), RequestID: requestID, Op: op, CallID: call}
}

func NewAvatarCacheHit(subject SubjectID, size AvatarSize) Event {
	return Event{
		Type:     EventAvatarCacheHit,
		Time:     time.Now().UTC(),
		Op:       "GetAvatar",
		Metadata: map[string]any{"subject": string(subject), "size": size.String()},
	}
}

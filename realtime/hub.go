package realtime

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"

	"salkit/core"
)

// Hub fans lifecycle events out to buffered subscriber channels.
// Slow subscribers lose events instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	next    int
	dropped atomic.Uint64
}

type subscriber struct {
	ch    chan core.Event
	types []core.EventType
}

func (s *subscriber) wants(t core.EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

func NewHub() *Hub { return &Hub{subs: map[int]*subscriber{}} }

// Subscribe registers a channel with the given buffer. When types is non-empty
// only events of those types are delivered.
func (h *Hub) Subscribe(buffer int, types ...core.EventType) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	sub := &subscriber{ch: make(chan core.Event, buffer), types: slices.Clone(types)}
	h.subs[id] = sub
	return id, sub.ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}

// ParseTypes maps raw names to known event types, skipping unknown ones.
func ParseTypes(names []string) []core.EventType {
	var out []core.EventType
	for _, n := range names {
		t := core.EventType(n)
		if slices.Contains(core.AllEventTypes, t) {
			out = append(out, t)
		}
	}
	return out
}

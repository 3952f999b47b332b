package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"salkit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// AnyEvent subscribes a handler to every event type.
const AnyEvent core.EventType = "*"

const (
	asyncQueueSize = 2048
	asyncWorkers   = 4
)

type subscription struct {
	id int64
	fn func(context.Context, core.Event)
}

// EventBus fans lifecycle events out to subscribers. Handlers of one type run
// in subscription order, followed by AnyEvent handlers. A panicking handler is
// logged and does not stop the others.
type EventBus struct {
	mode DispatchMode
	log  *slog.Logger

	mu     sync.RWMutex
	subs   map[core.EventType][]subscription
	nextID int64

	queue     chan core.Event
	dropped   atomic.Uint64
	closed    atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewEventBus(mode DispatchMode) *EventBus {
	eb := &EventBus{
		mode: mode,
		log:  slog.Default(),
		subs: make(map[core.EventType][]subscription),
	}
	if mode == DispatchAsync {
		eb.queue = make(chan core.Event, asyncQueueSize)
		for range asyncWorkers {
			eb.wg.Add(1)
			go eb.work()
		}
	}
	return eb
}

// SetLogger replaces the logger used to report handler panics.
func (e *EventBus) SetLogger(l *slog.Logger) {
	if l != nil {
		e.log = l
	}
}

func (e *EventBus) work() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.dispatch(context.Background(), ev)
	}
}

// Close stops accepting events. In async mode queued events are still
// delivered before Close returns.
func (e *EventBus) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed.Store(true)
		if e.queue != nil {
			close(e.queue)
		}
		e.mu.Unlock()
		e.wg.Wait()
	})
}

// Subscribe registers a handler for an event type, or AnyEvent. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.subs[typ] = append(e.subs[typ], subscription{id: id, fn: handler})
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.subs[typ] = slices.DeleteFunc(e.subs[typ], func(s subscription) bool { return s.id == id })
		})
	}
}

// Publish sends an event to subscribers. In async mode a full queue drops the
// event. Events published after Close are dropped.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode != DispatchAsync {
		if e.closed.Load() {
			e.dropped.Add(1)
			return
		}
		e.dispatch(ctx, ev)
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded on a full queue or after Close.
func (e *EventBus) Dropped() uint64 { return e.dropped.Load() }

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	handlers := make([]func(context.Context, core.Event), 0, len(e.subs[ev.Type])+len(e.subs[AnyEvent]))
	for _, s := range e.subs[ev.Type] {
		handlers = append(handlers, s.fn)
	}
	if ev.Type != AnyEvent {
		for _, s := range e.subs[AnyEvent] {
			handlers = append(handlers, s.fn)
		}
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		e.call(ctx, h, ev)
	}
}

func (e *EventBus) call(ctx context.Context, h func(context.Context, core.Event), ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked", "type", ev.Type, "op", ev.Op, "panic", r)
		}
	}()
	h(ctx, ev)
}

package engine

import (
	"context"
	"log/slog"
	"sync"
)

// Runtime ties the delivery loop, the lifecycle event bus and in-flight
// accounting together. One Runtime serves any number of requests.
type Runtime struct {
	loop    *Loop
	bus     *EventBus
	ownsBus bool
	log     *slog.Logger

	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	mode DeliveryMode
	bus  *EventBus
	log  *slog.Logger
}

func WithDeliveryMode(m DeliveryMode) RuntimeOption {
	return func(o *runtimeOptions) { o.mode = m }
}

// WithBus publishes lifecycle events to an external bus. The runtime does not close it.
func WithBus(b *EventBus) RuntimeOption {
	return func(o *runtimeOptions) { o.bus = b }
}

func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOptions) { o.log = l }
}

func NewRuntime(opts ...RuntimeOption) *Runtime {
	o := runtimeOptions{mode: DeliverQueued}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	rt := &Runtime{log: o.log, bus: o.bus}
	if rt.bus == nil {
		rt.bus = NewEventBus(DispatchSync)
		rt.bus.SetLogger(o.log)
		rt.ownsBus = true
	}
	rt.loop = NewLoop(o.mode, o.log)
	return rt
}

func (r *Runtime) Loop() *Loop { return r.loop }
func (r *Runtime) Bus() *EventBus { return r.bus }
func (r *Runtime) Logger() *slog.Logger { return r.log }
func (r *Runtime) Mode() DeliveryMode { return r.loop.Mode() }
func (r *Runtime) Drain() int { return r.loop.Drain() }

// InFlight returns the number of requests not yet torn down.
func (r *Runtime) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

func (r *Runtime) acquire() {
	r.mu.Lock()
	if r.inflight == 0 {
		r.idle = make(chan struct{})
	}
	r.inflight++
	r.mu.Unlock()
}

func (r *Runtime) release() {
	r.mu.Lock()
	r.inflight--
	if r.inflight == 0 {
		close(r.idle)
	}
	r.mu.Unlock()
}

// Wait blocks until every request has been torn down or ctx ends. In manual
// mode the caller must keep draining from another goroutine.
func (r *Runtime) Wait(ctx context.Context) error {
	r.mu.Lock()
	if r.inflight == 0 {
		r.mu.Unlock()
		return nil
	}
	ch := r.idle
	r.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the delivery loop after running queued deliveries.
func (r *Runtime) Close() {
	r.loop.Close()
	if r.ownsBus {
		r.bus.Close()
	}
}

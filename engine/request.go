package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"salkit/core"
	"salkit/platform"
)

// State is the lifecycle state of one request.
type State int32

const (
	StateCreated State = iota
	StateDispatched
	StateAwaitingCallback
	StateCompleted
	StateFailed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDispatched:
		return "dispatched"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// Callbacks receive the outcome of a request on the delivery context. Exactly
// one of them runs, unless the owner is gone and the result is discarded.
type Callbacks[T any] struct {
	OnSuccess func(T)
	OnFailure func(*core.Error)
}

// Handle observes one request. It is returned before the request completes.
type Handle struct {
	id        string
	op        string
	call      atomic.Uint64
	state     atomic.Int32
	started   time.Time
	done      chan struct{}
	err       *core.Error
	discarded bool
}

func (h *Handle) ID() string { return h.id }
func (h *Handle) Op() string { return h.op }
func (h *Handle) CallID() platform.CallID { return platform.CallID(h.call.Load()) }
func (h *Handle) State() State { return State(h.state.Load()) }
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the delivered failure once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
	default:
		return nil
	}
	if h.err == nil || h.discarded {
		return nil
	}
	return h.err
}

// Discarded reports whether the result was dropped because the owner was gone.
func (h *Handle) Discarded() bool {
	select {
	case <-h.done:
		return h.discarded
	default:
		return false
	}
}

// Wait blocks until the request is torn down or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) advance(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}

// Operation describes one platform call/callback pair.
type Operation[In, Raw, Out any] struct {
	Name string
	// Validate returns the immutable input snapshot used for the call.
	Validate func(In) (In, error)
	// Ready reports ServiceUnavailable before anything is dispatched.
	Ready func() error
	// Call issues exactly one external call and returns its token.
	Call func(in In, done platform.Completion[Raw]) platform.CallID
	// Extract turns a delivered payload into the typed result or a logical failure.
	Extract func(in In, raw *Raw) (Out, error)
}

// ErrOwnerGone aborts work whose owner was destroyed. It is never delivered.
var ErrOwnerGone = errors.New("owner destroyed")

type outcome[Out any] struct {
	val Out
	err *core.Error
}

// request carries the bookkeeping shared by Submit and SubmitFunc.
type request[Out any] struct {
	rt      *Runtime
	h       *Handle
	owner   OwnerRef
	cb      Callbacks[Out]
	settled sync.Once
}

func newRequest[Out any](rt *Runtime, name string, owner OwnerRef, cb Callbacks[Out]) *request[Out] {
	rt.acquire()
	h := &Handle{id: uuid.NewString(), op: name, started: time.Now(), done: make(chan struct{})}
	return &request[Out]{rt: rt, h: h, owner: owner, cb: cb}
}

// settle records the outcome once and marshals delivery onto the loop.
// Later calls are ignored and reported as duplicates.
func (r *request[Out]) settle(o outcome[Out]) bool {
	first := false
	r.settled.Do(func() {
		first = true
		if o.err != nil {
			r.h.state.Store(int32(StateFailed))
			r.h.err = o.err
		} else {
			r.h.state.Store(int32(StateCompleted))
		}
		if !r.rt.loop.Post(func() { r.deliver(o) }) {
			r.teardown(true)
		}
	})
	if !first {
		r.rt.log.Warn("duplicate completion ignored", "op", r.h.op, "request_id", r.h.id)
	}
	return first
}

func (r *request[Out]) deliver(o outcome[Out]) {
	if (o.err != nil && errors.Is(o.err, ErrOwnerGone)) || !r.owner.IsAlive() {
		r.teardown(true)
		return
	}
	if o.err != nil {
		r.rt.log.Warn("request failed", "op", r.h.op, "request_id", r.h.id, "kind", string(o.err.Kind), "error", o.err.Error())
		if r.cb.OnFailure != nil {
			r.cb.OnFailure(o.err)
		}
	} else {
		r.rt.log.Debug("request completed", "op", r.h.op, "request_id", r.h.id)
		if r.cb.OnSuccess != nil {
			r.cb.OnSuccess(o.val)
		}
	}
	r.teardown(false)
}

func (r *request[Out]) teardown(discarded bool) {
	h := r.h
	took := time.Since(h.started)
	call := h.call.Load()
	var ev core.Event
	switch {
	case discarded:
		ev = core.NewDiscarded(h.id, h.op, call)
		r.rt.log.Debug("result discarded", "op", h.op, "request_id", h.id)
	case h.err != nil:
		ev = core.NewFailed(h.id, h.op, call, h.err, took)
	default:
		ev = core.NewCompleted(h.id, h.op, call, took)
	}
	h.discarded = discarded
	h.state.Store(int32(StateDestroyed))
	close(h.done)
	r.rt.bus.Publish(context.Background(), ev)
	r.rt.release()
}

func (r *request[Out]) fail(err *core.Error) { r.settle(outcome[Out]{err: err}) }

func (r *request[Out]) dispatched(call platform.CallID) {
	r.h.call.Store(uint64(call))
	r.rt.bus.Publish(context.Background(), core.NewDispatched(r.h.id, r.h.op, uint64(call)))
	r.rt.log.Debug("request dispatched", "op", r.h.op, "request_id", r.h.id, "call_id", uint64(call))
}

// Submit validates in, issues the operation's call and returns immediately.
// The outcome reaches cb on the runtime's delivery context.
func Submit[In, Raw, Out any](rt *Runtime, owner OwnerRef, op Operation[In, Raw, Out], in In, cb Callbacks[Out]) *Handle {
	r := newRequest(rt, op.Name, owner, cb)
	if op.Validate != nil {
		v, err := op.Validate(in)
		if err != nil {
			r.fail(asKind(op.Name, core.KindValidation, err))
			return r.h
		}
		in = v
	}
	if op.Ready != nil {
		if err := op.Ready(); err != nil {
			r.fail(asKind(op.Name, core.KindUnavailable, err))
			return r.h
		}
	}

	var (
		mu        sync.Mutex
		issued    bool
		arrived   bool
		rawResult *Raw
		rawIO     bool
	)
	complete := func() {
		if rawResult == nil || rawIO {
			r.fail(core.Transport(op.Name, "io failure or empty payload"))
			return
		}
		out, err := op.Extract(in, rawResult)
		if err != nil {
			r.fail(asKind(op.Name, core.KindLogical, err))
			return
		}
		r.settle(outcome[Out]{val: out})
	}

	r.h.advance(StateCreated, StateDispatched)
	call := op.Call(in, func(raw *Raw, ioFailure bool) {
		mu.Lock()
		if arrived {
			mu.Unlock()
			rt.log.Warn("duplicate completion ignored", "op", op.Name, "request_id", r.h.id)
			return
		}
		arrived = true
		rawResult, rawIO = raw, ioFailure
		ready := issued
		mu.Unlock()
		if ready {
			complete()
		}
	})

	mu.Lock()
	issued = true
	early := arrived
	mu.Unlock()
	if !call.Valid() {
		r.fail(core.Rejected(op.Name, "platform returned an invalid call handle"))
		return r.h
	}
	r.dispatched(call)
	r.h.advance(StateDispatched, StateAwaitingCallback)
	if early {
		complete()
	}
	return r.h
}

// Job is work that completes from code rather than one platform callback,
// such as a cache lookup with polling or a multi-step pipeline.
type Job[In, Out any] struct {
	Name     string
	Validate func(In) (In, error)
	Ready    func() error
	// Run must eventually call finish. Extra calls are ignored.
	Run func(in In, owner OwnerRef, finish func(Out, error))
}

// SubmitFunc runs job with the same lifecycle and delivery guarantees as Submit.
func SubmitFunc[In, Out any](rt *Runtime, owner OwnerRef, job Job[In, Out], in In, cb Callbacks[Out]) *Handle {
	r := newRequest(rt, job.Name, owner, cb)
	if job.Validate != nil {
		v, err := job.Validate(in)
		if err != nil {
			r.fail(asKind(job.Name, core.KindValidation, err))
			return r.h
		}
		in = v
	}
	if job.Ready != nil {
		if err := job.Ready(); err != nil {
			r.fail(asKind(job.Name, core.KindUnavailable, err))
			return r.h
		}
	}
	r.h.advance(StateCreated, StateDispatched)
	r.dispatched(platform.InvalidCall)
	r.h.advance(StateDispatched, StateAwaitingCallback)
	job.Run(in, owner, func(out Out, err error) {
		if err != nil {
			if errors.Is(err, ErrOwnerGone) {
				r.settle(outcome[Out]{err: &core.Error{Kind: core.KindLogical, Op: job.Name, Reason: "owner gone", Err: err}})
				return
			}
			r.fail(asKind(job.Name, core.KindLogical, err))
			return
		}
		r.settle(outcome[Out]{val: out})
	})
	return r.h
}

// asKind keeps a *core.Error as is and wraps anything else with the given kind.
func asKind(op string, kind core.Kind, err error) *core.Error {
	var e *core.Error
	if errors.As(err, &e) {
		if e.Op == "" {
			cp := *e
			cp.Op = op
			return &cp
		}
		return e
	}
	return &core.Error{Kind: kind, Op: op, Reason: err.Error()}
}

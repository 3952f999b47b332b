package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salkit/core"
	"salkit/platform"
)

type echoRaw struct {
	ok    bool
	value int
}

// fakeCaller records external calls and lets tests complete them by hand.
type fakeCaller struct {
	ids     platform.CallIDs
	mu      sync.Mutex
	calls   int
	pending []platform.Completion[echoRaw]
	invalid bool
	inline  *echoRaw
}

func (f *fakeCaller) call(in int, done platform.Completion[echoRaw]) platform.CallID {
	f.mu.Lock()
	f.calls++
	f.pending = append(f.pending, done)
	inline := f.inline
	f.mu.Unlock()
	if f.invalid {
		return platform.InvalidCall
	}
	if inline != nil {
		done(inline, false)
	}
	return f.ids.Next()
}

func (f *fakeCaller) complete(raw *echoRaw, ioFailure bool) {
	f.mu.Lock()
	done := f.pending[len(f.pending)-1]
	f.mu.Unlock()
	done(raw, ioFailure)
}

func echoOp(f *fakeCaller) Operation[int, echoRaw, int] {
	return Operation[int, echoRaw, int]{
		Name: "Echo",
		Validate: func(in int) (int, error) {
			if in < 0 {
				return 0, errors.New("negative input")
			}
			return in, nil
		},
		Call: f.call,
		Extract: func(in int, raw *echoRaw) (int, error) {
			if !raw.ok {
				return 0, core.Logical("", "platform said no")
			}
			return raw.value + in, nil
		},
	}
}

type recorder struct {
	mu       sync.Mutex
	success  []int
	failures []*core.Error
}

func (r *recorder) callbacks() Callbacks[int] {
	return Callbacks[int]{
		OnSuccess: func(v int) { r.mu.Lock(); r.success = append(r.success, v); r.mu.Unlock() },
		OnFailure: func(e *core.Error) { r.mu.Lock(); r.failures = append(r.failures, e); r.mu.Unlock() },
	}
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.success), len(r.failures)
}

func manualRuntime() *Runtime { return NewRuntime(WithDeliveryMode(DeliverManual)) }

func TestSubmitSuccessDeliveredOnLoop(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{}
	rec := &recorder{}
	owner := NewLifetime()
	defer owner.Destroy()
	h := Submit(rt, Ref(owner), echoOp(f), 2, rec.callbacks())
	if h.State() != StateAwaitingCallback {
		t.Fatalf("state %v", h.State())
	}
	if !h.CallID().Valid() {
		t.Fatal("expected a valid call id")
	}
	f.complete(&echoRaw{ok: true, value: 40}, false)
	if s, _ := rec.counts(); s != 0 {
		t.Fatal("delivered off the loop")
	}
	if h.State() != StateCompleted {
		t.Fatalf("state %v", h.State())
	}
	rt.Drain()
	if rec.success[0] != 42 {
		t.Fatalf("got %v", rec.success)
	}
	if h.State() != StateDestroyed || h.Err() != nil {
		t.Fatalf("state %v err %v", h.State(), h.Err())
	}
	if rt.InFlight() != 0 {
		t.Fatalf("in flight %d", rt.InFlight())
	}
}

func TestSubmitValidationMakesNoCall(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{}
	rec := &recorder{}
	owner := NewLifetime()
	defer owner.Destroy()
	h := Submit(rt, Ref(owner), echoOp(f), -1, rec.callbacks())
	rt.Drain()
	if f.calls != 0 {
		t.Fatalf("external calls: %d", f.calls)
	}
	s, fl := rec.counts()
	if s != 0 || fl != 1 || rec.failures[0].Kind != core.KindValidation {
		t.Fatalf("unexpected outcome %d %v", s, rec.failures)
	}
	if !errors.Is(h.Err(), core.KindValidation) {
		t.Fatalf("handle err %v", h.Err())
	}
}

func TestSubmitUnavailable(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{}
	rec := &recorder{}
	op := echoOp(f)
	op.Ready = func() error { return core.Unavailable("", "user stats not initialized") }
	owner := NewLifetime()
	defer owner.Destroy()
	Submit(rt, Ref(owner), op, 1, rec.callbacks())
	rt.Drain()
	if f.calls != 0 || len(rec.failures) != 1 || rec.failures[0].Kind != core.KindUnavailable {
		t.Fatalf("calls %d failures %v", f.calls, rec.failures)
	}
	if rec.failures[0].Op != "Echo" {
		t.Fatalf("op not filled: %q", rec.failures[0].Op)
	}
}

func TestSubmitInvalidCallRejected(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{invalid: true}
	rec := &recorder{}
	owner := NewLifetime()
	defer owner.Destroy()
	Submit(rt, Ref(owner), echoOp(f), 1, rec.callbacks())
	rt.Drain()
	if len(rec.failures) != 1 || rec.failures[0].Kind != core.KindRejected {
		t.Fatalf("failures %v", rec.failures)
	}
}

func TestSubmitTransportAndLogicalFailures(t *testing.T) {
	rt := manualRuntime()
	owner := NewLifetime()
	defer owner.Destroy()
	cases := []struct {
		name string
		raw  *echoRaw
		io   bool
		want core.Kind
	}{
		{"nil payload", nil, false, core.KindTransport},
		{"io failure with data", &echoRaw{ok: true, value: 1}, true, core.KindTransport},
		{"logical", &echoRaw{ok: false}, false, core.KindLogical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeCaller{}
			rec := &recorder{}
			Submit(rt, Ref(owner), echoOp(f), 1, rec.callbacks())
			f.complete(tc.raw, tc.io)
			rt.Drain()
			s, fl := rec.counts()
			if s != 0 || fl != 1 || rec.failures[0].Kind != tc.want {
				t.Fatalf("success %d failures %v", s, rec.failures)
			}
		})
	}
}

func TestSubmitDoubleCallbackDeliversOnce(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{}
	rec := &recorder{}
	owner := NewLifetime()
	defer owner.Destroy()
	var events atomic.Int32
	rt.Bus().Subscribe(core.EventRequestCompleted, func(context.Context, core.Event) { events.Add(1) })
	Submit(rt, Ref(owner), echoOp(f), 0, rec.callbacks())
	f.complete(&echoRaw{ok: true, value: 1}, false)
	f.complete(&echoRaw{ok: false}, false)
	rt.Drain()
	rt.Drain()
	s, fl := rec.counts()
	if s != 1 || fl != 0 {
		t.Fatalf("success %d failure %d", s, fl)
	}
	if events.Load() != 1 {
		t.Fatalf("teardown events %d", events.Load())
	}
}

func TestSubmitCompletionBeforeCallReturns(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{inline: &echoRaw{ok: true, value: 5}}
	rec := &recorder{}
	owner := NewLifetime()
	defer owner.Destroy()
	h := Submit(rt, Ref(owner), echoOp(f), 1, rec.callbacks())
	rt.Drain()
	if len(rec.success) != 1 || rec.success[0] != 6 {
		t.Fatalf("got %v", rec.success)
	}
	if !h.CallID().Valid() {
		t.Fatal("call id not recorded")
	}
}

func TestSubmitDeadOwnerDiscards(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{}
	rec := &recorder{}
	owner := NewLifetime()
	defer owner.Destroy()
	h := Submit(rt, Ref(owner), echoOp(f), 1, rec.callbacks())
	f.complete(&echoRaw{ok: true}, false)
	owner.Destroy()
	rt.Drain()
	s, fl := rec.counts()
	if s != 0 || fl != 0 {
		t.Fatalf("delivered to dead owner: %d %d", s, fl)
	}
	if !h.Discarded() || h.State() != StateDestroyed {
		t.Fatalf("discarded %v state %v", h.Discarded(), h.State())
	}
}

func TestSubmitCollectedOwnerDiscards(t *testing.T) {
	rt := manualRuntime()
	f := &fakeCaller{}
	rec := &recorder{}
	ref := func() OwnerRef { return Ref(NewLifetime()) }()
	h := Submit(rt, ref, echoOp(f), 1, rec.callbacks())
	runtime.GC()
	runtime.GC()
	f.complete(&echoRaw{ok: true}, false)
	rt.Drain()
	if s, fl := rec.counts(); s != 0 || fl != 0 {
		t.Fatalf("delivered to collected owner: %d %d", s, fl)
	}
	if !h.Discarded() {
		t.Fatal("expected discard")
	}
}

func TestSubmitFuncAndWait(t *testing.T) {
	rt := NewRuntime()
	defer rt.Close()
	owner := NewLifetime()
	defer owner.Destroy()
	got := make(chan string, 1)
	job := Job[string, string]{
		Name: "Upper",
		Run: func(in string, _ OwnerRef, finish func(string, error)) {
			go finish(in+"!", nil)
		},
	}
	h := SubmitFunc(rt, Ref(owner), job, "hi", Callbacks[string]{OnSuccess: func(s string) { got <- s }})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if v := <-got; v != "hi!" {
		t.Fatalf("got %q", v)
	}
	if err := rt.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitFuncOwnerGoneIsSilent(t *testing.T) {
	rt := manualRuntime()
	owner := NewLifetime()
	defer owner.Destroy()
	called := false
	job := Job[int, int]{
		Name: "Gone",
		Run:  func(_ int, _ OwnerRef, finish func(int, error)) { finish(0, ErrOwnerGone) },
	}
	h := SubmitFunc(rt, Ref(owner), job, 0, Callbacks[int]{
		OnSuccess: func(int) { called = true },
		OnFailure: func(*core.Error) { called = true },
	})
	rt.Drain()
	if called || !h.Discarded() {
		t.Fatalf("called %v discarded %v", called, h.Discarded())
	}
}

package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollTimeoutAfterMaxAttempts(t *testing.T) {
	owner := NewLifetime()
	defer owner.Destroy()
	var checks, ready, timeouts atomic.Int32
	cfg := PollConfig{Interval: time.Millisecond, MaxAttempts: 30}
	p, err := StartPolling(context.Background(), Ref(owner), cfg,
		func() bool { checks.Add(1); return false },
		func() { ready.Add(1) },
		func() { timeouts.Add(1) },
	)
	if err != nil {
		t.Fatal(err)
	}
	<-p.Done()
	if checks.Load() != 30 || p.Attempts() != 30 {
		t.Fatalf("checks %d attempts %d", checks.Load(), p.Attempts())
	}
	if timeouts.Load() != 1 || ready.Load() != 0 {
		t.Fatalf("timeouts %d ready %d", timeouts.Load(), ready.Load())
	}
}

func TestPollReadyStopsEarly(t *testing.T) {
	owner := NewLifetime()
	defer owner.Destroy()
	var checks, ready, timeouts atomic.Int32
	p, err := StartPolling(context.Background(), Ref(owner), PollConfig{Interval: time.Millisecond, MaxAttempts: 30},
		func() bool { return checks.Add(1) == 3 },
		func() { ready.Add(1) },
		func() { timeouts.Add(1) },
	)
	if err != nil {
		t.Fatal(err)
	}
	<-p.Done()
	if checks.Load() != 3 || ready.Load() != 1 || timeouts.Load() != 0 {
		t.Fatalf("checks %d ready %d timeouts %d", checks.Load(), ready.Load(), timeouts.Load())
	}
}

func TestPollCancelledByOwner(t *testing.T) {
	owner := NewLifetime()
	defer owner.Destroy()
	var fired atomic.Int32
	p, err := StartPolling(context.Background(), Ref(owner), PollConfig{Interval: 20 * time.Millisecond, MaxAttempts: 30},
		func() bool { fired.Add(1); return false },
		func() { fired.Add(100) },
		func() { fired.Add(100) },
	)
	if err != nil {
		t.Fatal(err)
	}
	owner.Destroy()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	if fired.Load() != 0 {
		t.Fatalf("ticked against a dead owner: %d", fired.Load())
	}
}

func TestPollConfigValidate(t *testing.T) {
	if err := DefaultPollConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	if _, err := StartPolling(context.Background(), Detached(), PollConfig{}, nil, nil, nil); err == nil {
		t.Fatal("expected invalid config error")
	}
}

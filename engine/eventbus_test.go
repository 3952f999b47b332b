package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"salkit/core"
)

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	bus.Subscribe(core.EventRequestCompleted, func(ctx context.Context, e core.Event) { count++ })
	bus.Publish(context.Background(), core.NewCompleted("r1", "FindLeaderboard", 7, time.Millisecond))
	bus.Publish(context.Background(), core.NewDispatched("r1", "FindLeaderboard", 7))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventRequestFailed, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), core.NewFailed("r2", "UploadScore", 3, core.Logical("UploadScore", "rejected"), 0))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusWildcardAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	var seen []core.EventType
	unsub := bus.Subscribe(AnyEvent, func(ctx context.Context, e core.Event) { seen = append(seen, e.Type) })
	bus.Publish(context.Background(), core.NewDispatched("r", "op", 1))
	bus.Publish(context.Background(), core.NewDiscarded("r", "op", 1))
	unsub()
	bus.Publish(context.Background(), core.NewCompleted("r", "op", 1, 0))
	if len(seen) != 2 || seen[0] != core.EventRequestDispatched || seen[1] != core.EventRequestDiscarded {
		t.Fatalf("unexpected events %v", seen)
	}
}

func TestEventBusOrderAndPanicIsolation(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	var order []string
	bus.Subscribe(AnyEvent, func(context.Context, core.Event) { order = append(order, "any") })
	bus.Subscribe(core.EventRequestCompleted, func(context.Context, core.Event) { order = append(order, "first") })
	bus.Subscribe(core.EventRequestCompleted, func(context.Context, core.Event) { panic("boom") })
	bus.Subscribe(core.EventRequestCompleted, func(context.Context, core.Event) { order = append(order, "third") })

	bus.Publish(context.Background(), core.NewCompleted("r", "op", 1, 0))
	if len(order) != 3 || order[0] != "first" || order[1] != "third" || order[2] != "any" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestEventBusCloseFlushesQueue(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	var n atomic.Int32
	bus.Subscribe(core.EventRequestDispatched, func(context.Context, core.Event) { n.Add(1) })
	for i := 0; i < 100; i++ {
		bus.Publish(context.Background(), core.NewDispatched("r", "op", uint64(i)))
	}
	bus.Close()
	if got := n.Load(); got != 100 {
		t.Fatalf("want 100 delivered before close returns, got %d", got)
	}
	bus.Publish(context.Background(), core.NewDispatched("r", "op", 0))
	if bus.Dropped() != 1 {
		t.Fatalf("want 1 dropped after close, got %d", bus.Dropped())
	}
	bus.Close()
}

package engine

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestLoopManualDrainRunsInOrder(t *testing.T) {
	l := NewLoop(DeliverManual, nil)
	var got []int
	for i := 0; i < 5; i++ {
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatal("post rejected")
		}
	}
	if len(got) != 0 {
		t.Fatal("manual loop ran tasks before Drain")
	}
	if n := l.Drain(); n != 5 {
		t.Fatalf("drained %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order: %v", got)
		}
	}
}

func TestLoopQueuedSingleGoroutine(t *testing.T) {
	l := NewLoop(DeliverQueued, nil)
	defer l.Close()
	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go l.Post(func() {
			defer wg.Done()
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()
			runtime.Gosched()
			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("tasks overlapped: %d", maxSeen)
	}
}

func TestLoopCloseRunsPendingAndRejects(t *testing.T) {
	l := NewLoop(DeliverQueued, nil)
	ran := make(chan struct{}, 1)
	l.Post(func() {
		time.Sleep(5 * time.Millisecond)
		ran <- struct{}{}
	})
	l.Close()
	select {
	case <-ran:
	default:
		t.Fatal("pending task did not run before Close returned")
	}
	if l.Post(func() {}) {
		t.Fatal("post accepted after close")
	}
	l.Close()
}

func TestLoopRecoversPanics(t *testing.T) {
	l := NewLoop(DeliverManual, nil)
	after := false
	l.Post(func() { panic("boom") })
	l.Post(func() { after = true })
	l.Drain()
	if !after {
		t.Fatal("panic stopped the loop")
	}
}

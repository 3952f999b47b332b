package engine

import (
	"log/slog"
	"sync"
)

// DeliveryMode selects who runs the delivery context.
type DeliveryMode int

const (
	// DeliverQueued runs deliveries on a dedicated goroutine.
	DeliverQueued DeliveryMode = iota
	// DeliverManual leaves deliveries queued until the host calls Drain, e.g. once per frame.
	DeliverManual
)

func (m DeliveryMode) String() string {
	if m == DeliverManual {
		return "manual"
	}
	return "queued"
}

// Loop is the single delivery context. Tasks posted to it run one at a time in
// post order. Posting never blocks and never drops while the loop is open.
type Loop struct {
	mode    DeliveryMode
	log     *slog.Logger
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	// drainMu serializes Drain so manual pumping stays single-threaded.
	drainMu sync.Mutex
}

func NewLoop(mode DeliveryMode, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		mode:    mode,
		log:     log,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	if mode == DeliverQueued {
		go l.run()
	} else {
		close(l.stopped)
	}
	return l
}

func (l *Loop) Mode() DeliveryMode { return l.mode }

// Post queues fn for the delivery context. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Drain runs every task queued so far and returns how many ran. Tasks posted
// while draining run on the next Drain.
func (l *Loop) Drain() int {
	l.drainMu.Lock()
	defer l.drainMu.Unlock()
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range batch {
		l.runTask(fn)
	}
	return len(batch)
}

func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("delivery task panicked", "panic", r)
		}
	}()
	fn()
}

func (l *Loop) run() {
	defer close(l.stopped)
	for range l.wake {
		for l.Drain() > 0 {
		}
		l.mu.Lock()
		done := l.closed && len(l.pending) == 0
		l.mu.Unlock()
		if done {
			return
		}
	}
}

// Close stops accepting tasks and runs what is still queued. In queued mode it
// waits for the loop goroutine to finish.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return
	}
	l.closed = true
	l.mu.Unlock()
	if l.mode == DeliverManual {
		for l.Drain() > 0 {
		}
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.stopped
}

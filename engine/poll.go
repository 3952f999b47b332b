package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// PollConfig bounds a polling session.
type PollConfig struct {
	Interval    time.Duration `json:"interval" yaml:"interval"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
}

func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 100 * time.Millisecond, MaxAttempts: 30}
}

func (c PollConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("poll max attempts must be positive")
	}
	return nil
}

// Poller is one bounded polling session. At most one of onReady and onTimeout
// fires. A destroyed owner, a done context or Stop cancels without firing.
type Poller struct {
	attempts atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartPolling ticks every cfg.Interval. Each tick increments the attempt
// count then calls check. Once cfg.MaxAttempts checks have failed, onTimeout
// fires right away.
func StartPolling(ctx context.Context, owner OwnerRef, cfg PollConfig, check func() bool, onReady, onTimeout func()) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Poller{stop: make(chan struct{}), done: make(chan struct{})}
	b := retry.WithMaxRetries(uint64(cfg.MaxAttempts), retry.NewConstant(cfg.Interval))
	go p.run(ctx, owner, b, check, onReady, onTimeout)
	return p, nil
}

func (p *Poller) run(ctx context.Context, owner OwnerRef, b retry.Backoff, check func() bool, onReady, onTimeout func()) {
	defer close(p.done)
	for {
		next, stop := b.Next()
		if stop {
			if owner.IsAlive() {
				onTimeout()
			}
			return
		}
		t := time.NewTimer(next)
		select {
		case <-t.C:
		case <-owner.Done():
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		case <-p.stop:
			t.Stop()
			return
		}
		if !owner.IsAlive() {
			return
		}
		p.attempts.Add(1)
		if check() {
			onReady()
			return
		}
	}
}

// Attempts returns the number of checks made so far.
func (p *Poller) Attempts() int { return int(p.attempts.Load()) }

// Stop cancels the session before its next tick.
func (p *Poller) Stop() { p.stopOnce.Do(func() { close(p.stop) }) }

// Done is closed when the session ends for any reason.
func (p *Poller) Done() <-chan struct{} { return p.done }

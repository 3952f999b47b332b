package engine

import (
	"context"
	"sync"
	"weak"
)

// Lifetime is an owner object. Results addressed to a destroyed or collected
// Lifetime are discarded.
type Lifetime struct {
	once sync.Once
	done chan struct{}
}

func NewLifetime() *Lifetime {
	return &Lifetime{done: make(chan struct{})}
}

// LifetimeFromContext returns a Lifetime destroyed when ctx is done.
func LifetimeFromContext(ctx context.Context) *Lifetime {
	l := NewLifetime()
	context.AfterFunc(ctx, l.Destroy)
	return l
}

// Destroy ends the lifetime. Safe to call more than once.
func (l *Lifetime) Destroy() {
	l.once.Do(func() { close(l.done) })
}

func (l *Lifetime) Done() <-chan struct{} { return l.done }

func (l *Lifetime) Alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// OwnerRef is a non-owning reference to a Lifetime.
type OwnerRef struct {
	ptr  weak.Pointer[Lifetime]
	done <-chan struct{}
}

// Ref returns a weak reference to l. A nil l yields a dead reference.
func Ref(l *Lifetime) OwnerRef {
	if l == nil {
		return OwnerRef{}
	}
	return OwnerRef{ptr: weak.Make(l), done: l.done}
}

var detached = NewLifetime()

// Detached returns a reference to a process-wide owner that is never destroyed.
func Detached() OwnerRef { return Ref(detached) }

// IsAlive reports whether the owner still exists and has not been destroyed.
func (r OwnerRef) IsAlive() bool {
	l := r.ptr.Value()
	return l != nil && l.Alive()
}

// Done is closed when the owner is destroyed. It is nil for a zero OwnerRef,
// and never closes if the owner is collected without Destroy.
func (r OwnerRef) Done() <-chan struct{} { return r.done }

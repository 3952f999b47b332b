package engine

import (
	"errors"
	"sync"

	"salkit/core"
)

// Step is one named stage of a Pipeline. Run must call done exactly once;
// it may do so from any goroutine.
type Step[S any] struct {
	Name string
	Run  func(state *S, done func(error))
}

// Pipeline runs steps strictly in order over a shared state. The first
// failing step aborts the rest; nothing already done is undone.
type Pipeline[S any] struct {
	Op    string
	Steps []Step[S]
}

// Run starts the pipeline. finish receives nil, ErrOwnerGone, or a *core.Error
// whose Step names the failing step and Completed lists the earlier ones.
func (p Pipeline[S]) Run(state *S, owner OwnerRef, finish func(error)) {
	p.runFrom(0, state, owner, finish)
}

func (p Pipeline[S]) runFrom(i int, state *S, owner OwnerRef, finish func(error)) {
	if i == len(p.Steps) {
		finish(nil)
		return
	}
	if !owner.IsAlive() {
		finish(ErrOwnerGone)
		return
	}
	step := p.Steps[i]
	var once sync.Once
	step.Run(state, func(err error) {
		once.Do(func() {
			if err != nil {
				finish(p.stepError(i, err))
				return
			}
			p.runFrom(i+1, state, owner, finish)
		})
	})
}

func (p Pipeline[S]) stepError(i int, err error) error {
	if errors.Is(err, ErrOwnerGone) {
		return err
	}
	completed := make([]string, 0, i)
	for _, s := range p.Steps[:i] {
		completed = append(completed, s.Name)
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		cp := *ce
		cp.Op = p.Op
		cp.Step = p.Steps[i].Name
		cp.Completed = completed
		return &cp
	}
	return &core.Error{Kind: core.KindLogical, Op: p.Op, Step: p.Steps[i].Name, Completed: completed, Reason: "step failed", Err: err}
}

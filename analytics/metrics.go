package analytics

import (
	"context"

	"salkit/core"
	"salkit/engine"
)

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// Attach subscribes the hook to every event on the bus. Returns unsubscribe func.
func Attach(bus *engine.EventBus, h Hook) func() {
	return bus.Subscribe(engine.AnyEvent, func(_ context.Context, e core.Event) { h.OnEvent(e) })
}

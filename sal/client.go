// Package sal is the binding layer over the platform SDK. Every asynchronous
// operation validates its inputs, issues one platform call and delivers
// exactly one outcome on the runtime's delivery context, unless the owner is
// gone by then.
package sal

import (
	"context"
	"errors"
	"log/slog"

	"salkit/cache"
	"salkit/core"
	"salkit/engine"
	"salkit/imaging"
	"salkit/platform"
	"salkit/realtime"
)

// Callbacks receive an operation's outcome on the delivery context.
type Callbacks[T any] = engine.Callbacks[T]

// Option configures the Client builder.
type Option func(*options)

type options struct {
	services platform.Services
	rt       *engine.Runtime
	log      *slog.Logger
	avatars  *AvatarCache
	poll     engine.PollConfig
	bus      *engine.EventBus
	mode     engine.DeliveryMode
	format   imaging.PixelFormat
	hub      *realtime.Hub
}

// WithServices sets the platform services. Nil members are reported as unavailable.
func WithServices(s platform.Services) Option { return func(o *options) { o.services = s } }

// WithRuntime shares an existing runtime. The client does not close it.
func WithRuntime(rt *engine.Runtime) Option { return func(o *options) { o.rt = rt } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithAvatarCache replaces the default weak avatar cache.
func WithAvatarCache(c *AvatarCache) Option { return func(o *options) { o.avatars = c } }

// WithPollConfig bounds avatar polling.
func WithPollConfig(p engine.PollConfig) Option { return func(o *options) { o.poll = p } }

// WithEventBus publishes lifecycle events to b. Ignored with WithRuntime.
func WithEventBus(b *engine.EventBus) Option { return func(o *options) { o.bus = b } }

// WithDeliveryMode selects queued or manual delivery. Ignored with WithRuntime.
func WithDeliveryMode(m engine.DeliveryMode) Option { return func(o *options) { o.mode = m } }

// WithPixelFormat sets the byte order of avatar textures. Defaults to BGRA8.
func WithPixelFormat(f imaging.PixelFormat) Option { return func(o *options) { o.format = f } }

// WithRealtime forwards every lifecycle event to h.
func WithRealtime(h *realtime.Hub) Option { return func(o *options) { o.hub = h } }

// Client issues platform operations for one session.
type Client struct {
	svc        platform.Services
	rt         *engine.Runtime
	ownRuntime bool
	log        *slog.Logger
	avatars    *AvatarCache
	poll       engine.PollConfig
	format     imaging.PixelFormat
	unsub      func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Client. If not provided, defaults are used:
//   - runtime: queued delivery with a private event bus
//   - avatars: weak cache of DefaultCapacity entries
//   - polling: 30 attempts every 100ms
func New(opts ...Option) (*Client, error) {
	o := options{
		poll:   engine.DefaultPollConfig(),
		mode:   engine.DeliverQueued,
		format: imaging.FormatBGRA8,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if err := o.poll.Validate(); err != nil {
		return nil, err
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	c := &Client{svc: o.services, rt: o.rt, log: o.log, avatars: o.avatars, poll: o.poll, format: o.format}
	if c.rt == nil {
		ropts := []engine.RuntimeOption{engine.WithDeliveryMode(o.mode), engine.WithRuntimeLogger(o.log)}
		if o.bus != nil {
			ropts = append(ropts, engine.WithBus(o.bus))
		}
		c.rt = engine.NewRuntime(ropts...)
		c.ownRuntime = true
	}
	if c.avatars == nil {
		c.avatars = NewAvatarCache()
	}
	if o.hub != nil {
		c.unsub = c.rt.Bus().Subscribe(engine.AnyEvent, func(ctx context.Context, ev core.Event) { o.hub.Broadcast(ctx, ev) })
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *Client) Runtime() *engine.Runtime { return c.rt }
func (c *Client) Services() platform.Services { return c.svc }
func (c *Client) Avatars() *AvatarCache { return c.avatars }

// Close stops pending polls and, if the client built its runtime, the runtime.
// GetAvatar requests still polling are discarded as if their owner were gone,
// even when the owner is alive.
func (c *Client) Close() {
	c.cancel()
	if c.unsub != nil {
		c.unsub()
	}
	if c.ownRuntime {
		c.rt.Close()
	}
}

var errNotInitialized = errors.New("platform not available or not initialized")

// need returns a ServiceUnavailable check over the given service presence flags.
func need(present ...bool) func() error {
	return func() error {
		for _, ok := range present {
			if !ok {
				return errNotInitialized
			}
		}
		return nil
	}
}

func (c *Client) hasStats() bool   { return c.svc.UserStats != nil }
func (c *Client) hasRemote() bool  { return c.svc.RemoteStorage != nil }
func (c *Client) hasFriends() bool { return c.svc.Friends != nil }
func (c *Client) hasUtils() bool   { return c.svc.Utils != nil }
func (c *Client) hasUser() bool    { return c.svc.User != nil }

// personaName is best effort: an unknown name is requested and reads as "".
func (c *Client) personaName(id core.SubjectID) string {
	if c.svc.Friends == nil {
		return ""
	}
	name := c.svc.Friends.PersonaName(id)
	if name == "" {
		c.svc.Friends.RequestUserInformation(id, true)
	}
	return name
}

// texture copies an image handle's pixels into a texture of the given format.
func (c *Client) texture(handle int, format imaging.PixelFormat) (*imaging.Texture, error) {
	if handle <= 0 {
		return nil, errors.New("image not ready")
	}
	w, h, ok := c.svc.Utils.ImageSize(handle)
	if !ok || w <= 0 || h <= 0 {
		return nil, errors.New("image size unavailable")
	}
	buf := make([]byte, w*h*4)
	if !c.svc.Utils.ImageRGBA(handle, buf) {
		return nil, errors.New("image data unavailable")
	}
	return imaging.NewTextureFromRGBA(w, h, buf, format)
}

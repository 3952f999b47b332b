package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	jsonAdapter "salkit/adapters/jsonfile"
	mem "salkit/adapters/memory"
	redisAdapter "salkit/adapters/redis"
	sqlxAdapter "salkit/adapters/sqlx"
	"salkit/analytics"
	"salkit/api/httpapi"
	"salkit/cache"
	"salkit/config"
	"salkit/core"
	"salkit/engine"
	"salkit/imaging"
	"salkit/integrations/webhook"
	"salkit/platform/sim"
	"salkit/realtime"
	"salkit/sal"
)

// frameInterval paces Drain when the client runs in manual delivery mode.
const frameInterval = 16 * time.Millisecond

// Flags are the command line inputs to BuildApp.
type Flags struct {
	ConfigPath string
	Profile    string
}

// App aggregates the assembled server components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Hub      *realtime.Hub
	Platform *sim.Platform
	Client   *sal.Client
	Metrics  *analytics.RequestMetrics
	Webhooks *webhook.Sink
	Reporter *Reporter
	Handler  http.Handler
	Server   *http.Server
}

// Reporter periodically exports request metrics. A nil Reporter is idle.
type Reporter struct {
	exporter analytics.Exporter
}

func provideConfig(ctx context.Context, flags Flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case flags.ConfigPath != "":
		cfg, err = config.LoadFromFile(flags.ConfigPath)
	case flags.Profile != "":
		cfg, err = config.LoadProfile(flags.Profile)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	var store config.SecretStore = config.NewEnvironmentSecretStore()
	if cfg.Environment == config.EnvProduction {
		store = config.NewKeyringSecretStore("salkit")
	}
	config.ResolveSecrets(ctx, cfg, store)
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config) (sim.Storage, func(), error) {
	return setupStorage(ctx, cfg)
}

func providePlatform(store sim.Storage, cfg *config.Config, log *slog.Logger) (*sim.Platform, func(), error) {
	pc := cfg.Platform
	scfg := sim.Config{
		AppID:            pc.AppID,
		Offline:          pc.Offline,
		Latency:          pc.Latency,
		AvatarReadyAfter: pc.AvatarReadyAfter,
		Personas:         make(map[core.SubjectID]string, len(pc.Personas)),
		Logger:           log.With("component", "platform"),
	}
	if pc.LocalUser != "" {
		id, err := core.ParseSubjectID(pc.LocalUser)
		if err != nil {
			return nil, nil, fmt.Errorf("platform local_user: %w", err)
		}
		scfg.LocalUser = id
	}
	for raw, name := range pc.Personas {
		id, err := core.ParseSubjectID(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("platform personas: %w", err)
		}
		scfg.Personas[id] = name
	}
	for _, raw := range pc.Friends {
		id, err := core.ParseSubjectID(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("platform friends: %w", err)
		}
		scfg.Friends = append(scfg.Friends, id)
	}
	p := sim.New(store, scfg)
	return p, p.Close, nil
}

func provideClient(p *sim.Platform, hub *realtime.Hub, cfg *config.Config, log *slog.Logger) (*sal.Client, func(), error) {
	cc := cfg.Client
	mode := engine.DeliverQueued
	if cc.DeliveryMode == "manual" {
		mode = engine.DeliverManual
	}
	format := imaging.FormatBGRA8
	if cc.PixelFormat == "rgba" {
		format = imaging.FormatRGBA8
	}
	dispatch := engine.DispatchSync
	if cc.AsyncEvents {
		dispatch = engine.DispatchAsync
	}
	bus := engine.NewEventBus(dispatch)
	bus.SetLogger(log.With("component", "events"))

	copts := []cache.Option[sal.AvatarKey, imaging.Texture]{
		cache.WithCapacity[sal.AvatarKey, imaging.Texture](cc.AvatarCacheCapacity),
		cache.WithTTL[sal.AvatarKey, imaging.Texture](cc.AvatarCacheTTL),
	}
	if cc.AvatarCacheRetain {
		copts = append(copts, cache.WithRetain[sal.AvatarKey, imaging.Texture]())
	}
	avatars := sal.NewAvatarCache(copts...)
	c, err := sal.New(
		sal.WithServices(p.Services()),
		sal.WithLogger(log.With("component", "sal")),
		sal.WithPollConfig(engine.PollConfig{Interval: cc.PollInterval, MaxAttempts: cc.PollAttempts}),
		sal.WithDeliveryMode(mode),
		sal.WithPixelFormat(format),
		sal.WithAvatarCache(avatars),
		sal.WithEventBus(bus),
		sal.WithRealtime(hub),
	)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}

	stopPump := func() {}
	if mode == engine.DeliverManual {
		stopPump = pumpFrames(c.Runtime(), frameInterval)
	}
	cleanup := func() {
		stopPump()
		c.Close()
		bus.Close()
	}
	return c, cleanup, nil
}

// pumpFrames drains the delivery queue once per frame until the returned func is called.
func pumpFrames(rt *engine.Runtime, every time.Duration) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				rt.Drain()
				return
			case <-t.C:
				rt.Drain()
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func provideMetrics(c *sal.Client) (*analytics.RequestMetrics, func()) {
	m := analytics.NewRequestMetrics()
	detach := analytics.Attach(c.Runtime().Bus(), m)
	return m, detach
}

func provideReporter(ctx context.Context, cfg *config.Config, m *analytics.RequestMetrics, log *slog.Logger) (*Reporter, func()) {
	mc := cfg.Metrics
	var exporters []analytics.Exporter
	if mc.Enabled && mc.Endpoint != "" {
		exporters = append(exporters, analytics.NewHTTPExporter(mc.Endpoint, mc.APIKey, mc.BatchSize))
	}
	if mc.Enabled && mc.LogSnapshots {
		exporters = append(exporters, analytics.NewLogExporter(log.With("component", "metrics")))
	}
	if len(exporters) == 0 {
		return nil, func() {}
	}
	ex := analytics.NewMultiExporter(exporters...)
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		analytics.Report(rctx, m, ex, mc.Interval, log)
	}()
	cleanup := func() {
		cancel()
		<-done
		if err := ex.Close(); err != nil {
			log.Warn("metrics exporter close failed", "error", err)
		}
	}
	return &Reporter{exporter: ex}, cleanup
}

func provideWebhooks(cfg *config.Config, c *sal.Client, log *slog.Logger) (*webhook.Sink, func()) {
	wc := cfg.Webhooks
	if len(wc.Endpoints) == 0 {
		return nil, func() {}
	}
	sink := webhook.New(wc.Endpoints,
		webhook.WithClient(&http.Client{Timeout: wc.Timeout}),
		webhook.WithTypes(realtime.ParseTypes(wc.Types)...),
		webhook.WithLogger(log.With("component", "webhook")),
	)
	unsub := c.Runtime().Bus().Subscribe(engine.AnyEvent, sink.Handle)
	return sink, unsub
}

func provideHandler(c *sal.Client, hub *realtime.Hub, m *analytics.RequestMetrics, cfg *config.Config, log *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RequestTimeout:   cfg.Server.RequestTimeout,
		Logger:           log,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = m
		opts.MetricsPath = cfg.Metrics.Path
	}
	return httpapi.NewMux(c, hub, opts)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter backing the simulated platform.
func setupStorage(_ context.Context, cfg *config.Config) (sim.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "file":
		s, err := jsonAdapter.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	wsadapter "salkit/adapters/websocket"
	"salkit/analytics"
	"salkit/core"
	"salkit/engine"
	"salkit/realtime"
	"salkit/sal"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RequestTimeout bounds the wait for an async request. Zero waits for the client.
	RequestTimeout time.Duration
	// Metrics, if set, is served as JSON on MetricsPath.
	Metrics     *analytics.RequestMetrics
	MetricsPath string
	Logger      *slog.Logger
}

type server struct {
	c       *sal.Client
	hub     *realtime.Hub
	timeout time.Duration
	metrics *analytics.RequestMetrics
	log     *slog.Logger
}

// NewMux builds an http.Handler exposing the binding layer as a REST API and
// the lifecycle event stream over WebSocket.
// Routes (all under the prefix):
//   - GET    /healthz
//   - GET    /leaderboards/by-name/{name}
//   - POST   /leaderboards
//   - GET    /leaderboards/{handle}
//   - GET    /leaderboards/{handle}/entries?type=global&start=1&end=10&details=0
//   - POST   /leaderboards/{handle}/entries/users
//   - POST   /leaderboards/{handle}/scores
//   - POST   /leaderboards/{handle}/ugc-scores
//   - GET    /ugc/{handle}?max_bytes=
//   - POST   /stats/refresh, /stats/global/refresh?days=, /stats/store, /stats/reset
//   - GET    /stats/{name}?type=, PUT /stats/{name}, POST /stats/{name}/add, POST /stats/query
//   - GET    /stats/global/{name}?type=
//   - GET    /achievements, GET|POST|DELETE /achievements/{name}
//   - POST   /achievements/{name}/progress, GET /achievements/{name}/icon
//   - GET    /avatars/{subject}?size=medium
//   - WS     /ws?type=request_failed,...
func NewMux(c *sal.Client, hub *realtime.Hub, opts Options) http.Handler {
	s := &server{c: c, hub: hub, timeout: opts.RequestTimeout, metrics: opts.Metrics, log: opts.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.AllowCORSOrigin != "" {
		r.Use(withCORS(opts.AllowCORSOrigin))
	}

	prefix := strings.TrimSuffix(opts.PathPrefix, "/")
	if prefix == "" {
		prefix = "/"
	}
	r.Route(prefix, func(r chi.Router) {
		r.Get("/healthz", s.healthCheck)

		r.Group(func(r chi.Router) {
			if len(opts.APIKeys) > 0 {
				r.Use(withAPIKeyAuth(opts.APIKeys))
			}
			if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
				r.Use(withRateLimit(opts.RateLimitRPM, opts.RateLimitBurst))
			}

			if hub != nil {
				r.Handle("/ws", wsadapter.Handler(hub, s.log))
			}
			if s.metrics != nil {
				path := opts.MetricsPath
				if path == "" {
					path = "/metrics"
				}
				r.Get(path, s.getMetrics)
			}

			r.Route("/leaderboards", func(r chi.Router) {
				r.Post("/", s.createLeaderboard)
				r.Get("/by-name/{name}", s.findLeaderboard)
				r.Route("/{handle}", func(r chi.Router) {
					r.Get("/", s.leaderboardInfo)
					r.Get("/entries", s.downloadEntries)
					r.Post("/entries/users", s.downloadForUsers)
					r.Post("/scores", s.uploadScore)
					r.Post("/ugc-scores", s.uploadScoreWithUGC)
				})
			})
			r.Get("/ugc/{handle}", s.downloadUGC)

			r.Route("/stats", func(r chi.Router) {
				r.Post("/refresh", s.refreshStats)
				r.Post("/store", s.storeStats)
				r.Post("/reset", s.resetStats)
				r.Post("/query", s.queryStats)
				r.Post("/global/refresh", s.refreshGlobalStats)
				r.Get("/global/{name}", s.globalStat)
				r.Get("/{name}", s.getStat)
				r.Put("/{name}", s.setStat)
				r.Post("/{name}/add", s.addStat)
			})

			r.Route("/achievements", func(r chi.Router) {
				r.Get("/", s.listAchievements)
				r.Get("/{name}", s.getAchievement)
				r.Post("/{name}", s.setAchievement)
				r.Delete("/{name}", s.clearAchievement)
				r.Post("/{name}/progress", s.achievementProgress)
				r.Get("/{name}/icon", s.achievementIcon)
			})

			r.Get("/avatars/{subject}", s.getAvatar)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})
	return r
}

// await submits an async operation owned by the HTTP request and waits for
// its outcome. On failure the error response is already written.
func await[T any](s *server, w http.ResponseWriter, r *http.Request, submit func(engine.OwnerRef, sal.Callbacks[T]) *engine.Handle) (T, bool) {
	var zero T
	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	owner := engine.LifetimeFromContext(ctx)
	defer owner.Destroy()

	var val T
	h := submit(engine.Ref(owner), sal.Callbacks[T]{
		OnSuccess: func(v T) { val = v },
	})
	if err := h.Wait(ctx); err != nil {
		var ferr *core.Error
		if errors.As(err, &ferr) {
			writeFailure(w, ferr)
			return zero, false
		}
		writeError(w, http.StatusGatewayTimeout, "request_timeout", "request did not settle in time", map[string]any{"op": h.Op(), "request_id": h.ID()})
		return zero, false
	}
	if h.Discarded() {
		writeError(w, http.StatusServiceUnavailable, "discarded", "request was discarded", map[string]any{"op": h.Op(), "request_id": h.ID()})
		return zero, false
	}
	return val, true
}

func statusFor(k core.Kind) int {
	switch k {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindUnavailable:
		return http.StatusServiceUnavailable
	case core.KindRejected, core.KindTransport:
		return http.StatusBadGateway
	case core.KindLogical:
		return http.StatusUnprocessableEntity
	case core.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// failureDetails is the details payload of a failed async request.
type failureDetails struct {
	Op        string   `json:"op"`
	Step      string   `json:"step,omitempty"`
	Completed []string `json:"completed,omitempty"`
}

func writeFailure(w http.ResponseWriter, e *core.Error) {
	writeError(w, statusFor(e.Kind), string(e.Kind), e.Error(), failureDetails{Op: e.Op, Step: e.Step, Completed: e.Completed})
}

// writeLibError maps synchronous library errors.
func writeLibError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sal.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, string(core.KindUnavailable), err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, sal.ErrRejected):
		writeError(w, http.StatusConflict, string(core.KindRejected), err.Error(), nil)
	default:
		writeError(w, http.StatusBadRequest, string(core.KindValidation), err.Error(), nil)
	}
}

// healthCheck reports whether the platform services are usable.
func (s *server) healthCheck(w http.ResponseWriter, r *http.Request) {
	rt := s.c.Runtime()
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"platform":  "ok",
			"in_flight": rt.InFlight(),
			"queued":    rt.Loop().Len(),
		},
	}
	code := http.StatusOK
	if !s.c.IsAvailable() {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["platform"] = "unavailable"
	}
	writeJSONStatus(w, code, status)
}

func (s *server) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.metrics.Snapshot())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer", nil)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}

// withCORS applies a minimal CORS policy.
func withCORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(apiKeys []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
				return
			}
			if _, ok := allowed[key]; !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withRateLimit applies a token-bucket limiter per client key.
func withRateLimit(rpm, burst int) func(http.Handler) http.Handler {
	limiter := newRateLimiter(rpm, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	// browsers cannot set headers on a WebSocket handshake
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm   float64
	burst float64
	mu    sync.Mutex
	b     map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{
		rpm:   float64(rpm),
		burst: float64(burst),
		b:     make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	b.tokens = min(l.burst, b.tokens+now.Sub(b.last).Minutes()*l.rpm)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"salkit/core"
)

// Sink posts lifecycle events to configured HTTP endpoints.
// It is synchronous for determinism; subscribe it from a goroutine or keep endpoints fast.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     []core.EventType
	log       *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTypes limits the sink to the given event types.
func WithTypes(types ...core.EventType) Option {
	return func(s *Sink) { s.types = slices.Clone(types) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Handle matches the event bus handler signature.
func (s *Sink) Handle(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	if len(s.types) > 0 && !slices.Contains(s.types, e.Type) {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("webhook encode failed", "type", e.Type, "error", err)
		return
	}
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, body); err != nil {
			s.log.Warn("webhook delivery failed", "endpoint", ep, "type", e.Type, "error", err)
		}
	}
}

// OnEvent posts the event with a background context.
func (s *Sink) OnEvent(e core.Event) { s.Handle(context.Background(), e) }

func (s *Sink) post(ctx context.Context, ep string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

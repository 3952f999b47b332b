package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Exporter ships metric snapshots somewhere.
type Exporter interface {
	Export(ctx context.Context, snap Snapshot) error
	Flush(ctx context.Context) error
	Close() error
}

// HTTPExporter posts batches of snapshots to an HTTP endpoint.
type HTTPExporter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	mu        sync.Mutex
	buffer    []Snapshot
	batchSize int
}

func NewHTTPExporter(endpoint, apiKey string, batchSize int) *HTTPExporter {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &HTTPExporter{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer:    make([]Snapshot, 0, batchSize),
		batchSize: batchSize,
	}
}

func (e *HTTPExporter) Export(ctx context.Context, snap Snapshot) error {
	e.mu.Lock()
	e.buffer = append(e.buffer, snap)
	full := len(e.buffer) >= e.batchSize
	e.mu.Unlock()

	if full {
		return e.Flush(ctx)
	}
	return nil
}

func (e *HTTPExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	batch := e.buffer
	e.buffer = make([]Snapshot, 0, e.batchSize)
	e.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("metrics export failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (e *HTTPExporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Flush(ctx)
}

// LogExporter writes each snapshot as a structured log line.
type LogExporter struct {
	log *slog.Logger
}

func NewLogExporter(log *slog.Logger) *LogExporter {
	if log == nil {
		log = slog.Default()
	}
	return &LogExporter{log: log}
}

func (e *LogExporter) Export(ctx context.Context, snap Snapshot) error {
	for _, op := range snap.Ops {
		e.log.InfoContext(ctx, "request metrics",
			"op", op.Op,
			"dispatched", op.Dispatched,
			"completed", op.Completed,
			"failed", op.Failed,
			"discarded", op.Discarded,
			"mean", op.MeanTime(),
			"max", op.MaxTime,
		)
	}
	e.log.InfoContext(ctx, "request totals", "outstanding", snap.Outstanding, "avatar_cache_hits", snap.CacheHits)
	return nil
}

func (e *LogExporter) Flush(context.Context) error { return nil }
func (e *LogExporter) Close() error                { return nil }

// MultiExporter fans a snapshot out to several exporters.
type MultiExporter struct {
	exporters []Exporter
}

func NewMultiExporter(exporters ...Exporter) *MultiExporter {
	return &MultiExporter{exporters: exporters}
}

func (e *MultiExporter) Export(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, ex := range e.exporters {
		if err := ex.Export(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *MultiExporter) Flush(ctx context.Context) error {
	var errs []error
	for _, ex := range e.exporters {
		if err := ex.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *MultiExporter) Close() error {
	var errs []error
	for _, ex := range e.exporters {
		if err := ex.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Report exports a snapshot of m every interval until ctx is done, then
// flushes the exporter.
func Report(ctx context.Context, m *RequestMetrics, ex Exporter, interval time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := ex.Flush(fctx); err != nil {
				log.Warn("metrics flush failed", "error", err)
			}
			cancel()
			return
		case <-t.C:
			if err := ex.Export(ctx, m.Snapshot()); err != nil {
				log.Warn("metrics export failed", "error", err)
			}
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func oneOf(field, value string, valid ...string) string {
	if slices.Contains(valid, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(valid, ", "))
}

func appendIf(errs []string, msg string) []string {
	if msg == "" {
		return errs
	}
	return append(errs, msg)
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}
	if s.RequestTimeout < 0 {
		errs = append(errs, "request_timeout cannot be negative")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	errs = appendIf(errs, oneOf("adapter", s.Adapter, "memory", "redis", "sql", "file"))

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "sql":
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	case "redis":
		if strings.TrimSpace(s.Redis.Addr) == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

func (p *PlatformConfig) Validate() error {
	var errs []string
	if p.AppID == 0 {
		errs = append(errs, "app_id must be non-zero")
	}
	if !p.Offline && strings.TrimSpace(p.LocalUser) == "" {
		errs = append(errs, "local_user cannot be empty unless offline")
	}
	if p.Latency < 0 {
		errs = append(errs, "latency cannot be negative")
	}
	if p.AvatarReadyAfter < 0 {
		errs = append(errs, "avatar_ready_after cannot be negative")
	}
	return joinErrs(errs)
}

func (c *ClientConfig) Validate() error {
	var errs []string
	if c.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be positive")
	}
	if c.PollAttempts <= 0 {
		errs = append(errs, "poll_attempts must be positive")
	}
	errs = appendIf(errs, oneOf("delivery_mode", c.DeliveryMode, "queued", "manual"))
	errs = appendIf(errs, oneOf("pixel_format", c.PixelFormat, "bgra", "rgba"))
	if c.AvatarCacheCapacity < 0 {
		errs = append(errs, "avatar_cache_capacity cannot be negative")
	}
	if c.AvatarCacheTTL < 0 {
		errs = append(errs, "avatar_cache_ttl cannot be negative")
	}
	return joinErrs(errs)
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string
	errs = appendIf(errs, oneOf("level", l.Level, "debug", "info", "warn", "error"))
	errs = appendIf(errs, oneOf("format", l.Format, "json", "text"))
	errs = appendIf(errs, oneOf("output", l.Output, "stdout", "stderr"))
	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	var errs []string

	if m.Enabled {
		if m.Path == "" {
			errs = append(errs, "path cannot be empty when metrics are enabled")
		}
		if m.Interval <= 0 {
			errs = append(errs, "interval must be positive when metrics are enabled")
		}
		if m.Endpoint != "" && m.BatchSize <= 0 {
			errs = append(errs, "batch_size must be > 0 when an endpoint is set")
		}
	}

	return joinErrs(errs)
}

func (w *WebhookConfig) Validate() error {
	var errs []string
	for i, ep := range w.Endpoints {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an http(s) url", i))
		}
	}
	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	return joinErrs(errs)
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

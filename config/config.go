package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"salkit/adapters/redis"
	"salkit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" yaml:"environment" env:"SALKIT_ENV"`
	Profile     string      `json:"profile" yaml:"profile" env:"SALKIT_PROFILE"`

	Server   ServerConfig   `json:"server" yaml:"server"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Platform PlatformConfig `json:"platform" yaml:"platform"`
	Client   ClientConfig   `json:"client" yaml:"client"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Webhooks WebhookConfig  `json:"webhooks" yaml:"webhooks"`
	Security SecurityConfig `json:"security" yaml:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" yaml:"address" env:"SALKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" yaml:"path_prefix" env:"SALKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" yaml:"cors_origin" env:"SALKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout" env:"SALKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout" env:"SALKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"SALKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"SALKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SALKIT_SERVER_SHUTDOWN_TIMEOUT"`
	// RequestTimeout bounds how long a handler waits for an async request to settle.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" env:"SALKIT_SERVER_REQUEST_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" yaml:"adapter" env:"SALKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" yaml:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty" yaml:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty" yaml:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" yaml:"path" env:"SALKIT_STORAGE_FILE_PATH"`
}

// PlatformConfig describes the simulated platform session the server hosts.
type PlatformConfig struct {
	AppID            uint32            `json:"app_id" yaml:"app_id" env:"SALKIT_PLATFORM_APP_ID"`
	LocalUser        string            `json:"local_user" yaml:"local_user" env:"SALKIT_PLATFORM_LOCAL_USER"`
	Offline          bool              `json:"offline" yaml:"offline" env:"SALKIT_PLATFORM_OFFLINE"`
	Latency          time.Duration     `json:"latency" yaml:"latency" env:"SALKIT_PLATFORM_LATENCY"`
	AvatarReadyAfter int               `json:"avatar_ready_after" yaml:"avatar_ready_after" env:"SALKIT_PLATFORM_AVATAR_READY_AFTER"`
	Personas         map[string]string `json:"personas,omitempty" yaml:"personas,omitempty" env:"SALKIT_PLATFORM_PERSONAS"`
	Friends          []string          `json:"friends,omitempty" yaml:"friends,omitempty" env:"SALKIT_PLATFORM_FRIENDS"`
}

// ClientConfig tunes the binding layer.
type ClientConfig struct {
	PollInterval        time.Duration `json:"poll_interval" yaml:"poll_interval" env:"SALKIT_CLIENT_POLL_INTERVAL"`
	PollAttempts        int           `json:"poll_attempts" yaml:"poll_attempts" env:"SALKIT_CLIENT_POLL_ATTEMPTS"`
	DeliveryMode        string        `json:"delivery_mode" yaml:"delivery_mode" env:"SALKIT_CLIENT_DELIVERY_MODE"`
	PixelFormat         string        `json:"pixel_format" yaml:"pixel_format" env:"SALKIT_CLIENT_PIXEL_FORMAT"`
	AvatarCacheCapacity int           `json:"avatar_cache_capacity" yaml:"avatar_cache_capacity" env:"SALKIT_CLIENT_AVATAR_CACHE_CAPACITY"`
	AvatarCacheTTL      time.Duration `json:"avatar_cache_ttl" yaml:"avatar_cache_ttl" env:"SALKIT_CLIENT_AVATAR_CACHE_TTL"`
	// AvatarCacheRetain keeps cached textures alive until evicted or expired.
	// Off, a texture nobody else holds is dropped at the next GC.
	AvatarCacheRetain bool `json:"avatar_cache_retain" yaml:"avatar_cache_retain" env:"SALKIT_CLIENT_AVATAR_CACHE_RETAIN"`
	// AsyncEvents dispatches lifecycle events on bus workers instead of inline.
	AsyncEvents bool `json:"async_events" yaml:"async_events" env:"SALKIT_CLIENT_ASYNC_EVENTS"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" yaml:"level" env:"SALKIT_LOG_LEVEL"`
	Format     string            `json:"format" yaml:"format" env:"SALKIT_LOG_FORMAT"`
	Output     string            `json:"output" yaml:"output" env:"SALKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" env:"SALKIT_LOG_ATTRIBUTES"`
}

// MetricsConfig controls request metrics export.
type MetricsConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled" env:"SALKIT_METRICS_ENABLED"`
	Path      string        `json:"path" yaml:"path" env:"SALKIT_METRICS_PATH"`
	Interval  time.Duration `json:"interval" yaml:"interval" env:"SALKIT_METRICS_INTERVAL"`
	Endpoint  string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"SALKIT_METRICS_ENDPOINT"`
	APIKey    string        `json:"api_key,omitempty" yaml:"api_key,omitempty" env:"SALKIT_METRICS_API_KEY"`
	BatchSize int           `json:"batch_size" yaml:"batch_size" env:"SALKIT_METRICS_BATCH_SIZE"`
	// LogSnapshots also writes each snapshot to the log.
	LogSnapshots bool `json:"log_snapshots" yaml:"log_snapshots" env:"SALKIT_METRICS_LOG_SNAPSHOTS"`
}

// WebhookConfig lists endpoints that receive lifecycle events.
type WebhookConfig struct {
	Endpoints []string      `json:"endpoints,omitempty" yaml:"endpoints,omitempty" env:"SALKIT_WEBHOOK_ENDPOINTS"`
	Types     []string      `json:"types,omitempty" yaml:"types,omitempty" env:"SALKIT_WEBHOOK_TYPES"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout" env:"SALKIT_WEBHOOK_TIMEOUT"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" yaml:"enable_rate_limit" env:"SALKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty" env:"SALKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute" env:"SALKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size" env:"SALKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"SALKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var configExtensions = []string{".json", ".yaml", ".yml"}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(cleanPath))
	known := false
	for _, e := range configExtensions {
		if ext == e {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("config file must have one of the extensions: %s", strings.Join(configExtensions, ", "))
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file. Environment
// variables override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			RequestTimeout:    5 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/salkit.json",
			},
		},
		Platform: PlatformConfig{
			AppID:            480,
			LocalUser:        "76561197960287930",
			AvatarReadyAfter: 2,
		},
		Client: ClientConfig{
			PollInterval:        100 * time.Millisecond,
			PollAttempts:        50,
			DeliveryMode:        "queued",
			PixelFormat:         "bgra",
			AvatarCacheCapacity: 512,
			AvatarCacheRetain:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Path:      "/metrics",
			Interval:  time.Minute,
			BatchSize: 10,
		},
		Webhooks: WebhookConfig{
			Timeout: 2 * time.Second,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Platform.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("platform config: %v", err))
	}

	if err := c.Client.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("client config: %v", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("metrics config: %v", err))
	}

	if err := c.Webhooks.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhooks config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

const redacted = "[REDACTED]"

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = redacted
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = redacted
	}
	if cfg.Metrics.APIKey != "" {
		cfg.Metrics.APIKey = redacted
	}
	if len(cfg.Security.APIKeys) > 0 {
		keys := make([]string, len(cfg.Security.APIKeys))
		for i := range keys {
			keys[i] = redacted
		}
		cfg.Security.APIKeys = keys
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}

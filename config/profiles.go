package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the defaults for a named deployment profile with
// environment overrides applied.
func LoadProfile(name string) (*Config, error) {
	build, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	cfg := DefaultConfig()
	build(cfg)
	cfg.Profile = name

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Profiles lists the known profile names.
func Profiles() []string {
	return []string{"development", "testing", "staging", "production"}
}

var profiles = map[string]func(*Config){
	"development": func(c *Config) {
		c.Environment = EnvDevelopment
		c.Logging.Level = "debug"
		c.Logging.Format = "text"
	},
	"testing": func(c *Config) {
		c.Environment = EnvTesting
		c.Logging.Level = "warn"
		c.Client.PollInterval = 5 * time.Millisecond
		c.Client.PollAttempts = 20
		c.Platform.AvatarReadyAfter = 1
		c.Server.RequestTimeout = time.Second
	},
	"staging": func(c *Config) {
		c.Environment = EnvStaging
		c.Storage.Adapter = "file"
		c.Metrics.Enabled = true
		c.Platform.Latency = 20 * time.Millisecond
	},
	"production": func(c *Config) {
		c.Environment = EnvProduction
		c.Server.CORSOrigin = ""
		c.Storage.Adapter = "file"
		c.Metrics.Enabled = true
		c.Security.EnableRateLimit = true
	},
}

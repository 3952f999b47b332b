package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"salkit/adapters/sqlx"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "queued", cfg.Client.DeliveryMode)
	assert.Equal(t, uint32(480), cfg.Platform.AppID)
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeTemp(t, "config.json", `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		},
		"platform": {
			"app_id": 1234,
			"friends": ["76561197960287931"]
		}
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, uint32(1234), cfg.Platform.AppID)
	assert.Equal(t, []string{"76561197960287931"}, cfg.Platform.Friends)
	// untouched sections keep defaults
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
environment: staging
storage:
  adapter: sql
  sql:
    driver: sqlite
    dsn: "file::memory:"
client:
  poll_interval: 250ms
  poll_attempts: 8
  delivery_mode: manual
logging:
  level: warn
  attributes:
    service: salkit
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, sqlx.DriverSQLite, cfg.Storage.SQL.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.PollInterval)
	assert.Equal(t, 8, cfg.Client.PollAttempts)
	assert.Equal(t, "manual", cfg.Client.DeliveryMode)
	assert.Equal(t, "salkit", cfg.Logging.Attributes["service"])
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTemp(t, "config.json", `{"server": {"address": ":9090"}}`)
	t.Setenv("SALKIT_SERVER_ADDR", ":7070")
	t.Setenv("SALKIT_CLIENT_POLL_INTERVAL", "20ms")
	t.Setenv("SALKIT_PLATFORM_PERSONAS", "76561197960287931=Gabe, 76561197960287932=Robin")
	t.Setenv("SALKIT_WEBHOOK_ENDPOINTS", "http://a.example, http://b.example")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 20*time.Millisecond, cfg.Client.PollInterval)
	assert.Equal(t, "Robin", cfg.Platform.Personas["76561197960287932"])
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Webhooks.Endpoints)
}

func TestEnvInvalidValue(t *testing.T) {
	t.Setenv("SALKIT_CLIENT_POLL_ATTEMPTS", "many")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SALKIT_CLIENT_POLL_ATTEMPTS")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid environment", mutate: func(c *Config) { c.Environment = "" }, errMsg: "environment cannot be empty"},
		{name: "invalid server timeout", mutate: func(c *Config) { c.Server.ReadTimeout = 0 }, errMsg: "read_timeout"},
		{name: "unknown adapter", mutate: func(c *Config) { c.Storage.Adapter = "mongo" }, errMsg: "adapter must be one of"},
		{name: "sql without dsn", mutate: func(c *Config) { c.Storage.Adapter = "sql"; c.Storage.SQL.DSN = "" }, errMsg: "sql dsn is required"},
		{name: "zero app id", mutate: func(c *Config) { c.Platform.AppID = 0 }, errMsg: "app_id"},
		{name: "bad delivery mode", mutate: func(c *Config) { c.Client.DeliveryMode = "eager" }, errMsg: "delivery_mode"},
		{name: "zero poll attempts", mutate: func(c *Config) { c.Client.PollAttempts = 0 }, errMsg: "poll_attempts"},
		{name: "bad webhook url", mutate: func(c *Config) { c.Webhooks.Endpoints = []string{"ftp://x"} }, errMsg: "endpoints[0]"},
		{name: "rate limit without rpm", mutate: func(c *Config) {
			c.Security.EnableRateLimit = true
			c.Security.RateLimit.RequestsPerMinute = 0
		}, errMsg: "requests_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name         string
		profileName  string
		expectConfig bool
		environment  Environment
	}{
		{"development", "development", true, EnvDevelopment},
		{"testing", "testing", true, EnvTesting},
		{"staging", "staging", true, EnvStaging},
		{"production", "production", true, EnvProduction},
		{"unknown", "unknown", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profileName)
			if tt.expectConfig {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				assert.Equal(t, tt.environment, cfg.Environment)
				assert.Equal(t, tt.profileName, cfg.Profile)
			} else {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			}
		})
	}
	assert.Len(t, Profiles(), len(profiles))
}

func TestSecrets(t *testing.T) {
	store := NewEnvironmentSecretStore()
	t.Setenv("TEST_SECRET_KEY", "test_secret_value")

	ctx := context.Background()

	value, err := store.Get(ctx, "TEST_SECRET_KEY")
	assert.NoError(t, err)
	assert.Equal(t, "test_secret_value", value)

	_, err = store.Get(ctx, "NONEXISTENT_KEY")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.Equal(t, "default", store.GetWithDefault(ctx, "NONEXISTENT_KEY", "default"))
	assert.Equal(t, "test_secret_value", store.GetWithDefault(ctx, "TEST_SECRET_KEY", "default"))
}

func TestKeyringSecretStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringSecretStore("salkit-test")
	ctx := context.Background()

	require.NoError(t, store.Set(SecretSQLDSN, "postgres://u:p@db/salkit"))
	v, err := store.Get(ctx, SecretSQLDSN)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/salkit", v)

	// Falls back to the environment.
	t.Setenv(SecretRedisPassword, "from-env")
	assert.Equal(t, "from-env", store.GetWithDefault(ctx, SecretRedisPassword, ""))

	require.NoError(t, store.Delete(SecretSQLDSN))
	require.NoError(t, store.Delete(SecretSQLDSN))
	_, err = store.Get(ctx, SecretSQLDSN)
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestResolveSecrets(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringSecretStore("salkit-test")
	require.NoError(t, store.Set(SecretAPIKeys, "k1, k2"))
	require.NoError(t, store.Set(SecretMetricsAPIKey, "metrics"))

	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "explicit"
	ResolveSecrets(context.Background(), cfg, store)

	assert.Equal(t, "explicit", cfg.Storage.SQL.DSN)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Security.APIKeys)
	assert.Equal(t, "metrics", cfg.Metrics.APIKey)
	assert.Contains(t, cfg.String(), redacted)
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "c.json")
	ymlPath := filepath.Join(dir, "c.yml")
	txtPath := filepath.Join(dir, "c.txt")
	for _, p := range []string{jsonPath, ymlPath, txtPath} {
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
	}

	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"valid json file", jsonPath, false},
		{"valid yml file", ymlPath, false},
		{"empty path", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"non-config extension", txtPath, true},
		{"nonexistent file", filepath.Join(dir, "missing.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

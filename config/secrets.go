package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned when no store holds the key.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves named secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	if v, err := s.Get(ctx, key); err == nil {
		return v
	}
	return def
}

// KeyringSecretStore reads secrets from the OS keychain under one service
// name and falls back to the environment when the keychain is unavailable
// or has no entry.
type KeyringSecretStore struct {
	service  string
	fallback SecretStore
}

func NewKeyringSecretStore(service string) *KeyringSecretStore {
	if strings.TrimSpace(service) == "" {
		service = "salkit"
	}
	return &KeyringSecretStore{service: service, fallback: NewEnvironmentSecretStore()}
}

func (k *KeyringSecretStore) Get(ctx context.Context, key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if err == nil {
		return v, nil
	}
	if fv, ferr := k.fallback.Get(ctx, key); ferr == nil {
		return fv, nil
	}
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	return "", fmt.Errorf("keyring get %s: %w", key, err)
}

func (k *KeyringSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	if v, err := k.Get(ctx, key); err == nil {
		return v
	}
	return def
}

// Set stores a secret in the OS keychain.
func (k *KeyringSecretStore) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

// Delete removes a secret from the OS keychain. Missing keys are not an error.
func (k *KeyringSecretStore) Delete(key string) error {
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}

// Secret keys consulted by ResolveSecrets.
const (
	SecretSQLDSN        = "SALKIT_SQL_DSN"
	SecretRedisPassword = "SALKIT_REDIS_PASSWORD"
	SecretMetricsAPIKey = "SALKIT_METRICS_API_KEY"
	SecretAPIKeys       = "SALKIT_SECURITY_API_KEYS"
)

// ResolveSecrets fills empty secret fields of cfg from store.
func ResolveSecrets(ctx context.Context, cfg *Config, store SecretStore) {
	if cfg.Storage.SQL.DSN == "" {
		cfg.Storage.SQL.DSN = store.GetWithDefault(ctx, SecretSQLDSN, "")
	}
	if cfg.Storage.Redis.Password == "" {
		cfg.Storage.Redis.Password = store.GetWithDefault(ctx, SecretRedisPassword, "")
	}
	if cfg.Metrics.APIKey == "" {
		cfg.Metrics.APIKey = store.GetWithDefault(ctx, SecretMetricsAPIKey, "")
	}
	if len(cfg.Security.APIKeys) == 0 {
		if raw := store.GetWithDefault(ctx, SecretAPIKeys, ""); raw != "" {
			for _, k := range strings.Split(raw, ",") {
				if k = strings.TrimSpace(k); k != "" {
					cfg.Security.APIKeys = append(cfg.Security.APIKeys, k)
				}
			}
		}
	}
}

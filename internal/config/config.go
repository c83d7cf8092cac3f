package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"ENV"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string `mapstructure:"MIGRATIONS_DIR"`
	LocalStorePath    string `mapstructure:"LOCAL_STORE_PATH"`
	EncryptionKey     string `mapstructure:"MASA_ENCRYPTION_KEY"`
	DefaultOrg        string `mapstructure:"DEFAULT_ORG"`
	AuthIssuer        string `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string `mapstructure:"AUTH_SIGNING_KEY"`
	BackendTimeoutSec int    `mapstructure:"BACKEND_TIMEOUT_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("LOCAL_STORE_PATH", "masa.db")
	v.SetDefault("DEFAULT_ORG", "default")
	v.SetDefault("BACKEND_TIMEOUT_SECONDS", 15)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("LOCAL_STORE_PATH")
	v.BindEnv("MASA_ENCRYPTION_KEY")
	v.BindEnv("DEFAULT_ORG")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("BACKEND_TIMEOUT_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.EncryptionKey != "" {
		if _, err := cfg.EncryptionKeyBytes(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Env, "development")
}

// RemoteConfigured reports whether a remote backend is configured at all.
// An empty DATABASE_URL means the application runs against the local store.
func (c *Config) RemoteConfigured() bool {
	return c.DatabaseURL != ""
}

// EncryptionKeyBytes decodes MASA_ENCRYPTION_KEY, which must be 32 bytes of hex
// (64 hex characters) for AES-256. Returns nil without error when unset; the
// codec then refuses to operate rather than falling back to plaintext.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("MASA_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MASA_ENCRYPTION_KEY must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *Config) BackendTimeout() time.Duration {
	if c.BackendTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.BackendTimeoutSec) * time.Second
}

// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration loaded from KIROPANEL_ env vars.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
type Config struct {
	ListenAddr string `env:"KIROPANEL_LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	DBPath     string `env:"KIROPANEL_DB_PATH" envDefault:"kiropanel.db"`

	// Upstream admin API settings. Optional; if absent, the app starts without
	// an upstream client until settings are provided via the GUI.
	UpstreamURL        string `env:"KIROPANEL_UPSTREAM_URL"`
	UpstreamAdminToken string `env:"KIROPANEL_UPSTREAM_ADMIN_TOKEN"`

	// AdminPassword gates the dashboard. Required.
	AdminPassword string `env:"KIROPANEL_ADMIN_PASSWORD"`

	// SessionSecret signs session tokens. Optional; when empty the composition
	// root generates a random one, invalidating sessions across restarts.
	SessionSecret string        `env:"KIROPANEL_SESSION_SECRET"`
	SessionTTL    time.Duration `env:"KIROPANEL_SESSION_TTL" envDefault:"12h"`

	// SecretKeyHex is the AES-256 key encrypting stored settings, as 64 hex
	// chars. Optional; without it settings cannot be saved from the GUI.
	SecretKeyHex string `env:"KIROPANEL_SECRET_KEY"`

	RefreshInterval time.Duration `env:"KIROPANEL_REFRESH_INTERVAL" envDefault:"5m"`
	ItemDelay       time.Duration `env:"KIROPANEL_ITEM_DELAY" envDefault:"500ms"`

	secretKey []byte
}

// HasUpstream returns true when both the upstream URL and admin token are
// set, so the composition root can build a client at startup.
func (c *Config) HasUpstream() bool {
	return c.UpstreamURL != "" && c.UpstreamAdminToken != ""
}

// SecretKey returns the decoded 32-byte encryption key, or nil when
// KIROPANEL_SECRET_KEY is not set.
func (c *Config) SecretKey() []byte {
	return c.secretKey
}

// Load reads and validates configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.AdminPassword == "" {
		return nil, fmt.Errorf("KIROPANEL_ADMIN_PASSWORD is required")
	}
	if cfg.RefreshInterval <= 0 {
		return nil, fmt.Errorf("KIROPANEL_REFRESH_INTERVAL must be positive")
	}
	if cfg.ItemDelay < 0 {
		return nil, fmt.Errorf("KIROPANEL_ITEM_DELAY must not be negative")
	}

	if cfg.SecretKeyHex != "" {
		key, err := hex.DecodeString(cfg.SecretKeyHex)
		if err != nil {
			return nil, fmt.Errorf("KIROPANEL_SECRET_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("KIROPANEL_SECRET_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.secretKey = key
	}

	return cfg, nil
}

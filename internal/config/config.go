// Package config loads relay configuration from environment variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`

	// KV store (required)
	KVURL   string `envconfig:"KV_URL" required:"true"`
	KVToken string `envconfig:"KV_TOKEN"`

	// Remote repository host. Token is optional — setting it raises the
	// API quota.
	RemoteHostToken string `envconfig:"REMOTE_HOST_TOKEN"`

	// Cleanup cron endpoint secret (required)
	CronSecret string `envconfig:"CRON_SECRET" required:"true"`

	// Identity
	StrictIdentity bool `envconfig:"STRICT_IDENTITY" default:"false"`

	// Agent adapter: optional canonical repo URL substitution. Empty
	// means requests pass through unrewritten.
	CanonicalRepoURL string `envconfig:"CANONICAL_REPO_URL"`

	// Rate limiting for the JSON surface. 0 disables.
	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS * 2
	}
	return &cfg, nil
}

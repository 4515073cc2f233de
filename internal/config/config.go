// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/briangreenhill/scriptmarket/internal/persist"
)

// Snapshot backends accepted by SNAPSHOT_BACKEND.
const (
	SnapshotNone     = persist.BackendNone
	SnapshotFile     = persist.BackendFile
	SnapshotRedis    = persist.BackendRedis
	SnapshotPostgres = persist.BackendPostgres
	SnapshotSQLite   = persist.BackendSQLite
)

// Config holds all application configuration
type Config struct {
	Port          string        `env:"PORT" envDefault:"8080"`
	APIBaseURL    string        `env:"API_BASE_URL" envDefault:"http://localhost:3000/api"`
	SiteURL       string        `env:"SITE_URL" envDefault:"http://localhost:8080"`
	SessionSecret string        `env:"SESSION_SECRET"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	OTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Snapshot SnapshotConfig
	Payments PaymentsConfig
	Discord  DiscordConfig
	Mail     MailConfig

	AnalyticsID string `env:"ANALYTICS_ID"`
	// WorkerToken authenticates the receipt worker against the backend.
	WorkerToken string `env:"WORKER_TOKEN"`
}

// SnapshotConfig selects where persisted entity stores are written
type SnapshotConfig struct {
	Backend    string `env:"SNAPSHOT_BACKEND" envDefault:"none"`
	Dir        string `env:"SNAPSHOT_DIR"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"scriptmarket.db"`
}

// PaymentsConfig holds the publishable keys handed to the hosted checkout pages
type PaymentsConfig struct {
	StripePublishableKey string `env:"STRIPE_PUBLISHABLE_KEY"`
	PayPalClientID       string `env:"PAYPAL_CLIENT_ID"`
}

// DiscordConfig holds the OAuth client used for "Sign in with Discord"
type DiscordConfig struct {
	ClientID     string `env:"DISCORD_CLIENT_ID"`
	ClientSecret string `env:"DISCORD_CLIENT_SECRET"`
}

// MailConfig configures the receipt mailer used by the worker
type MailConfig struct {
	SMTPAddr string `env:"SMTP_ADDR"`
	From     string `env:"MAIL_FROM" envDefault:"no-reply@scriptmarket.local"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	cfg.Snapshot.Backend = strings.ToLower(strings.TrimSpace(cfg.Snapshot.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasStripe returns true if Stripe checkout can be offered
func (c *Config) HasStripe() bool {
	return c.Payments.StripePublishableKey != ""
}

// HasPayPal returns true if PayPal checkout can be offered
func (c *Config) HasPayPal() bool {
	return c.Payments.PayPalClientID != ""
}

// HasDiscord returns true if Discord sign-in is configured
func (c *Config) HasDiscord() bool {
	return c.Discord.ClientID != "" && c.Discord.ClientSecret != ""
}

// Validate checks values that env parsing cannot
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL %q", c.APIBaseURL)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("POLL_INTERVAL must not be negative, got %s", c.PollInterval)
	}
	switch c.Snapshot.Backend {
	case SnapshotNone, SnapshotFile, SnapshotRedis, SnapshotSQLite:
	case SnapshotPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("SNAPSHOT_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown SNAPSHOT_BACKEND %q", c.Snapshot.Backend)
	}
	return nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinPollInterval lower bound for the mail poll interval
const MinPollInterval = 10 * time.Second

// Store drivers
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreJSON     = "json"
)

// Mail sources for the poller
const (
	SourceNone  = "none"
	SourceGraph = "graph"
	SourceIMAP  = "imap"
)

// Microsoft auth modes
const (
	AuthClientCredentials = "client_credentials"
	AuthDeviceCode        = "device_code"
)

// Config application configuration
type Config struct {
	// Telegram
	TelegramToken         string `env:"TELEGRAM_BOT_TOKEN,required"`
	OwnerID               int64  `env:"OWNER_ID,required"`
	TelegramWebhookURL    string `env:"TELEGRAM_WEBHOOK_URL"` // webhook mode when set, long polling otherwise
	TelegramWebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET"`
	Language              string `env:"BOT_LANGUAGE" envDefault:"en"` // en or id

	// Storage
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailrelay.db"`
	DatabaseURL  string `env:"DATABASE_URL"` // postgres://... (Supabase connection string)
	DataFile     string `env:"DATA_FILE" envDefault:"./data/mailrelay.json"`

	// HTTP
	HTTPAddr          string  `env:"HTTP_ADDR" envDefault:":3000"`
	EmailWebhookToken string  `env:"EMAIL_WEBHOOK_TOKEN"` // bearer token for /email-webhook, open when empty
	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxyHeaders bool    `env:"TRUST_PROXY_HEADERS" envDefault:"false"` // only behind a reverse proxy

	// Relay
	RequireAutoReply   bool   `env:"RELAY_REQUIRE_AUTO_REPLY" envDefault:"false"`
	DefaultAutoReply   string `env:"DEFAULT_AUTO_REPLY" envDefault:"Thank you for your email. I will get back to you soon."`
	DefaultApproveDays int    `env:"DEFAULT_APPROVE_DAYS" envDefault:"30"`

	// Polling
	MailSource   string        `env:"MAIL_SOURCE" envDefault:"none"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`

	// Microsoft Graph
	MSClientID     string `env:"MS_CLIENT_ID"`
	MSClientSecret string `env:"MS_CLIENT_SECRET"`
	MSTenantID     string `env:"MS_TENANT_ID" envDefault:"common"`
	MSUserEmail    string `env:"MS_USER_EMAIL"` // mailbox to poll, /me when empty
	MSAuthMode     string `env:"MS_AUTH_MODE" envDefault:"client_credentials"`
	MSAuthorityURL string `env:"MS_AUTHORITY_URL" envDefault:"https://login.microsoftonline.com"`
	MSGraphURL     string `env:"MS_GRAPH_URL" envDefault:"https://graph.microsoft.com/v1.0"`

	// IMAP
	IMAPServer      string        `env:"IMAP_SERVER"` // host:port
	IMAPUser        string        `env:"IMAP_USER"`
	IMAPPassword    string        `env:"IMAP_PASSWORD"`
	IMAPDialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`

	// Error reporting
	SentryDSN string `env:"SENTRY_DSN"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// WebhookMode returns true if Telegram updates arrive via webhook
func (c *Config) WebhookMode() bool {
	return c.TelegramWebhookURL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.OwnerID == 0 {
		return fmt.Errorf("OWNER_ID must be a non-zero Telegram user id")
	}

	switch c.StoreDriver {
	case StoreSQLite, StoreJSON:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("POLL_INTERVAL must be at least %s, got %s", MinPollInterval, c.PollInterval)
	}

	if c.DefaultApproveDays < 0 {
		return fmt.Errorf("DEFAULT_APPROVE_DAYS must not be negative")
	}

	switch c.MailSource {
	case SourceNone:
	case SourceGraph:
		if c.MSClientID == "" {
			return fmt.Errorf("MS_CLIENT_ID is required for MAIL_SOURCE=graph")
		}
		switch c.MSAuthMode {
		case AuthClientCredentials:
			if c.MSClientSecret == "" || c.MSUserEmail == "" || c.MSTenantID == "common" {
				return fmt.Errorf("client_credentials needs MS_CLIENT_SECRET, MS_USER_EMAIL and a concrete MS_TENANT_ID")
			}
		case AuthDeviceCode:
		default:
			return fmt.Errorf("unknown MS_AUTH_MODE %q", c.MSAuthMode)
		}
	case SourceIMAP:
		// IMAP_SERVER is resolved from the user's domain when empty
		if c.IMAPUser == "" || c.IMAPPassword == "" {
			return fmt.Errorf("IMAP_USER and IMAP_PASSWORD are required for MAIL_SOURCE=imap")
		}
	default:
		return fmt.Errorf("unknown MAIL_SOURCE %q", c.MailSource)
	}

	return nil
}

// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port        int    `yaml:"port"`
	ServiceName string `yaml:"service_name"` // issuer/audience for internal service tokens
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	MasterSecret string `yaml:"master_secret"` // env MASTER_SECRET wins
}

type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`     // cadence between status checks
	MaxAttempts int           `yaml:"max_attempts"` // rounds before timed_out
}

type StripeConfig struct {
	APIKeySecret     string `yaml:"api_key_secret"`     // vault key holding the API key
	WebhookSecretKey string `yaml:"webhook_secret_key"` // vault key holding the webhook signing secret
}

type RedirectProviderConfig struct {
	BaseURL          string `yaml:"base_url"`
	CallbackURL      string `yaml:"callback_url"`
	MerchantKey      string `yaml:"merchant_key"`       // vault key
	WebhookSecretKey string `yaml:"webhook_secret_key"` // vault key
}

type MobilePushConfig struct {
	BaseURL          string `yaml:"base_url"`
	ShortCode        string `yaml:"short_code"`
	ConsumerKey      string `yaml:"consumer_key"`       // vault key
	WebhookSecretKey string `yaml:"webhook_secret_key"` // vault key
}

type PaymentConfig struct {
	Currency        string                 `yaml:"currency"`         // settlement currency
	PlatformAccount string                 `yaml:"platform_account"` // revenue account credited on purchases
	Poll            PollConfig             `yaml:"poll"`
	Stripe          StripeConfig           `yaml:"stripe"`
	CardRedirect    RedirectProviderConfig `yaml:"card_redirect"`
	GenericRedirect RedirectProviderConfig `yaml:"generic_redirect"`
	MobilePush      MobilePushConfig       `yaml:"mobile_push"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Security   SecurityConfig   `yaml:"security"`
	Payment    PaymentConfig    `yaml:"payment"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file and applies defaults and bootstrap env
// overrides. Only the fixed bootstrap variables (DATABASE_URL, MASTER_SECRET,
// REDIS_URL) are read from the environment here; provider credentials belong
// to the vault.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ServiceName == "" {
		cfg.HTTP.ServiceName = "coursepay"
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "USD"
	}
	if cfg.Payment.PlatformAccount == "" {
		cfg.Payment.PlatformAccount = "platform-revenue"
	}
	if cfg.Payment.Poll.Interval <= 0 {
		cfg.Payment.Poll.Interval = 5 * time.Second
	}
	if cfg.Payment.Poll.MaxAttempts <= 0 {
		cfg.Payment.Poll.MaxAttempts = 30
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 2 * time.Second
	}

	// bootstrap env overrides (the essential allowlist)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("MASTER_SECRET"); v != "" {
		cfg.Security.MasterSecret = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	// Minimal validation
	if !dev {
		if cfg.Database.URL == "" {
			return nil, errors.New("database.url is required")
		}
		if cfg.Security.MasterSecret == "" {
			return nil, errors.New("security.master_secret is required")
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

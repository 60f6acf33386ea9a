package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	// Proxies (IPs or CIDRs) whose X-Forwarded-For is believed when keying
	// guests. Empty means the socket address is always used.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	// Guest rate limiter settings
	GuestMaxMessages   int           `envconfig:"GUEST_MAX_MESSAGES" default:"3"`
	GuestWindow        time.Duration `envconfig:"GUEST_WINDOW" default:"1h"`
	GuestSweepInterval time.Duration `envconfig:"GUEST_SWEEP_INTERVAL" default:"5m"`
	GuestLimitBackend  string        `envconfig:"GUEST_LIMIT_BACKEND" default:"memory"`
	RedisAddr          string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword      string        `envconfig:"REDIS_PASSWORD"`
	RedisDB            int           `envconfig:"REDIS_DB" default:"0"`

	// Subscription quota settings
	QuotaTimezone       string        `envconfig:"QUOTA_TIMEZONE" default:"Local"`
	ExpirySweepInterval time.Duration `envconfig:"EXPIRY_SWEEP_INTERVAL" default:"1h"`

	// AI provider settings
	DefaultModel             string `envconfig:"DEFAULT_MODEL" default:"gpt-4o-mini"`
	GuestModel               string `envconfig:"GUEST_MODEL" default:"gpt-4o-mini"`
	OpenAIAPIKey             string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL            string `envconfig:"OPENAI_BASE_URL"`
	AnthropicAPIKey          string `envconfig:"ANTHROPIC_API_KEY"`
	ProviderKeyEncryptionKey string `envconfig:"PROVIDER_KEY_ENCRYPTION_KEY"`
	ProviderMaxTokens        int    `envconfig:"PROVIDER_MAX_TOKENS" default:"1024"`

	// Read provider keys from Secret Manager (GCP_PROJECT_ID required), with
	// the env keys above as fallback.
	ProviderKeysFromSecretManager bool `envconfig:"PROVIDER_KEYS_FROM_SECRET_MANAGER" default:"false"`

	// GCP settings (Secret Manager, Pub/Sub)
	GCPProjectID     string `envconfig:"GCP_PROJECT_ID"`
	PubSubAuditTopic string `envconfig:"PUBSUB_AUDIT_TOPIC" default:"norvis-audit"`

	// Notification orchestrator settings
	NotificationQueueName           string `envconfig:"NOTIFICATION_QUEUE_NAME" default:"notification_queue"`
	NotificationPollTimeoutSec      int    `envconfig:"NOTIFICATION_POLL_TIMEOUT_SEC" default:"30"`
	NotificationPollMaxMsg          int    `envconfig:"NOTIFICATION_POLL_MAX_MSG" default:"10"`
	NotificationMaxRetries          int    `envconfig:"NOTIFICATION_MAX_RETRIES" default:"5"`
	NotificationBackoffInitialSec   int    `envconfig:"NOTIFICATION_BACKOFF_INITIAL_SEC" default:"1"`
	NotificationBackoffMaxSec       int    `envconfig:"NOTIFICATION_BACKOFF_MAX_SEC" default:"60"`
	NotificationDeadLetterQueueName string `envconfig:"NOTIFICATION_DEAD_LETTER_QUEUE_NAME" default:"notification_queue_dlq"`

	// Stripe settings
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePricePremium  string `envconfig:"STRIPE_PRICE_PREMIUM"`
	StripePricePro      string `envconfig:"STRIPE_PRICE_PRO"`
	StripeReturnURL     string `envconfig:"STRIPE_RETURN_URL" default:"http://localhost:3000/billing"`
	SubscriptionDays    int    `envconfig:"SUBSCRIPTION_DAYS" default:"30"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would leave the limiters unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.GuestMaxMessages < 1 {
		errs = append(errs, fmt.Errorf("GUEST_MAX_MESSAGES must be positive, got %d", c.GuestMaxMessages))
	}
	if c.GuestWindow <= 0 {
		errs = append(errs, fmt.Errorf("GUEST_WINDOW must be positive, got %s", c.GuestWindow))
	}
	if c.GuestSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("GUEST_SWEEP_INTERVAL must be positive, got %s", c.GuestSweepInterval))
	}
	switch c.GuestLimitBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("GUEST_LIMIT_BACKEND must be memory or redis, got %q", c.GuestLimitBackend))
	}
	if _, err := time.LoadLocation(c.QuotaTimezone); err != nil {
		errs = append(errs, fmt.Errorf("QUOTA_TIMEZONE: %w", err))
	}
	if c.ExpirySweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive, got %s", c.ExpirySweepInterval))
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p))
		}
	}
	if c.ProviderKeysFromSecretManager && c.GCPProjectID == "" {
		errs = append(errs, errors.New("PROVIDER_KEYS_FROM_SECRET_MANAGER requires GCP_PROJECT_ID"))
	}
	if c.SubscriptionDays < 1 {
		errs = append(errs, fmt.Errorf("SUBSCRIPTION_DAYS must be positive, got %d", c.SubscriptionDays))
	}
	return errors.Join(errs...)
}

// QuotaLocation returns the timezone that defines the daily reset boundary.
func (c *Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

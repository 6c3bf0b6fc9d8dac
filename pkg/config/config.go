package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Checkout     CheckoutConfig
	Stripe       StripeConfig
	PayPal       PayPalConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Checkout.Rate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ATELIER_APP_ENV" required:"true"`
	Port         string `envconfig:"ATELIER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ATELIER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ATELIER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ATELIER_DB_DSN"`
	Driver string `envconfig:"ATELIER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ATELIER_DB_HOST"`
	LegacyPort     int    `envconfig:"ATELIER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ATELIER_DB_USER"`
	LegacyPassword string `envconfig:"ATELIER_DB_PASSWORD"`
	LegacyName     string `envconfig:"ATELIER_DB_NAME"`
	LegacySSLMode  string `envconfig:"ATELIER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ATELIER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ATELIER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ATELIER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ATELIER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ATELIER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ATELIER_REDIS_ADDR"`
	Password     string        `envconfig:"ATELIER_REDIS_PASSWORD"`
	DB           int           `envconfig:"ATELIER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ATELIER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ATELIER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ATELIER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ATELIER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ATELIER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// CheckoutConfig drives pricing and provider verification behavior.
type CheckoutConfig struct {
	TaxRate           string        `envconfig:"ATELIER_CHECKOUT_TAX_RATE" default:"0.10"`
	Currency          string        `envconfig:"ATELIER_CHECKOUT_CURRENCY" default:"USD"`
	DefaultCountry    string        `envconfig:"ATELIER_CHECKOUT_DEFAULT_COUNTRY" default:"US"`
	OrderNumberPrefix string        `envconfig:"ATELIER_CHECKOUT_ORDER_PREFIX" default:"AT"`
	ProviderTimeout   time.Duration `envconfig:"ATELIER_CHECKOUT_PROVIDER_TIMEOUT" default:"10s"`
	VerifyMaxRetries  uint64        `envconfig:"ATELIER_CHECKOUT_VERIFY_MAX_RETRIES" default:"3"`
	WebhookEventTTL   time.Duration `envconfig:"ATELIER_CHECKOUT_WEBHOOK_EVENT_TTL" default:"720h"`
}

// Rate parses the configured tax rate into a decimal fraction.
func (c CheckoutConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tax rate %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("tax rate must not be negative, got %s", rate)
	}
	return rate, nil
}

type StripeConfig struct {
	APIKey        string `envconfig:"ATELIER_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"ATELIER_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"ATELIER_STRIPE_ENV" default:"test"`
	SuccessURL    string `envconfig:"ATELIER_STRIPE_SUCCESS_URL"`
	CancelURL     string `envconfig:"ATELIER_STRIPE_CANCEL_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	ClientID string `envconfig:"ATELIER_PAYPAL_CLIENT_ID"`
	Secret   string `envconfig:"ATELIER_PAYPAL_SECRET"`
	Env      string `envconfig:"ATELIER_PAYPAL_ENV" default:"sandbox"`
}

// IsLive reports whether the PayPal adapter must talk to the live API.
func (p PayPalConfig) IsLive() bool {
	return strings.EqualFold(strings.TrimSpace(p.Env), "live")
}

// RateLimitConfig throttles the unauthenticated checkout surface per client IP.
type RateLimitConfig struct {
	StartWindow    time.Duration `envconfig:"ATELIER_RATE_LIMIT_START_WINDOW" default:"1m"`
	StartIPLimit   int           `envconfig:"ATELIER_RATE_LIMIT_START_IP_LIMIT" default:"60"`
	ConfirmWindow  time.Duration `envconfig:"ATELIER_RATE_LIMIT_CONFIRM_WINDOW" default:"1m"`
	ConfirmIPLimit int           `envconfig:"ATELIER_RATE_LIMIT_CONFIRM_IP_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ATELIER_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		"ATELIER_DB_HOST": db.LegacyHost,
		"ATELIER_DB_USER": db.LegacyUser,
		"ATELIER_DB_NAME": db.LegacyName,
	}
	for _, env := range []string{"ATELIER_DB_HOST", "ATELIER_DB_USER", "ATELIER_DB_NAME"} {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either ATELIER_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

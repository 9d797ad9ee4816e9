package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/kasir-api/internal/credential"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	DefaultCurrency string
	// CurrencyKeys maps a currency to its provider key pair; Legacy* are the
	// single-pair fallback older deployments still run with.
	CurrencyKeys      map[string]credential.KeyPair
	LegacySecretKey   string
	LegacyPublishable string

	WebhookSecret    string
	WebhookTolerance time.Duration
	WebhookReplayTTL time.Duration

	SuccessURL string
	CancelURL  string

	// MinCharges is the per-currency minimum charge table in minor units.
	MinCharges map[string]int64

	StripeBaseURL     string
	StripeTimeout     time.Duration
	StripeMaxAttempts int

	IdempotencyTTL time.Duration

	TracingEnabled  bool
	TracingEndpoint string
	TracingSampling float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		DefaultCurrency:    credential.Canonical(valueOrDefault(k.String("DEFAULT_CURRENCY"), "usd")),
		CurrencyKeys:       parseCurrencyKeys(k.String("STRIPE_CURRENCY_KEYS")),
		LegacySecretKey:    k.String("STRIPE_SECRET_KEY"),
		LegacyPublishable:  k.String("STRIPE_PUBLISHABLE_KEY"),
		WebhookSecret:      k.String("STRIPE_WEBHOOK_SECRET"),
		WebhookTolerance:   parseDuration(k.String("WEBHOOK_TOLERANCE"), "5m"),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		SuccessURL:         valueOrDefault(k.String("SUCCESS_URL"), "http://localhost:8080/success"),
		CancelURL:          valueOrDefault(k.String("CANCEL_URL"), "http://localhost:8080/cancel"),
		MinCharges:         parseMinCharges(k.String("MIN_CHARGES")),
		StripeBaseURL:      k.String("STRIPE_BASE_URL"),
		StripeTimeout:      parseDuration(k.String("STRIPE_TIMEOUT"), "15s"),
		StripeMaxAttempts:  atoiDefault(k.String("STRIPE_MAX_ATTEMPTS"), 3),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "1h"),
		TracingEnabled:     strings.EqualFold(k.String("TRACING_ENABLED"), "true"),
		TracingEndpoint:    k.String("TRACING_ENDPOINT"),
		TracingSampling:    parseFloat(k.String("TRACING_SAMPLING"), 1),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if len(cfg.CurrencyKeys) == 0 && cfg.LegacySecretKey == "" {
		return nil, errors.New("STRIPE_CURRENCY_KEYS or STRIPE_SECRET_KEY is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// MinChargeFor returns the minimum chargeable amount for a currency,
// defaulting to 50 minor units for unlisted currencies.
func (c *Config) MinChargeFor(currency string) int64 {
	if min, ok := c.MinCharges[credential.Canonical(currency)]; ok {
		return min
	}
	return 50
}

// parseCurrencyKeys decodes "usd:sk_live_x:pk_live_x,eur:sk_live_y:pk_live_y".
func parseCurrencyKeys(value string) map[string]credential.KeyPair {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	keys := make(map[string]credential.KeyPair)
	for _, entry := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) < 2 {
			continue
		}
		pair := credential.KeyPair{Secret: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			pair.Publishable = strings.TrimSpace(parts[2])
		}
		cur := credential.Canonical(parts[0])
		if cur != "" && pair.Secret != "" {
			keys[cur] = pair
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return keys
}

// parseMinCharges decodes "usd:50,gbp:30" on top of the built-in defaults.
func parseMinCharges(value string) map[string]int64 {
	mins := map[string]int64{
		"usd": 50,
		"eur": 50,
		"gbp": 30,
	}
	for _, entry := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || amount < 0 {
			continue
		}
		cur := credential.Canonical(parts[0])
		if cur != "" {
			mins[cur] = amount
		}
	}
	return mins
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseFloat(value string, def float64) float64 {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return def
	}
	return parsed
}

func atoiDefault(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and
// command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without
// touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

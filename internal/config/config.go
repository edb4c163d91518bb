package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Capture modes accepted by CHARGX_CAPTURE_MODE.
const (
	CaptureModeSale      = "capture"
	CaptureModeAuthorize = "authorize"
)

// Config holds gateway configuration loaded from the environment.
type Config struct {
	AppEnv   string
	Port     string
	RedisURL string

	ProcessorBaseURL  string
	ProcessorAdminURL string

	TestMode           bool
	PublishableKey     string
	SecretKey          string
	TestPublishableKey string
	TestSecretKey      string
	CaptureMode        string

	CurrencyCode  string
	PublicBaseURL string

	AppleMerchantID     string
	AppleMerchantName   string
	AppleMerchantDomain string
	AppleCertPath       string
	AppleKeyPath        string
	AppleKeyPassphrase  string

	HTTPTimeout        time.Duration
	IdempotencyTTL     time.Duration
	AttemptTTL         time.Duration
	RelayRateLimit     string
	CORSAllowedOrigins []string

	SubscriptionQueue string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:   valueOrDefault(k.String("APP_ENV"), "development"),
		Port:     valueOrDefault(k.String("PORT"), "8080"),
		RedisURL: k.String("REDIS_URL"),

		ProcessorBaseURL:  valueOrDefault(k.String("CHARGX_API_URL"), "https://api.chargx.io"),
		ProcessorAdminURL: valueOrDefault(k.String("CHARGX_ADMIN_API_URL"), "https://api.chargx.io/admin"),

		TestMode:           parseBool(valueOrDefault(k.String("CHARGX_TEST_MODE"), "true")),
		PublishableKey:     strings.TrimSpace(k.String("CHARGX_PUBLISHABLE_KEY")),
		SecretKey:          strings.TrimSpace(k.String("CHARGX_SECRET_KEY")),
		TestPublishableKey: strings.TrimSpace(k.String("CHARGX_TEST_PUBLISHABLE_KEY")),
		TestSecretKey:      strings.TrimSpace(k.String("CHARGX_TEST_SECRET_KEY")),
		CaptureMode:        valueOrDefault(strings.ToLower(strings.TrimSpace(k.String("CHARGX_CAPTURE_MODE"))), CaptureModeSale),

		CurrencyCode:  valueOrDefault(k.String("CURRENCY_CODE"), "USD"),
		PublicBaseURL: strings.TrimSpace(k.String("PUBLIC_BASE_URL")),

		AppleMerchantID:     strings.TrimSpace(k.String("APPLE_MERCHANT_ID")),
		AppleMerchantName:   strings.TrimSpace(k.String("APPLE_MERCHANT_NAME")),
		AppleMerchantDomain: strings.TrimSpace(k.String("APPLE_MERCHANT_DOMAIN")),
		AppleCertPath:       strings.TrimSpace(k.String("APPLE_CERT_PATH")),
		AppleKeyPath:        strings.TrimSpace(k.String("APPLE_KEY_PATH")),
		AppleKeyPassphrase:  k.String("APPLE_KEY_PASSPHRASE"),

		HTTPTimeout:        parseDuration(k.String("CHARGX_HTTP_TIMEOUT"), "30s"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		AttemptTTL:         parseDuration(k.String("CHECKOUT_ATTEMPT_TTL"), "30m"),
		RelayRateLimit:     valueOrDefault(k.String("RELAY_RATE_LIMIT"), "30-M"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		SubscriptionQueue: valueOrDefault(k.String("SUBSCRIPTION_QUEUE"), "subscriptions"),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ActivePublishableKey() == "" {
		return nil, errors.New("a publishable key is required for the active mode")
	}
	if cfg.CaptureMode != CaptureModeSale && cfg.CaptureMode != CaptureModeAuthorize {
		return nil, fmt.Errorf("unsupported capture mode %q", cfg.CaptureMode)
	}

	return cfg, nil
}

// ActivePublishableKey returns the publishable key for the configured mode.
func (c *Config) ActivePublishableKey() string {
	if c.TestMode {
		return c.TestPublishableKey
	}
	return c.PublishableKey
}

// ActiveSecretKey returns the admin secret key for the configured mode.
func (c *Config) ActiveSecretKey() string {
	if c.TestMode {
		return c.TestSecretKey
	}
	return c.SecretKey
}

// AppleConfigured reports whether the merchant validation relay can run.
func (c *Config) AppleConfigured() bool {
	return c.AppleMerchantID != "" && c.AppleCertPath != "" && c.AppleKeyPath != ""
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
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

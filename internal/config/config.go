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
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	TrustProxy         bool

	ERP ERPConfig

	PromotionCacheTTL time.Duration
	WorkspaceTTL      time.Duration
	RowLockTTL        time.Duration
	IdempotencyTTL    time.Duration
	RateLimit         string

	Auth AuthConfig

	NotifyEmailEnabled bool
	NotifyEmailFrom    string
	WorkerConcurrency  int
}

// ERPConfig groups NetSuite connectivity and resilience settings.
type ERPConfig struct {
	BaseURL        string
	SuiteQLURL     string
	AccountRealm   string
	ConsumerKey    string
	ConsumerSecret string
	TokenID        string
	TokenSecret    string
	Timeout        time.Duration
	RetryMax       int
	RetryBase      time.Duration
	RetryJitter    float64
	BreakerMinReq  int
	BreakerRatio   float64
	BreakerOpenFor time.Duration
	AliasTablePath string
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWKSURL       string
	HMACSecret    string
	Issuer        string
	Audience      string
	CustomerClaim string
	ClockSkew     time.Duration
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
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		TrustProxy:         parseBool(k.String("TRUST_PROXY")),
		ERP: ERPConfig{
			BaseURL:        strings.TrimRight(strings.TrimSpace(k.String("ERP_BASE_URL")), "/"),
			SuiteQLURL:     strings.TrimSpace(k.String("ERP_SUITEQL_URL")),
			AccountRealm:   strings.TrimSpace(k.String("ERP_ACCOUNT_REALM")),
			ConsumerKey:    k.String("ERP_CONSUMER_KEY"),
			ConsumerSecret: k.String("ERP_CONSUMER_SECRET"),
			TokenID:        k.String("ERP_TOKEN_ID"),
			TokenSecret:    k.String("ERP_TOKEN_SECRET"),
			Timeout:        parseDuration(k.String("ERP_TIMEOUT"), "10s"),
			RetryMax:       parseInt(k.String("ERP_RETRY_MAX_ATTEMPTS"), 3),
			RetryBase:      parseDuration(k.String("ERP_RETRY_BASE"), "200ms"),
			RetryJitter:    parseFloat(k.String("ERP_RETRY_JITTER"), 0.2),
			BreakerMinReq:  parseInt(k.String("ERP_BREAKER_MIN_REQUESTS"), 10),
			BreakerRatio:   parseFloat(k.String("ERP_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor: parseDuration(k.String("ERP_BREAKER_OPEN_FOR"), "30s"),
			AliasTablePath: strings.TrimSpace(k.String("ERP_ALIAS_TABLE_PATH")),
		},
		PromotionCacheTTL: parseDuration(k.String("PROMOTION_CACHE_TTL"), "5m"),
		WorkspaceTTL:      parseDuration(k.String("WORKSPACE_TTL"), "2h"),
		RowLockTTL:        parseDuration(k.String("ROW_LOCK_TTL"), "30s"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		RateLimit:         valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
		Auth: AuthConfig{
			JWKSURL:       strings.TrimSpace(k.String("AUTH_JWKS_URL")),
			HMACSecret:    k.String("AUTH_HMAC_SECRET"),
			Issuer:        strings.TrimSpace(k.String("AUTH_ISSUER")),
			Audience:      strings.TrimSpace(k.String("AUTH_AUDIENCE")),
			CustomerClaim: valueOrDefault(k.String("AUTH_CUSTOMER_CLAIM"), "https://storefront/customer_id"),
			ClockSkew:     parseDuration(k.String("AUTH_CLOCK_SKEW"), "30s"),
		},
		NotifyEmailEnabled: parseBool(k.String("NOTIFY_EMAIL_ENABLED")),
		NotifyEmailFrom:    valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "orders@example.com"),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
	}
	if cfg.ERP.SuiteQLURL == "" && cfg.ERP.BaseURL != "" {
		cfg.ERP.SuiteQLURL = cfg.ERP.BaseURL + "/query/v1/suiteql"
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.ERP.BaseURL == "" {
		return nil, errors.New("ERP_BASE_URL is required")
	}
	if cfg.Auth.JWKSURL == "" && cfg.Auth.HMACSecret == "" {
		return nil, errors.New("AUTH_JWKS_URL or AUTH_HMAC_SECRET is required")
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

// JournalEnabled reports whether the Postgres change journal is configured.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
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
		return strings.TrimSpace(value)
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

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
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

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

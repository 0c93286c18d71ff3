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
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	AppVersion         string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	CORSAllowedOrigins []string

	MigrateOnStart bool
	DBMaxConns     int

	LoyaltyPurchaseThreshold int
	CatalogCacheTTL          time.Duration
	LoyaltyCacheTTL          time.Duration
	IdempotencyTTL           time.Duration
	BodyLimitBytes           int64
	MaxOpeningCash           decimal.Decimal

	BillRateLimitMax    int
	BillRateLimitWindow time.Duration
	PublicRateLimit     string

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	PaymentVerifier       string
	PaymentGatewayURL     string
	PaymentGatewayKey     string
	PaymentGatewayTimeout time.Duration
	CircuitMinRequests    int
	CircuitFailureRatio   float64
	CircuitOpenFor        time.Duration
	RetryMaxAttempts      int
	RetryBase             time.Duration

	QueueConcurrency int
	QueueMaxAttempts int

	LogFormat         string
	LogLevel          string
	MetricsEnabled    bool
	MetricsNamespace  string
	MetricsBucketsMS  string
	SlowRequest       time.Duration
	TracingEnabled    bool
	TracingExporter   string
	OTLPEndpoint      string
	TracingSampleRate float64

	PprofEnabled       bool
	PprofUser          string
	PprofPass          string
	SecurityHeaders    bool
	HSTSEnabled        bool
	HealthDBTimeout    time.Duration
	HealthRedisTimeout time.Duration
	ShutdownTimeout    time.Duration
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
		AppVersion:         valueOrDefault(k.String("APP_VERSION"), "dev"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "backend-kasir"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "kasir-pos"),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "12h"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		MigrateOnStart: parseBool(k.String("MIGRATE_ON_START")),
		DBMaxConns:     parseInt(k.String("DB_MAX_CONNS"), 10),

		LoyaltyPurchaseThreshold: parseInt(k.String("LOYALTY_PURCHASE_THRESHOLD"), 10),
		CatalogCacheTTL:          parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		LoyaltyCacheTTL:          parseDuration(k.String("LOYALTY_CACHE_TTL"), "10m"),
		IdempotencyTTL:           parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		BodyLimitBytes:           int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		MaxOpeningCash:           parseDecimal(k.String("SHIFT_MAX_OPENING_CASH"), "100000"),

		BillRateLimitMax:    parseInt(k.String("BILL_RATE_LIMIT_MAX"), 60),
		BillRateLimitWindow: parseDuration(k.String("BILL_RATE_LIMIT_WINDOW"), "1m"),
		PublicRateLimit:     valueOrDefault(k.String("PUBLIC_RATE_LIMIT"), "600-M"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		PaymentVerifier:       strings.ToLower(valueOrDefault(k.String("PAYMENT_VERIFIER"), "manual")),
		PaymentGatewayURL:     strings.TrimRight(strings.TrimSpace(k.String("PAYMENT_GATEWAY_URL")), "/"),
		PaymentGatewayKey:     k.String("PAYMENT_GATEWAY_KEY"),
		PaymentGatewayTimeout: parseDuration(k.String("PAYMENT_GATEWAY_TIMEOUT"), "3s"),
		CircuitMinRequests:    parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio:   parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:        parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		RetryMaxAttempts:      parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:             parseDuration(k.String("RETRY_BASE"), "100ms"),

		QueueConcurrency: parseInt(k.String("QUEUE_CONCURRENCY"), 5),
		QueueMaxAttempts: parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 10),

		LogFormat:         valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:          valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:    parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace:  valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "kasir"),
		MetricsBucketsMS:  k.String("OBS_METRICS_BUCKETS_MS"),
		SlowRequest:       parseDuration(k.String("OBS_SLOW_REQUEST_THRESHOLD"), "1s"),
		TracingEnabled:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), true),
		TracingExporter:   valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:      k.String("OBS_OTLP_ENDPOINT"),
		TracingSampleRate: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),

		PprofEnabled:       parseBool(k.String("OBS_ENABLE_PPROF")),
		PprofUser:          k.String("SECURE_PPROF_BASIC_AUTH_USER"),
		PprofPass:          k.String("SECURE_PPROF_BASIC_AUTH_PASS"),
		SecurityHeaders:    parseBoolDefault(k.String("SECURE_HEADERS_ENABLED"), true),
		HSTSEnabled:        parseBool(k.String("SECURE_HSTS_ENABLED")),
		HealthDBTimeout:    parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
		HealthRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.PaymentVerifier {
	case "manual":
	case "gateway":
		if cfg.PaymentGatewayURL == "" {
			return nil, errors.New("PAYMENT_GATEWAY_URL is required when PAYMENT_VERIFIER=gateway")
		}
	default:
		return nil, fmt.Errorf("unsupported PAYMENT_VERIFIER %q", cfg.PaymentVerifier)
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
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
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

func parseDecimal(value, fallback string) decimal.Decimal {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.RequireFromString(fallback)
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

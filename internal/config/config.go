package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the billing service configuration. Values come from an
// optional YAML file named by CONFIG_FILE, then .env, then the environment;
// later sources win. The YAML file uses the same upper-case keys.
type Config struct {
	AppEnv string
	Port   string

	RedisURL    string
	DatabaseURL string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	CORSAllowedOrigins []string
	SecurityHeaders    bool
	HSTSMaxAge         int
	MaxBodyBytes       int64

	BackendBaseURL             string
	BackendTimeout             time.Duration
	BackendReadAttempts        int
	BackendBreakerMinRequests  int
	BackendBreakerFailureRatio float64
	BackendBreakerOpenFor      time.Duration

	SettingsCacheTTL      time.Duration
	SessionStore          string
	SessionTTL            time.Duration
	SubmitInFlightTimeout time.Duration
	SearchDebounce        time.Duration
	SearchIdleTTL         time.Duration
	MaxHeldCarts          int
	IdempotencyTTL        time.Duration

	RateLimitDriver         string
	RateLimitSearchPerMin   int
	RateLimitSubmitPerMin   int
	RateLimitMutationPerMin int

	ReconcileAsync       bool
	ReconcileAutoMigrate bool
	WorkerConcurrency    int

	LogFormat  string
	LogLevel   string
	LogFile    string
	LogMaxSize int

	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string

	HealthRedisTimeout   time.Duration
	HealthDBTimeout      time.Duration
	HealthBackendTimeout time.Duration
	ShutdownTimeout      time.Duration
}

// Load reads configuration from the optional YAML file, .env files and the
// process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:    strings.TrimSpace(k.String("REDIS_URL")),
		DatabaseURL: strings.TrimSpace(k.String("DATABASE_URL")),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(k.String("JWT_AUDIENCE")),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		SecurityHeaders:    parseBool(valueOrDefault(k.String("SECURE_HEADERS_ENABLED"), "true")),
		HSTSMaxAge:         parseInt(k.String("SECURE_HSTS_MAX_AGE"), 0),
		MaxBodyBytes:       int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),

		BackendBaseURL:             strings.TrimRight(strings.TrimSpace(k.String("BACKEND_BASE_URL")), "/"),
		BackendTimeout:             parseDuration(k.String("BACKEND_TIMEOUT"), "5s"),
		BackendReadAttempts:        parseInt(k.String("BACKEND_READ_ATTEMPTS"), 1),
		BackendBreakerMinRequests:  parseInt(k.String("BACKEND_BREAKER_MIN_REQUESTS"), 10),
		BackendBreakerFailureRatio: parseFloat(k.String("BACKEND_BREAKER_FAILURE_RATIO"), 0.5),
		BackendBreakerOpenFor:      parseDuration(k.String("BACKEND_BREAKER_OPEN_FOR"), "30s"),

		SettingsCacheTTL:      parseDuration(k.String("SETTINGS_CACHE_TTL"), "5m"),
		SessionStore:          strings.ToLower(valueOrDefault(k.String("SESSION_STORE"), "")),
		SessionTTL:            parseDuration(k.String("SESSION_TTL"), "12h"),
		SubmitInFlightTimeout: parseDuration(k.String("SUBMIT_INFLIGHT_TIMEOUT"), "30s"),
		SearchDebounce:        parseDuration(k.String("SEARCH_DEBOUNCE"), "300ms"),
		SearchIdleTTL:         parseDuration(k.String("SEARCH_IDLE_TTL"), "30m"),
		MaxHeldCarts:          parseInt(k.String("MAX_HELD_CARTS"), 10),
		IdempotencyTTL:        parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		RateLimitDriver:         strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_DRIVER"), "sliding")),
		RateLimitSearchPerMin:   parseInt(k.String("RATE_LIMIT_SEARCH_PER_MIN"), 120),
		RateLimitSubmitPerMin:   parseInt(k.String("RATE_LIMIT_SUBMIT_PER_MIN"), 20),
		RateLimitMutationPerMin: parseInt(k.String("RATE_LIMIT_MUTATION_PER_MIN"), 600),

		ReconcileAsync:       parseBool(valueOrDefault(k.String("RECONCILE_ASYNC"), "true")),
		ReconcileAutoMigrate: parseBool(valueOrDefault(k.String("RECONCILE_AUTO_MIGRATE"), "true")),
		WorkerConcurrency:    parseInt(k.String("WORKER_CONCURRENCY"), 5),

		LogFormat:  valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:   valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		LogFile:    strings.TrimSpace(k.String("OBS_LOG_FILE")),
		LogMaxSize: parseInt(k.String("OBS_LOG_MAX_SIZE_MB"), 50),

		MetricsEnabled:   parseBool(valueOrDefault(k.String("OBS_ENABLE_PROMETHEUS"), "true")),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
		MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:   parseBool(valueOrDefault(k.String("OBS_ENABLE_TRACING"), "false")),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF")),
		PprofUser:        k.String("SECURE_PPROF_BASIC_AUTH_USER"),
		PprofPass:        k.String("SECURE_PPROF_BASIC_AUTH_PASS"),

		HealthRedisTimeout:   parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		HealthDBTimeout:      parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
		HealthBackendTimeout: parseDuration(k.String("HEALTH_READY_BACKEND_TIMEOUT"), "1s"),
		ShutdownTimeout:      parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if cfg.SessionStore == "" {
		cfg.SessionStore = "memory"
		if cfg.RedisURL != "" {
			cfg.SessionStore = "redis"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.BackendBaseURL == "" {
		return errors.New("BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.BackendBaseURL, "http://") && !strings.HasPrefix(c.BackendBaseURL, "https://") {
		return fmt.Errorf("BACKEND_BASE_URL must be an http(s) URL, got %q", c.BackendBaseURL)
	}
	switch c.SessionStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("SESSION_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}
	switch c.RateLimitDriver {
	case "sliding", "ulule", "off":
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_DRIVER %q", c.RateLimitDriver)
	}
	return nil
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

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error.
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

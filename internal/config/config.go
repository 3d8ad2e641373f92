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

// Catalog sources.
const (
	CatalogSourceFile     = "file"
	CatalogSourcePostgres = "postgres"
)

// Snapshot stores.
const (
	SnapshotStorePostgres = "postgres"
	SnapshotStoreRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	CatalogSource   string
	CatalogPath     string
	CatalogCacheTTL time.Duration

	SnapshotStore     string
	SnapshotKeyPrefix string
	SnapshotTTL       time.Duration
	CalcTimeout       time.Duration
	LockTTL           time.Duration
	LockRetryBackoff  time.Duration

	BatchConcurrency  int
	BatchPageSize     int
	BatchPageDelay    time.Duration
	WorkerConcurrency int
	RecalcUnique      time.Duration

	QuoteRateLimit string
	AutoMigrate    bool

	LogFormat      string
	LogLevel       string
	MetricsEnabled bool
	TracingEnabled bool
	OTLPEndpoint   string
	ServiceName    string
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

		CatalogSource:   strings.ToLower(valueOrDefault(k.String("CATALOG_SOURCE"), CatalogSourceFile)),
		CatalogPath:     valueOrDefault(k.String("CATALOG_PATH"), "catalog/pricing.json"),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "10m"),

		SnapshotStore:     strings.ToLower(valueOrDefault(k.String("SNAPSHOT_STORE"), SnapshotStorePostgres)),
		SnapshotKeyPrefix: valueOrDefault(k.String("SNAPSHOT_KEY_PREFIX"), "snapshot:order:"),
		SnapshotTTL:       parseDuration(k.String("SNAPSHOT_TTL"), "168h"),
		CalcTimeout:       parseDuration(k.String("CALC_TIMEOUT"), "5s"),
		LockTTL:           parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:  parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		BatchConcurrency:  parseInt(k.String("BATCH_CONCURRENCY"), 4),
		BatchPageSize:     parseInt(k.String("BATCH_PAGE_SIZE"), 200),
		BatchPageDelay:    parseDuration(k.String("BATCH_PAGE_DELAY"), "100ms"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),
		RecalcUnique:      parseDuration(k.String("RECALC_UNIQUE_WINDOW"), "1m"),

		QuoteRateLimit: valueOrDefault(k.String("QUOTE_RATE_LIMIT"), "120-M"),
		AutoMigrate:    parseBool(k.String("AUTO_MIGRATE")),

		LogFormat:      valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:       valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled: parseBoolDefault(k.String("OBS_METRICS_ENABLED"), true),
		TracingEnabled: parseBool(k.String("OBS_TRACING_ENABLED")),
		OTLPEndpoint:   strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:    valueOrDefault(k.String("OTEL_SERVICE_NAME"), "capquote"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.CatalogSource {
	case CatalogSourceFile, CatalogSourcePostgres:
	default:
		return nil, fmt.Errorf("CATALOG_SOURCE must be %q or %q", CatalogSourceFile, CatalogSourcePostgres)
	}
	switch cfg.SnapshotStore {
	case SnapshotStorePostgres, SnapshotStoreRedis:
	default:
		return nil, fmt.Errorf("SNAPSHOT_STORE must be %q or %q", SnapshotStorePostgres, SnapshotStoreRedis)
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

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
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

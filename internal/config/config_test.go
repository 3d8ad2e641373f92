package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/capquote/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":         "postgres://localhost:5432/capquote",
		"REDIS_URL":            "redis://localhost:6379/0",
		"CATALOG_SOURCE":       "",
		"SNAPSHOT_STORE":       "",
		"BATCH_CONCURRENCY":    "",
		"BATCH_PAGE_DELAY":     "",
		"CALC_TIMEOUT":         "",
		"OBS_METRICS_ENABLED":  "",
		"CORS_ALLOWED_ORIGINS": "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, config.CatalogSourceFile, cfg.CatalogSource)
	require.Equal(t, config.SnapshotStorePostgres, cfg.SnapshotStore)
	require.Equal(t, 4, cfg.BatchConcurrency)
	require.Equal(t, 5*time.Second, cfg.CalcTimeout)
	require.Equal(t, 100*time.Millisecond, cfg.BatchPageDelay)
	require.True(t, cfg.MetricsEnabled)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["CATALOG_SOURCE"] = "Postgres"
	env["SNAPSHOT_STORE"] = "redis"
	env["BATCH_CONCURRENCY"] = "16"
	env["CALC_TIMEOUT"] = "750ms"
	env["BATCH_PAGE_DELAY"] = "0"
	env["OBS_METRICS_ENABLED"] = "off"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example, ,https://b.example"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, config.CatalogSourcePostgres, cfg.CatalogSource)
	require.Equal(t, config.SnapshotStoreRedis, cfg.SnapshotStore)
	require.Equal(t, 16, cfg.BatchConcurrency)
	require.Equal(t, 750*time.Millisecond, cfg.CalcTimeout)
	require.Zero(t, cfg.BatchPageDelay)
	require.False(t, cfg.MetricsEnabled)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "DATABASE_URL")

	env = baseEnv()
	env["CATALOG_SOURCE"] = "s3"
	_, err = config.LoadForTests(env)
	require.ErrorContains(t, err, "CATALOG_SOURCE")

	env = baseEnv()
	env["SNAPSHOT_STORE"] = "memcached"
	_, err = config.LoadForTests(env)
	require.ErrorContains(t, err, "SNAPSHOT_STORE")
}

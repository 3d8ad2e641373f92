package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/capquote/internal/batch"
	"github.com/noah-isme/capquote/internal/catalog"
	"github.com/noah-isme/capquote/internal/config"
	"github.com/noah-isme/capquote/internal/lock"
	"github.com/noah-isme/capquote/internal/migrations"
	"github.com/noah-isme/capquote/internal/obs"
	"github.com/noah-isme/capquote/internal/pricing"
	"github.com/noah-isme/capquote/internal/quote"
	"github.com/noah-isme/capquote/internal/repo"
	"github.com/noah-isme/capquote/internal/snapshot"
)

// Dependencies enumerates the services shared by the API, the worker and the
// operator tools.
type Dependencies struct {
	Config       *config.Config
	Logger       zerolog.Logger
	DB           *pgxpool.Pool
	Redis        *redis.Client
	Catalog      *pricing.Catalog
	CatalogCache *catalog.CachedSource
	Engine       *pricing.Engine
	Orders       repo.Orders
	Snapshots    *snapshot.Cache
	TaskClient   *asynq.Client
	Enqueuer     batch.TaskEnqueuer
	Batch        *batch.Recalculator
}

// Build connects to Postgres and Redis, optionally migrates the schema, loads
// the catalog and assembles the pricing services. appName is reported to
// Postgres as application_name.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		logger.Info().Msg("database migrations applied")
	}

	pool, err := OpenDatabase(ctx, cfg.DatabaseURL, appName)
	if err != nil {
		return nil, err
	}
	rdb, err := OpenRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	d := &Dependencies{Config: cfg, Logger: logger, DB: pool, Redis: rdb, Orders: repo.Orders{DB: pool}}
	if err := d.wire(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dependencies) wire(ctx context.Context) error {
	cfg := d.Config
	source, cached := CatalogSource(cfg, d.DB, d.Redis, obs.Component(d.Logger, "catalog_source"))
	d.CatalogCache = cached
	d.Catalog = pricing.NewCatalog(source, d.Logger)
	if err := d.Catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("load pricing catalog: %w", err)
	}

	engine, err := pricing.NewEngine(pricing.EngineConfig{Catalog: d.Catalog, Logger: &d.Logger})
	if err != nil {
		return err
	}
	d.Engine = engine

	cache, err := snapshot.New(snapshot.Config{
		Store:   SnapshotStore(cfg, d.DB, d.Redis),
		Orders:  d.Orders,
		Engine:  engine,
		Locker:  lock.Locker{R: d.Redis, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL: cfg.LockTTL,
		Timeout: cfg.CalcTimeout,
		Logger:  &d.Logger,
	})
	if err != nil {
		return err
	}
	d.Snapshots = cache

	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis uri for tasks: %w", err)
	}
	d.TaskClient = asynq.NewClient(opt)
	d.Enqueuer = batch.TaskEnqueuer{Client: d.TaskClient, Unique: cfg.RecalcUnique}

	d.Batch, err = batch.NewRecalculator(batch.Config{
		Resolver:    cache,
		Concurrency: cfg.BatchConcurrency,
		PageSize:    cfg.BatchPageSize,
		PageDelay:   cfg.BatchPageDelay,
		Logger:      &d.Logger,
	})
	return err
}

// QuoteService assembles the HTTP-facing pricing service.
func (d *Dependencies) QuoteService() (*quote.Service, error) {
	cfg := quote.ServiceConfig{
		Engine:      d.Engine,
		Catalog:     d.Catalog,
		Orders:      d.Orders,
		Totals:      d.Snapshots,
		Enqueuer:    d.Enqueuer,
		Batch:       d.Batch,
		ForcedBatch: d.Batch.Forced(),
		Logger:      &d.Logger,
	}
	if d.CatalogCache != nil {
		cfg.CatalogCache = d.CatalogCache
	}
	return quote.NewService(cfg)
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() {
	if d.TaskClient != nil {
		if err := d.TaskClient.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// OpenDatabase opens a traced pgx pool and verifies connectivity.
func OpenDatabase(ctx context.Context, databaseURL, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if appName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis opens an instrumented Redis client and verifies connectivity.
// Instrumentation failures are logged, not fatal.
func OpenRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CatalogSource selects the configured catalog source. A Postgres source is
// fronted by a Redis cache when a client and TTL are available; the cache is
// returned separately so refreshes can invalidate it.
func CatalogSource(cfg *config.Config, db catalog.Querier, rdb *redis.Client, logger *zerolog.Logger) (pricing.Source, *catalog.CachedSource) {
	if cfg.CatalogSource != config.CatalogSourcePostgres {
		return catalog.FileSource{Path: cfg.CatalogPath}, nil
	}
	src := catalog.PostgresSource{DB: db}
	if rdb == nil || cfg.CatalogCacheTTL <= 0 {
		return src, nil
	}
	cached := &catalog.CachedSource{
		Source: src,
		Cache:  catalog.NewCache(rdb, cfg.CatalogCacheTTL),
		Key:    catalog.DefaultCacheKey,
		Logger: logger,
	}
	return cached, cached
}

// SnapshotStore selects where order snapshots live.
func SnapshotStore(cfg *config.Config, db snapshot.DB, rdb *redis.Client) snapshot.Store {
	if cfg.SnapshotStore == config.SnapshotStoreRedis && rdb != nil {
		return snapshot.RedisStore{Client: rdb, Prefix: cfg.SnapshotKeyPrefix, TTL: cfg.SnapshotTTL}
	}
	return snapshot.PostgresStore{DB: db}
}

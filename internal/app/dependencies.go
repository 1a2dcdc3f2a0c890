package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/ratelimit"
	"github.com/noah-isme/toko-pos/internal/reconcile"
)

// ReconcileQueue is the asynq queue carrying reconciliation records.
const ReconcileQueue = "reconcile"

// Dependencies enumerates the shared clients built at process start. Redis
// and DB are nil when the corresponding URL is not configured.
type Dependencies struct {
	Redis *redis.Client
	DB    *pgxpool.Pool
	Tasks *asynq.Client
}

// Build connects to the configured Redis and Postgres and applies the
// reconciliation schema when auto-migrate is enabled.
func Build(ctx context.Context, cfg *config.Config, appName string, logger zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled, logger)
		if err != nil {
			return nil, err
		}
		deps.Redis = rdb
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("parse task redis url: %w", err)
		}
		deps.Tasks = asynq.NewClient(opt)
	}
	if cfg.DatabaseURL != "" {
		if cfg.ReconcileAutoMigrate {
			if err := reconcile.Migrate(cfg.DatabaseURL); err != nil {
				deps.Close(logger)
				return nil, err
			}
		}
		pool, err := NewPool(ctx, cfg.DatabaseURL, appName)
		if err != nil {
			deps.Close(logger)
			return nil, err
		}
		deps.DB = pool
	}
	return deps, nil
}

// Close releases every client.
func (d *Dependencies) Close(logger zerolog.Logger) {
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// NewRedis parses url, instruments the client with OpenTelemetry and pings it.
func NewRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
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
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewPool opens a traced pgx pool.
func NewPool(ctx context.Context, url, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewLimiter picks the rate limiter backend for driver. It returns nil for
// "off". Without Redis both drivers fall back to an in-process ulule store.
func NewLimiter(driver string, rdb *redis.Client) (ratelimit.Allower, error) {
	switch driver {
	case "off":
		return nil, nil
	case "sliding":
		if rdb == nil {
			return ratelimit.NewUluleMemory("pos:rl"), nil
		}
		return ratelimit.Limiter{Client: rdb, Prefix: ratelimit.DefaultPrefix}, nil
	case "ulule":
		if rdb == nil {
			return ratelimit.NewUluleMemory("pos:rl"), nil
		}
		return ratelimit.NewUluleRedis(rdb, "pos:rl")
	default:
		return nil, fmt.Errorf("unsupported rate limit driver %q", driver)
	}
}

// Reconciliation returns where records are written and read back. With a
// database and a task client, and async enabled, writes go through the
// queue; otherwise they are stored inline.
func (d *Dependencies) Reconciliation(async bool) (reconcile.Recorder, reconcile.Store) {
	var store reconcile.Store = reconcile.NewMemoryStore()
	if d.DB != nil {
		store = reconcile.PostgresStore{Pool: d.DB}
	}
	if async && d.DB != nil && d.Tasks != nil {
		return reconcile.AsyncRecorder{
			Client:   d.Tasks,
			Queue:    ReconcileQueue,
			MaxRetry: 10,
			Retain:   24 * time.Hour,
		}, store
	}
	return reconcile.StoreRecorder{Store: store}, store
}

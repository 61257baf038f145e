package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Runtime holds the ledger engine together with the connections it owns.
type Runtime struct {
	Config  *Config
	Logger  *slog.Logger
	Engine  *ledger.Engine
	Metrics *observability.Metrics
	Pool    *pgxpool.Pool
	Redis   *redis.Client

	publisher *integration.KafkaPublisher
}

// Open builds the engine for cfg. The postgres store needs PG_DSN; Redis and
// Kafka are optional and degrade to no-op collaborators when unreachable or
// unset. The memory store never dials anything.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	opts := ledger.Options{
		PostingMetrics:  rt.Metrics,
		PeriodMetrics:   rt.Metrics,
		Logger:          logger,
		AccountCacheTTL: cfg.AccountCacheTTL,
		PostRetry:       accounting.DefaultRetryPolicy,
		CloseRetry:      accounting.RetryPolicy{Attempts: cfg.CloseRetryAttempts, Backoff: cfg.CloseRetryBackoff},
	}

	var repo accounting.RepositoryPort
	if cfg.UsesMemoryStore() {
		repo = memstore.New()
		opts.Audit = shared.NewSlogAuditor(logger.With(slog.String("component", "audit")))
		opts.Mappings = mappings.NewMemoryRepository()
	} else {
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		repo = accounting.NewRepository(pool, cfg.PGLockTimeout)
		opts.Audit = shared.NewAuditLogger(pool)
		opts.Mappings = mappings.NewRepository(pool)

		if cfg.RedisAddr != "" {
			client, err := cache.New(ctx, cfg.RedisAddr)
			if err != nil {
				logger.Warn("balance cache disabled", slog.Any("error", err))
			} else {
				rt.Redis = client
				opts.BalanceCache = gl.NewRedisBalanceCache(client, cfg.BalanceCacheTTL)
			}
		}
	}

	if cfg.KafkaEnabled() {
		rt.publisher = integration.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger.With(slog.String("component", "kafka")))
		opts.Events = rt.publisher
	}

	rt.Engine = ledger.New(repo, opts)
	return rt, nil
}

// InitSchema applies the Postgres DDL. It is a no-op for the memory store.
func (rt *Runtime) InitSchema(ctx context.Context) error {
	if rt.Pool == nil {
		return nil
	}
	return db.ApplySchema(ctx, rt.Pool)
}

// Close releases every connection held by the runtime.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.publisher != nil {
		errs = append(errs, rt.publisher.Close())
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	return errors.Join(errs...)
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/tradeledger/internal/blob/s3"
	memcache "github.com/alanyoungcy/tradeledger/internal/cache/memory"
	"github.com/alanyoungcy/tradeledger/internal/cache/redis"
	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/platform/brokerage"
	"github.com/alanyoungcy/tradeledger/internal/server/handler"
	memstore "github.com/alanyoungcy/tradeledger/internal/store/memory"
	"github.com/alanyoungcy/tradeledger/internal/store/postgres"
)

// Dependencies bundles every backend the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	LedgerStore domain.LedgerStore
	AuditStore  domain.AuditStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// BlobWriter is nil when the settlement journal is disabled.
	BlobWriter domain.BlobWriter

	OrderAPI domain.OrderAPI

	// Health lists the external backends pinged by GET /api/health.
	Health map[string]handler.HealthChecker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthChecker)}

	// --- Ledger store ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		logger.WarnContext(ctx, "wire: using in-memory ledger store, positions are lost on exit")
		deps.LedgerStore = memstore.NewLedgerStore()
		deps.AuditStore = memstore.NewAuditStore()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.ConnLifetime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient
	}

	// --- Redis, or in-process equivalents ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Brokerage.RateLimit > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Brokerage.RateLimit, cfg.Brokerage.RateWindow.Duration)
		}
		deps.Health["redis"] = redisClient
	} else {
		deps.LockManager = memcache.NewLockManager()
		deps.SignalBus = memcache.NewSignalBus()
		if cfg.Brokerage.RateLimit > 0 {
			deps.RateLimiter = memcache.NewRateLimiter(cfg.Brokerage.RateLimit, cfg.Brokerage.RateWindow.Duration)
		}
	}

	// --- S3 settlement journal ---
	if cfg.S3.Enabled {
		journal, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = journal
		deps.Health["s3"] = journal
	}

	// --- Brokerage ---
	api := brokerage.NewClient(cfg.Brokerage.BaseURL, cfg.Brokerage.Timeout.Duration)
	if cfg.Brokerage.APIKey != "" {
		api.WithSigner(brokerage.BearerToken(cfg.Brokerage.APIKey))
	}
	if deps.RateLimiter != nil {
		api.WithRateLimiter(deps.RateLimiter)
	}
	deps.OrderAPI = api

	return deps, cleanup, nil
}

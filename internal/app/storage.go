package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
	"github.com/vladislavdragonenkov/pos/internal/storage/redisstore"
)

const redisPingTimeout = 3 * time.Second

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	carts       domain.CartStore
	pending     domain.PendingOrderStore
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyStore

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}
	d.closers = nil
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: map[string]healthcheck.Checker{}}

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps.pending = memory.NewPendingOrderRepository()
		deps.outbox = memory.NewOutboxRepository()
		deps.idempotency = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage for pending orders")
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				deps.close(logger)
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		deps.pending = postgres.NewPendingOrderRepository(store)
		deps.outbox = postgres.NewOutboxRepository(store)
		deps.idempotency = postgres.NewIdempotencyRepository(store)
		deps.checkers["postgres"] = healthcheck.NewSimpleChecker("postgres", store.Ping)
		logger.Info("using postgres storage for pending orders")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch cfg.CartStoreDriver {
	case "", StorageDriverMemory:
		deps.carts = memory.NewCartRepository()
	case StorageDriverRedis:
		carts, closeFn, err := openRedisCarts(ctx, cfg)
		if err != nil {
			deps.close(logger)
			return nil, err
		}
		deps.carts = carts
		deps.closers = append(deps.closers, closeFn)
		deps.checkers["redis"] = healthcheck.NewSimpleChecker("redis", carts.Ping)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis cart store")
	default:
		deps.close(logger)
		return nil, fmt.Errorf("unsupported cart store %q", cfg.CartStoreDriver)
	}

	return deps, nil
}

func openRedisCarts(ctx context.Context, cfg Config) (*redisstore.CartStore, func() error, error) {
	if cfg.RedisAddr == "" {
		return nil, nil, errors.New("redis address is required for redis cart store")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return redisstore.NewCartStore(client, cfg.CartTTL), client.Close, nil
}

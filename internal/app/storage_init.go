package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	"github.com/vladislavdragonenkov/checkout/internal/storage/rediscache"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// runtimeDependencies: репозитории и проверки выбранного хранилища.
type runtimeDependencies struct {
	customers       domain.CustomerRepository
	products        domain.ProductRepository
	orders          domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	transactor      domain.Transactor

	storageChecker healthcheck.Checker
	cacheChecker   healthcheck.Checker
	closeFn        func() error
}

// storageBackend: общий набор методов memory.Store и postgres.Store.
type storageBackend interface {
	domain.Transactor
	Customers() domain.CustomerRepository
	Products() domain.ProductRepository
	Orders() domain.OrderRepository
	Outbox() domain.OutboxRepository
	Idempotency() domain.IdempotencyRepository
}

var (
	_ storageBackend = (*memory.Store)(nil)
	_ storageBackend = (*postgres.Store)(nil)
)

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	var (
		deps    runtimeDependencies
		backend storageBackend
	)

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		backend = memory.NewStore()
		deps.storageChecker = healthcheck.NewSimpleChecker("storage", func(context.Context) error { return nil })
		deps.closeFn = func() error { return nil }
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		backend = store
		deps.storageChecker = healthcheck.NewSimpleChecker("storage", store.Ping)
		deps.closeFn = store.Close
		logger.Info("using postgres storage")
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	deps.customers = backend.Customers()
	deps.products = backend.Products()
	deps.orders = backend.Orders()
	deps.outboxRepo = backend.Outbox()
	deps.idempotencyRepo = backend.Idempotency()
	deps.transactor = backend

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:       cfg.RedisAddr,
			ClientName: version.ClientID("checkout"),
		})
		deps.customers = rediscache.NewCustomerCache(deps.customers, client, cfg.CustomerCacheTTL)
		deps.cacheChecker = healthcheck.NewOptionalChecker("customer_cache", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})

		closeStorage := deps.closeFn
		deps.closeFn = func() error {
			return errors.Join(client.Close(), closeStorage())
		}
		logger.WithField("addr", cfg.RedisAddr).Info("customer cache enabled")
	}

	return deps, nil
}

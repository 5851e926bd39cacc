package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
// Теги env и env-default читаются cleanenv; значения по умолчанию совпадают с DefaultConfig.
type Config struct {
	GRPCAddr    string `env:"CHECKOUT_GRPC_ADDR" env-default:":50051" env-description:"gRPC listen address"`
	MetricsAddr string `env:"CHECKOUT_METRICS_ADDR" env-default:":9090" env-description:"Prometheus /metrics listen address, empty disables"`

	StorageDriver       string `env:"CHECKOUT_STORAGE_DRIVER" env-default:"memory" env-description:"memory or postgres"`
	PostgresDSN         string `env:"CHECKOUT_POSTGRES_DSN" env-description:"PostgreSQL DSN for the postgres driver"`
	PostgresAutoMigrate bool   `env:"CHECKOUT_POSTGRES_AUTO_MIGRATE" env-default:"true" env-description:"apply embedded migrations on start"`

	// RedisAddr включает кеш покупателей; пустое значение - без кеша.
	RedisAddr        string        `env:"CHECKOUT_REDIS_ADDR" env-description:"Redis address for the customer cache"`
	CustomerCacheTTL time.Duration `env:"CHECKOUT_CUSTOMER_CACHE_TTL" env-default:"10m"`

	// KafkaBrokers: список через запятую; пустое значение отключает публикацию outbox.
	KafkaBrokers string `env:"CHECKOUT_KAFKA_BROKERS" env-description:"comma separated Kafka brokers"`
	KafkaTopic   string `env:"CHECKOUT_KAFKA_TOPIC" env-default:"checkout.order.events"`

	OutboxPollInterval    time.Duration `env:"CHECKOUT_OUTBOX_POLL_INTERVAL" env-default:"1s"`
	OutboxBatchSize       int           `env:"CHECKOUT_OUTBOX_BATCH_SIZE" env-default:"100"`
	OutboxMaxAttempts     int           `env:"CHECKOUT_OUTBOX_MAX_ATTEMPTS" env-default:"3"`
	OutboxRetryDelay      time.Duration `env:"CHECKOUT_OUTBOX_RETRY_DELAY" env-default:"50ms"`
	// OutboxBreakerFailures: число подряд неудачных публикаций до размыкания цепи; 0 отключает breaker.
	OutboxBreakerFailures int           `env:"CHECKOUT_OUTBOX_BREAKER_FAILURES" env-default:"5"`
	OutboxBreakerReset    time.Duration `env:"CHECKOUT_OUTBOX_BREAKER_RESET" env-default:"30s"`

	IdempotencyTTL              time.Duration `env:"CHECKOUT_IDEMPOTENCY_TTL" env-default:"24h"`
	IdempotencyCleanupInterval  time.Duration `env:"CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL" env-default:"1m"`
	IdempotencyCleanupBatchSize int           `env:"CHECKOUT_IDEMPOTENCY_CLEANUP_BATCH_SIZE" env-default:"500"`

	// SeedFile: JSON с покупателями и товарами, загружается при старте.
	SeedFile string `env:"CHECKOUT_SEED_FILE" env-description:"JSON seed with customers and products"`
}

// DefaultConfig возвращает конфигурацию для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		CustomerCacheTTL:            10 * time.Minute,
		KafkaTopic:                  "checkout.order.events",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxBreakerFailures:       5,
		OutboxBreakerReset:          30 * time.Second,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Validate проверяет диапазоны и согласованность настроек до открытия соединений.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.CustomerCacheTTL <= 0 {
		errs = append(errs, errors.New("customer cache ttl must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must be non-negative"))
	}
	if c.OutboxBreakerFailures < 0 {
		errs = append(errs, errors.New("outbox breaker failures must be non-negative"))
	}
	if c.OutboxBreakerFailures > 0 && c.OutboxBreakerReset <= 0 {
		errs = append(errs, errors.New("outbox breaker reset must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be positive"))
	}
	if c.IdempotencyCleanupInterval <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval must be positive"))
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup batch size must be positive"))
	}

	return errors.Join(errs...)
}

// Brokers разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

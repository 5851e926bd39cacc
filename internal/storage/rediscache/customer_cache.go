package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	// DefaultCustomerTTL: срок жизни записи о покупателе в кеше.
	DefaultCustomerTTL = 10 * time.Minute

	customerKeyPrefix = "checkout:customer:"
)

// CustomerCache: cache-aside декоратор над CustomerRepository.
// Кешируются только найденные покупатели: отсутствие не запоминается,
// чтобы новый покупатель был виден сразу после регистрации.
// Ошибки Redis не прерывают проверку, запрос уходит в основной репозиторий.
type CustomerCache struct {
	next   domain.CustomerRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *log.Entry
}

// NewCustomerCache оборачивает репозиторий кешем. ttl<=0 заменяется на DefaultCustomerTTL.
func NewCustomerCache(next domain.CustomerRepository, client redis.UniversalClient, ttl time.Duration) *CustomerCache {
	if ttl <= 0 {
		ttl = DefaultCustomerTTL
	}
	return &CustomerCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "customer-cache"),
	}
}

// FindByID сначала читает кеш, при промахе обращается к репозиторию и заполняет кеш.
func (c *CustomerCache) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	key := customerKey(id)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var customer domain.Customer
		if decodeErr := json.Unmarshal(raw, &customer); decodeErr == nil {
			return customer, nil
		}
		c.logger.WithField("key", key).Warn("drop malformed cache entry")
		c.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).Warn("customer cache read failed")
	}

	customer, err := c.next.FindByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	data, err := json.Marshal(customer)
	if err != nil {
		return customer, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("customer cache write failed")
	}

	return customer, nil
}

// Upsert пишет в репозиторий и сбрасывает запись в кеше.
func (c *CustomerCache) Upsert(ctx context.Context, customer domain.Customer) error {
	if err := c.next.Upsert(ctx, customer); err != nil {
		return err
	}
	if err := c.client.Del(ctx, customerKey(customer.ID)).Err(); err != nil {
		c.logger.WithError(err).Warn("customer cache invalidation failed")
	}
	return nil
}

func customerKey(id string) string {
	return customerKeyPrefix + id
}

var _ domain.CustomerRepository = (*CustomerCache)(nil)

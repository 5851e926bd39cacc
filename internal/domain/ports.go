package domain

import (
	"context"
	"time"
)

// CustomerRepository: источник записей о покупателях.
type CustomerRepository interface {
	// FindByID возвращает покупателя или ErrCustomerNotFound, если его нет.
	FindByID(ctx context.Context, id string) (Customer, error)
	// Upsert создаёт или обновляет покупателя (используется при загрузке данных).
	Upsert(ctx context.Context, customer Customer) error
}

// ProductRepository: каталог товаров с остатками.
type ProductRepository interface {
	// FindAllByID возвращает найденные товары; отсутствующие идентификаторы просто пропускаются.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
	// UpdateQuantity применяет новые остатки целиком или не применяет ни одного.
	UpdateQuantity(ctx context.Context, levels []StockLevel) ([]Product, error)
	// Upsert создаёт или обновляет товар (используется при загрузке каталога).
	Upsert(ctx context.Context, product Product) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ и его позиции одним вызовом и возвращает созданную запись.
	Create(ctx context.Context, order NewOrder) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми; limit <= 0 - без ограничения.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// Transactor выполняет fn как единую единицу работы.
// Репозитории того же хранилища, вызванные с переданным ctx, участвуют в транзакции.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

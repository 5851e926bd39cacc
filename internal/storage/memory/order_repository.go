package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// orderRepositoryInMemory: простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	now   func() time.Time
	gate  *txGate
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return newOrderRepository()
}

func newOrderRepository() *orderRepositoryInMemory {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create присваивает заказу и позициям идентификаторы и сохраняет копию.
// Заказ, нарушающий инварианты, не сохраняется.
func (r *orderRepositoryInMemory) Create(ctx context.Context, in domain.NewOrder) (domain.Order, error) {
	amount, err := in.AmountMinor()
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	lines := domain.CloneLines(in.Lines)
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
	}

	order := domain.Order{
		ID:          uuid.NewString(),
		CustomerID:  in.CustomerID,
		Lines:       lines,
		AmountMinor: amount,
		CreatedAt:   r.now(),
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("create order: %w", errors.Join(errs...))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}
	r.items[order.ID] = order
	record(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.items, order.ID)
	})

	return cloneOrder(order), nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(ctx context.Context, id string) (domain.Order, error) {
	defer r.gate.readLock(ctx)()

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	defer r.gate.readLock(ctx)()

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Count возвращает количество сохранённых заказов (используется в тестах).
func (r *orderRepositoryInMemory) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = domain.CloneLines(order.Lines)
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)

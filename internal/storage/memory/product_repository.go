package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// productRepositoryInMemory: каталог товаров в памяти.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
	gate  *txGate
}

// NewProductRepository возвращает in-memory каталог для локальной разработки и тестов.
func NewProductRepository() domain.ProductRepository {
	return newProductRepository()
}

func newProductRepository() *productRepositoryInMemory {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

// FindAllByID возвращает найденные товары в порядке запроса, без повторов.
func (r *productRepositoryInMemory) FindAllByID(ctx context.Context, ids []string) ([]domain.Product, error) {
	defer r.gate.readLock(ctx)()

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if product, ok := r.items[id]; ok {
			result = append(result, product)
		}
	}
	return result, nil
}

// UpdateQuantity сначала проверяет весь батч и только потом применяет изменения.
func (r *productRepositoryInMemory) UpdateQuantity(ctx context.Context, levels []domain.StockLevel) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, level := range levels {
		if _, ok := r.items[level.ProductID]; !ok {
			return nil, fmt.Errorf("%w: unknown product %s", domain.ErrStockUpdateRejected, level.ProductID)
		}
		if level.Quantity < 0 {
			return nil, fmt.Errorf("%w: negative quantity %d for product %s",
				domain.ErrStockUpdateRejected, level.Quantity, level.ProductID)
		}
	}

	previous := make(map[string]int64, len(levels))
	updated := make([]domain.Product, 0, len(levels))
	for _, level := range levels {
		product := r.items[level.ProductID]
		if _, saved := previous[level.ProductID]; !saved {
			previous[level.ProductID] = product.Quantity
		}
		product.Quantity = level.Quantity
		r.items[level.ProductID] = product
		updated = append(updated, product)
	}

	record(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for id, qty := range previous {
			product := r.items[id]
			product.Quantity = qty
			r.items[id] = product
		}
	})

	return updated, nil
}

func (r *productRepositoryInMemory) Upsert(ctx context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.items[product.ID]
	r.items[product.ID] = product
	record(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existed {
			r.items[product.ID] = prev
		} else {
			delete(r.items, product.ID)
		}
	})
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)

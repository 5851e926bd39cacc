package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type customerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Customer
}

// NewCustomerRepository возвращает in-memory справочник покупателей.
func NewCustomerRepository() domain.CustomerRepository {
	return newCustomerRepository()
}

func newCustomerRepository() *customerRepositoryInMemory {
	return &customerRepositoryInMemory{items: make(map[string]domain.Customer)}
}

func (r *customerRepositoryInMemory) FindByID(_ context.Context, id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (r *customerRepositoryInMemory) Upsert(ctx context.Context, customer domain.Customer) error {
	if customer.ID == "" {
		return domain.ErrCustomerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.items[customer.ID]
	r.items[customer.ID] = customer
	record(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existed {
			r.items[customer.ID] = prev
		} else {
			delete(r.items, customer.ID)
		}
	})
	return nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)

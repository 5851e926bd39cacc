package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// journal накапливает компенсирующие действия транзакции.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

type journalKey struct{}

// record добавляет компенсацию, если ctx принадлежит транзакции.
func record(ctx context.Context, undo func()) {
	j, ok := ctx.Value(journalKey{}).(*journal)
	if !ok || j == nil {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, undo)
	j.mu.Unlock()
}

// txGate упорядочивает чтения вне транзакции относительно InTx.
// Читатель без транзакционного ctx ждёт завершения текущей транзакции и
// не видит её незафиксированных записей (read committed). Внутри транзакции
// чтение идёт без ожидания: транзакция уже держит gate.
type txGate struct {
	mu sync.RWMutex
}

// readLock захватывает gate на чтение и возвращает функцию освобождения.
// nil gate (репозиторий вне Store) ничего не блокирует.
func (g *txGate) readLock(ctx context.Context) func() {
	if g == nil {
		return func() {}
	}
	if _, inTx := ctx.Value(journalKey{}).(*journal); inTx {
		return func() {}
	}
	g.mu.RLock()
	return g.mu.RUnlock
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// Store объединяет in-memory репозитории и реализует domain.Transactor.
// Транзакции выполняются последовательно; при ошибке записи, сделанные внутри, откатываются.
// Чтения заказов, товаров и outbox вне транзакции ждут её завершения.
type Store struct {
	gate *txGate

	customers   *customerRepositoryInMemory
	products    *productRepositoryInMemory
	orders      *orderRepositoryInMemory
	outbox      *outboxRepositoryInMemory
	idempotency *idempotencyRepositoryInMemory
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	gate := &txGate{}

	products := newProductRepository()
	products.gate = gate
	orders := newOrderRepository()
	orders.gate = gate
	outbox := newOutboxRepository()
	outbox.gate = gate

	return &Store{
		gate:        gate,
		customers:   newCustomerRepository(),
		products:    products,
		orders:      orders,
		outbox:      outbox,
		idempotency: newIdempotencyRepository(),
	}
}

// Customers возвращает справочник покупателей.
func (s *Store) Customers() domain.CustomerRepository { return s.customers }

// Products возвращает каталог товаров.
func (s *Store) Products() domain.ProductRepository { return s.products }

// Orders возвращает хранилище заказов.
func (s *Store) Orders() domain.OrderRepository { return s.orders }

// Outbox возвращает transactional outbox.
func (s *Store) Outbox() domain.OutboxRepository { return s.outbox }

// Idempotency возвращает хранилище idempotency-ключей.
func (s *Store) Idempotency() domain.IdempotencyRepository { return s.idempotency }

// OrderCount возвращает число сохранённых заказов.
func (s *Store) OrderCount() int { return s.orders.Count() }

// InTx выполняет fn под эксклюзивной блокировкой хранилища.
// Вложенный вызов с транзакционным ctx выполняется в рамках внешней транзакции.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(journalKey{}).(*journal); nested {
		return fn(ctx)
	}

	s.gate.mu.Lock()
	defer s.gate.mu.Unlock()

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

var _ domain.Transactor = (*Store)(nil)

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// idempotencyRepositoryInMemory хранит idempotency-ключи PlaceOrder.
// Записи, сделанные внутри Store.InTx, откатываются вместе с транзакцией.
type idempotencyRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.IdempotencyRecord
	now   func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return newIdempotencyRepository()
}

// NewIdempotencyRepositoryWithClock подменяет источник времени для проверки сроков жизни.
func NewIdempotencyRepositoryWithClock(now func() time.Time) domain.IdempotencyRepository {
	repo := newIdempotencyRepository()
	repo.now = func() time.Time { return now().UTC() }
	return repo
}

func newIdempotencyRepository() *idempotencyRepositoryInMemory {
	return &idempotencyRepositoryInMemory{
		items: make(map[string]domain.IdempotencyRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing резервирует ключ. Живая запись остаётся и сравнивается по хешу,
// просроченная заменяется новой.
func (r *idempotencyRepositoryInMemory) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(domain.DefaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, existed := r.items[key]
	if existed && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return cloneIdempotencyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneIdempotencyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.items[key] = rec
	r.recordRestore(ctx, key, existing, existed)

	return cloneIdempotencyRecord(rec), nil
}

// Get возвращает запись по ключу или ErrIdempotencyKeyNotFound.
func (r *idempotencyRepositoryInMemory) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.items[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(rec), nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, statusCode)
}

func (r *idempotencyRepositoryInMemory) MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, statusCode)
}

// DeleteExpired удаляет записи с ttl_at <= before, начиная с самых старых.
func (r *idempotencyRepositoryInMemory) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, rec := range r.items {
		if rec.Expired(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].TTLAt.Equal(expired[j].TTLAt) {
			return expired[i].TTLAt.Before(expired[j].TTLAt)
		}
		return expired[i].Key < expired[j].Key
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, rec := range expired {
		delete(r.items, rec.Key)
		r.recordRestore(ctx, rec.Key, rec, true)
	}
	return len(expired), nil
}

func (r *idempotencyRepositoryInMemory) finish(
	ctx context.Context,
	key string,
	status domain.IdempotencyStatus,
	responseBody []byte,
	statusCode int,
) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.items[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}

	next := prev
	next.Status = status
	next.ResponseBody = append([]byte(nil), responseBody...)
	next.StatusCode = statusCode
	next.UpdatedAt = r.now()
	r.items[key] = next
	r.recordRestore(ctx, key, prev, true)

	return nil
}

// recordRestore регистрирует возврат ключа к prev (или удаление, если его не было).
// Вызывается под r.mu.
func (r *idempotencyRepositoryInMemory) recordRestore(ctx context.Context, key string, prev domain.IdempotencyRecord, existed bool) {
	record(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existed {
			r.items[key] = prev
		} else {
			delete(r.items, key)
		}
	})
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)

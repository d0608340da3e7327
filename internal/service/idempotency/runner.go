package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// RecordStore хранит записи идемпотентности без собственных блокировок.
type RecordStore interface {
	Load(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error)
	Save(ctx context.Context, record domain.IdempotencyRecord) error
	domain.IdempotencyCleaner
}

// Runner реализует IdempotencyLedger поверх RecordStore и блокировки по ключу
// внутри процесса. Используется с in-memory хранилищем.
type Runner struct {
	locks *keyedMutex
	store RecordStore
	now   func() time.Time
}

// NewRunner создаёт ledger для хранилища без транзакций.
func NewRunner(store RecordStore) *Runner {
	return &Runner{
		locks: newKeyedMutex(),
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce выполняет fn не более одного раза на ключ, пока сохранённый ответ не истёк.
// Конкурентные вызовы с тем же ключом ждут завершения первого и получают его ответ.
func (r *Runner) RunOnce(
	ctx context.Context,
	req domain.IdempotencyRequest,
	fn func(ctx context.Context) ([]byte, error),
) (domain.IdempotencyResult, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return domain.IdempotencyResult{}, domain.MissingIdempotencyKey()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = domain.DefaultIdempotencyTTL
	}

	unlock, err := r.locks.Lock(ctx, key)
	if err != nil {
		return domain.IdempotencyResult{}, err
	}
	defer unlock()

	record, found, err := r.store.Load(ctx, key)
	if err != nil {
		return domain.IdempotencyResult{}, err
	}
	if found && record.Replayable(r.now()) {
		if record.TargetType != req.TargetType || record.TargetID != req.TargetID {
			return domain.IdempotencyResult{}, domain.IdempotencyKeyReused(key, record.TargetID)
		}
		return domain.IdempotencyResult{Response: record.ResponseBody, Replayed: true}, nil
	}

	body, err := fn(ctx)
	if err != nil {
		return domain.IdempotencyResult{}, err
	}

	if err := r.store.Save(ctx, domain.IdempotencyRecord{
		Key:          key,
		TargetType:   req.TargetType,
		TargetID:     req.TargetID,
		Status:       domain.IdempotencyStatusSucceeded,
		ResponseBody: body,
		ExpiresAt:    r.now().Add(ttl),
	}); err != nil {
		return domain.IdempotencyResult{}, err
	}

	return domain.IdempotencyResult{Response: body}, nil
}

// DeleteExpired делегирует очистку хранилищу.
func (r *Runner) DeleteExpired(ctx context.Context, before time.Time, limit int) (domain.ExpiredRecords, error) {
	return r.store.DeleteExpired(ctx, before, limit)
}

var (
	_ domain.IdempotencyLedger  = (*Runner)(nil)
	_ domain.IdempotencyCleaner = (*Runner)(nil)
)

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// IdempotencyStore хранит записи идемпотентности в памяти процесса.
// Взаимное исключение по ключу обеспечивает вызывающий Runner.
type IdempotencyStore struct {
	mu    sync.RWMutex
	items map[string]domain.IdempotencyRecord
}

// NewIdempotencyStore создаёт in-memory хранилище записей идемпотентности.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		items: make(map[string]domain.IdempotencyRecord),
	}
}

// Load возвращает запись по ключу.
func (s *IdempotencyStore) Load(_ context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.items[strings.TrimSpace(key)]
	if !ok {
		return domain.IdempotencyRecord{}, false, nil
	}
	return cloneIdempotencyRecord(record), true, nil
}

// Save создаёт или перезаписывает запись.
func (s *IdempotencyStore) Save(_ context.Context, record domain.IdempotencyRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[record.Key]; ok {
		record.CreatedAt = existing.CreatedAt
	}
	s.items[record.Key] = cloneIdempotencyRecord(record)
	return nil
}

// DeleteExpired удаляет не более limit записей с expires_at <= before, начиная с самых старых.
func (s *IdempotencyStore) DeleteExpired(_ context.Context, before time.Time, limit int) (domain.ExpiredRecords, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range s.items {
		if !record.ExpiresAt.After(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	var removed domain.ExpiredRecords
	for _, record := range expired {
		delete(s.items, record.Key)
		removed.Count(record.Status)
	}
	return removed, nil
}

// Len возвращает число записей (используется в тестах).
func (s *IdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyCleaner = (*IdempotencyStore)(nil)

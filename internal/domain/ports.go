package domain

import (
	"context"
	"time"
)

// IdempotencyLedger выполняет fn не более одного раза на ключ в пределах TTL.
// Ответ fn сохраняется в той же атомарной единице, что и её побочный эффект.
type IdempotencyLedger interface {
	RunOnce(ctx context.Context, req IdempotencyRequest, fn func(ctx context.Context) ([]byte, error)) (IdempotencyResult, error)
}

// IdempotencyCleaner удаляет просроченные записи порциями.
type IdempotencyCleaner interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (ExpiredRecords, error)
}

// CustomerLookup разрешает id клиента в профиль. found=false означает 404 реестра.
type CustomerLookup interface {
	Lookup(ctx context.Context, id int64) (Customer, bool, error)
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

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

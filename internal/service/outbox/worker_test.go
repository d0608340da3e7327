package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

type stubPublisher struct {
	mu       sync.Mutex
	err      error
	failures int
	events   []domain.OutboxMessage
	count    int
}

func (p *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	if p.err != nil && (p.failures == 0 || p.count <= p.failures) {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func enqueueOrderEvent(t *testing.T, repo *memory.OutboxRepository, eventType string, orderID int64) domain.OutboxMessage {
	t.Helper()

	msg, err := domain.NewOrderEventMessage(eventType, domain.Order{ID: orderID, CustomerID: 1, Status: domain.OrderStatusCreated})
	require.NoError(t, err)
	stored, err := repo.Enqueue(context.Background(), msg)
	require.NoError(t, err)
	return stored
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	first := enqueueOrderEvent(t, repo, domain.EventTypeOrderCreated, 1)
	second := enqueueOrderEvent(t, repo, domain.EventTypeOrderConfirmed, 1)
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	sent := worker.ProcessOnce(context.Background())

	require.Equal(t, 2, sent)
	require.Empty(t, repo.AllPending())
	require.Len(t, publisher.events, 2)
	require.Equal(t, first.ID, publisher.events[0].ID)
	require.Equal(t, second.ID, publisher.events[1].ID)
}

func TestWorker_ProcessOnce_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueueOrderEvent(t, repo, domain.EventTypeOrderCanceled, 5)
	publisher := &stubPublisher{err: errors.New("broker not available"), failures: 2}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Millisecond), WithMaxAttempts(3))

	require.Equal(t, 1, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	event := enqueueOrderEvent(t, repo, domain.EventTypeOrderCanceled, 2)
	publisher := &stubPublisher{err: errors.New("publish failed")}
	dlq := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithDLQPublisher(dlq), WithRetryBaseDelay(0), WithMaxAttempts(3))

	require.Zero(t, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending(), "failed events leave the pending set")

	require.Len(t, dlq.events, 1)
	var letter DeadLetter
	require.NoError(t, json.Unmarshal(dlq.events[0].Payload, &letter))
	require.Equal(t, event.ID, letter.OutboxID)
	require.Equal(t, domain.EventTypeOrderCanceled, letter.EventType)
	require.Equal(t, 3, letter.Attempts)
	require.Contains(t, letter.PublishError, "publish failed")
}

func TestWorker_ProcessOnce_CanceledContextKeepsEventPending(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueueOrderEvent(t, repo, domain.EventTypeOrderCreated, 3)
	publisher := &stubPublisher{err: errors.New("timeout")}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Second), WithMaxAttempts(3))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.Zero(t, worker.ProcessOnce(ctx))
	require.Len(t, repo.AllPending(), 1)
}

func TestWorker_RetryBackoffIsCapped(t *testing.T) {
	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{}, WithRetryBaseDelay(100*time.Millisecond))

	require.Equal(t, 100*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 200*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 400*time.Millisecond, worker.retryBackoff(3))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(20))
}

func TestWorker_RunDisabledWithoutPublisher(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewWorker(memory.NewOutboxRepository(), nil).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without publisher should return immediately")
	}
}

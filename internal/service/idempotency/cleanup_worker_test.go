package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

var _ domain.IdempotencyCleaner = (*stubCleaner)(nil)

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	cleaner := &stubCleaner{
		deleteResults: []domain.ExpiredRecords{
			{Succeeded: 2},
			{Succeeded: 1, Pending: 1},
			{Pending: 1},
		},
	}

	worker := NewCleanupWorker(cleaner, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}

	want := domain.ExpiredRecords{Succeeded: 3, Pending: 2}
	if deleted != want {
		t.Fatalf("unexpected deleted total: got=%+v want=%+v", deleted, want)
	}

	if calls := cleaner.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	cleaner := &stubCleaner{
		deleteErrors: []error{errors.New("boom")},
	}

	worker := NewCleanupWorker(cleaner, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteExpired error")
	}
	if deleted.Total() != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted.Total())
	}
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cleaner := &stubCleaner{
		deleteResults: []domain.ExpiredRecords{{}, {}, {}},
	}

	worker := NewCleanupWorker(
		cleaner,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	if calls := cleaner.calls(); calls == 0 {
		t.Fatal("expected cleanup to be called at least once")
	}
}

type stubCleaner struct {
	mu sync.Mutex

	deleteResults []domain.ExpiredRecords
	deleteErrors  []error
	callCount     int
}

func (s *stubCleaner) DeleteExpired(_ context.Context, _ time.Time, _ int) (domain.ExpiredRecords, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return domain.ExpiredRecords{}, err
		}
	}

	if len(s.deleteResults) == 0 {
		return domain.ExpiredRecords{}, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleaner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func TestCleanupWorker_WithMemoryStore(t *testing.T) {
	t.Parallel()

	store := memory.NewIdempotencyStore()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		status := domain.IdempotencyStatusSucceeded
		if i == 0 {
			status = domain.IdempotencyStatusPending
		}
		err := store.Save(ctx, domain.IdempotencyRecord{
			Key:       fmt.Sprintf("expired-%d", i),
			Status:    status,
			ExpiresAt: now.Add(-time.Minute),
		})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	worker := NewCleanupWorker(store, WithBatchSize(2))
	deleted, err := worker.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	want := domain.ExpiredRecords{Succeeded: 4, Pending: 1}
	if deleted != want || store.Len() != 0 {
		t.Fatalf("unexpected cleanup result: deleted=%+v left=%d", deleted, store.Len())
	}
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestIdempotencyStore_SaveLoadAndDeleteExpired(t *testing.T) {
	store := NewIdempotencyStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_, found, err := store.Load(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	body := []byte(`{"id":1}`)
	require.NoError(t, store.Save(ctx, domain.IdempotencyRecord{
		Key:          "key-1",
		TargetType:   domain.IdempotencyTargetOrderConfirm,
		TargetID:     "1",
		Status:       domain.IdempotencyStatusSucceeded,
		ResponseBody: body,
		ExpiresAt:    now.Add(-time.Minute),
	}))
	body[0] = 'x'

	got, found, err := store.Load(ctx, " key-1 ")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"id":1}`, string(got.ResponseBody))
	require.False(t, got.CreatedAt.IsZero())

	for _, key := range []string{"key-2", "key-3"} {
		require.NoError(t, store.Save(ctx, domain.IdempotencyRecord{Key: key, Status: domain.IdempotencyStatusSucceeded, ExpiresAt: now.Add(-30 * time.Second)}))
	}
	require.NoError(t, store.Save(ctx, domain.IdempotencyRecord{Key: "fresh", Status: domain.IdempotencyStatusSucceeded, ExpiresAt: now.Add(time.Hour)}))

	deleted, err := store.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, domain.ExpiredRecords{Succeeded: 2}, deleted)

	_, found, _ = store.Load(ctx, "key-1")
	require.False(t, found, "oldest expired record goes first")

	deleted, err = store.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, domain.ExpiredRecords{Succeeded: 1}, deleted)
	require.Equal(t, 1, store.Len())
}

func TestIdempotencyStore_DeleteExpiredCountsByStatus(t *testing.T) {
	store := NewIdempotencyStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx, domain.IdempotencyRecord{Key: "done", Status: domain.IdempotencyStatusSucceeded, ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Save(ctx, domain.IdempotencyRecord{Key: "stuck", Status: domain.IdempotencyStatusPending, ExpiresAt: now.Add(-time.Minute)}))

	deleted, err := store.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, domain.ExpiredRecords{Succeeded: 1, Pending: 1}, deleted)
	require.Equal(t, 2, deleted.Total())
	require.Zero(t, store.Len())
}

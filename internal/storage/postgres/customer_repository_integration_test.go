package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestCustomerRepository_PostgresGet(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCustomerRepository(store)
	ctx := context.Background()

	require.NoError(t, UpsertCustomers(ctx, store, []domain.Customer{
		{ID: 7, Name: "Ada", Email: "ada@example.com", Phone: "+100"},
	}))

	got, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, domain.Customer{ID: 7, Name: "Ada", Email: "ada@example.com", Phone: "+100"}, got)

	_, err = repo.Get(ctx, 8)
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)

	created, err := CreateCustomer(ctx, store, domain.Customer{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	require.Equal(t, int64(8), created.ID, "sequence continues after seeded ids")

	_, err = CreateCustomer(ctx, store, domain.Customer{Name: "Bob 2", Email: "bob@example.com"})
	require.ErrorIs(t, err, domain.ErrStorageConflict)
}

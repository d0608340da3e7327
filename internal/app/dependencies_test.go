package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestInitOrderDependencies_MemorySeedsProducts(t *testing.T) {
	t.Parallel()

	deps, err := initOrderDependencies(context.Background(), StorageConfig{
		Driver:   StorageDriverMemory,
		SeedDemo: true,
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, deps.Close()) })

	require.NotNil(t, deps.repo)
	require.NotNil(t, deps.ledger)
	require.NotNil(t, deps.cleaner)
	require.NotNil(t, deps.outbox)
	require.Nil(t, deps.store)

	order, err := deps.repo.Create(context.Background(), 1, []domain.OrderItemInput{{ProductID: 1, Qty: 2}})
	require.NoError(t, err)
	require.Equal(t, 2*demoProducts[0].PriceCents, order.TotalCents)

	pending, err := deps.outbox.PullPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "create must enqueue an order event")
}

func TestInitOrderDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initOrderDependencies(context.Background(), StorageConfig{Driver: StorageDriverPostgres}, quietLogger())
	require.Error(t, err)
}

func TestInitOrderDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initOrderDependencies(context.Background(), StorageConfig{Driver: "sqlite"}, quietLogger())
	require.Error(t, err)
}

func TestInitCustomerDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initCustomerDependencies(context.Background(), StorageConfig{
		Driver:   StorageDriverMemory,
		SeedDemo: true,
	}, quietLogger())
	require.NoError(t, err)

	customer, err := deps.repo.Get(context.Background(), demoCustomers[0].ID)
	require.NoError(t, err)
	require.Equal(t, demoCustomers[0], customer)

	_, err = deps.repo.Get(context.Background(), 999)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))

	empty, err := initCustomerDependencies(context.Background(), StorageConfig{Driver: StorageDriverMemory}, quietLogger())
	require.NoError(t, err)
	_, err = empty.repo.Get(context.Background(), demoCustomers[0].ID)
	require.Error(t, err)
}

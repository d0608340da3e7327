package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
)

// Демо-данные для локального запуска: фиксированные id, чтобы сагу можно было вызвать сразу.
var (
	demoProducts = []domain.Product{
		{ID: 1, Name: "Mechanical keyboard", PriceCents: 129900, Stock: 25},
		{ID: 2, Name: "Wireless mouse", PriceCents: 39900, Stock: 100},
		{ID: 3, Name: "USB-C hub", PriceCents: 59900, Stock: 10},
	}
	demoCustomers = []domain.Customer{
		{ID: 1, Name: "ACME Corp", Email: "ops@acme.example", Phone: "+1-555-0100"},
		{ID: 2, Name: "Globex", Email: "buyers@globex.example", Phone: "+1-555-0101"},
	}
)

// orderDependencies собирает хранилища движка заказов.
type orderDependencies struct {
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	ledger   domain.IdempotencyLedger
	cleaner  domain.IdempotencyCleaner
	outbox   domain.OutboxRepository
	store    *postgres.Store
}

func (d *orderDependencies) Close() error {
	if d == nil || d.store == nil {
		return nil
	}
	return d.store.Close()
}

// initOrderDependencies выбирает backend по cfg.Driver.
func initOrderDependencies(ctx context.Context, cfg StorageConfig, logger *log.Entry) (*orderDependencies, error) {
	switch cfg.Driver {
	case "", StorageDriverMemory:
		outbox := memory.NewOutboxRepository()
		timeline := memory.NewTimelineRepository()
		repo := memory.NewOrderRepository(memory.WithOutbox(outbox), memory.WithTimeline(timeline))
		if cfg.SeedDemo {
			for _, p := range demoProducts {
				repo.UpsertProduct(p)
			}
		}
		runner := idempotency.NewRunner(memory.NewIdempotencyStore())
		logger.WithField("driver", StorageDriverMemory).Info("order storage initialized")
		return &orderDependencies{repo: repo, timeline: timeline, ledger: runner, cleaner: runner, outbox: outbox}, nil

	case StorageDriverPostgres:
		store, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if cfg.SeedDemo {
			if err := postgres.UpsertProducts(ctx, store, demoProducts); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("seed products: %w", err)
			}
		}
		ledger := postgres.NewIdempotencyLedger(store)
		return &orderDependencies{
			repo:     postgres.NewOrderRepository(store, postgres.WithOutboxEvents()),
			timeline: postgres.NewTimelineRepository(store),
			ledger:   ledger,
			cleaner:  ledger,
			outbox:   postgres.NewOutboxRepository(store),
			store:    store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type customerDependencies struct {
	repo  domain.CustomerRepository
	store *postgres.Store
}

func (d *customerDependencies) Close() error {
	if d == nil || d.store == nil {
		return nil
	}
	return d.store.Close()
}

func initCustomerDependencies(ctx context.Context, cfg StorageConfig, logger *log.Entry) (*customerDependencies, error) {
	switch cfg.Driver {
	case "", StorageDriverMemory:
		repo := memory.NewCustomerRepository()
		if cfg.SeedDemo {
			for _, c := range demoCustomers {
				repo.Upsert(c)
			}
		}
		logger.WithField("driver", StorageDriverMemory).Info("customer storage initialized")
		return &customerDependencies{repo: repo}, nil

	case StorageDriverPostgres:
		store, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if cfg.SeedDemo {
			if err := postgres.UpsertCustomers(ctx, store, demoCustomers); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("seed customers: %w", err)
			}
		}
		return &customerDependencies{repo: postgres.NewCustomerRepository(store), store: store}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg StorageConfig, logger *log.Entry) (*postgres.Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres storage requires a DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to read migration status")
	} else {
		logger.WithFields(log.Fields{
			"driver":             StorageDriverPostgres,
			"migration_version":  state.Version,
			"migrations_pending": len(state.Pending),
		}).Info("postgres storage initialized")
	}
	return store, nil
}

package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// CustomerRepository хранит реестр клиентов в памяти.
type CustomerRepository struct {
	mu    sync.RWMutex
	items map[int64]domain.Customer
}

// NewCustomerRepository создаёт пустой реестр.
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{items: make(map[int64]domain.Customer)}
}

// Upsert добавляет или заменяет клиента.
func (r *CustomerRepository) Upsert(c domain.Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[c.ID] = c
}

func (r *CustomerRepository) Get(_ context.Context, id int64) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.CustomerNotFound(id)
	}
	return c, nil
}

var _ domain.CustomerRepository = (*CustomerRepository)(nil)

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// TimelineRepository хранит историю статусов в памяти (для разработки/тестов).
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[int64][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory историю статусов.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{events: make(map[int64][]domain.TimelineEvent)}
}

// Append добавляет запись; порядок по времени сохраняется стабильным.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.OrderID <= 0 {
		return fmt.Errorf("append timeline event: invalid order id %d", event.OrderID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.events[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.events[event.OrderID] = events
	return nil
}

// List возвращает историю заказа в хронологическом порядке.
func (r *TimelineRepository) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// OrderRepository хранит товары и заказы в памяти. Один мьютекс покрывает
// товары и заказы, поэтому каждая операция атомарна так же, как транзакция в PostgreSQL.
type OrderRepository struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	orders   map[int64]domain.Order

	nextOrderID int64
	nextLineID  int64

	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	now      func() time.Time
}

// OrderRepositoryOption настраивает in-memory репозиторий.
type OrderRepositoryOption func(*OrderRepository)

// WithOutbox включает запись событий заказа в переданный outbox.
func WithOutbox(outbox domain.OutboxRepository) OrderRepositoryOption {
	return func(r *OrderRepository) {
		r.outbox = outbox
	}
}

// WithTimeline включает запись истории статусов.
func WithTimeline(timeline domain.TimelineRepository) OrderRepositoryOption {
	return func(r *OrderRepository) {
		r.timeline = timeline
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository(opts ...OrderRepositoryOption) *OrderRepository {
	r := &OrderRepository{
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.Order),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpsertProduct добавляет или перезаписывает товар.
func (r *OrderRepository) UpsertProduct(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

// Product возвращает текущее состояние товара.
func (r *OrderRepository) Product(id int64) (domain.Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	return p, ok
}

func (r *OrderRepository) Create(ctx context.Context, customerID int64, items []domain.OrderItemInput) (domain.Order, error) {
	if err := domain.ValidateItems(items); err != nil {
		return domain.Order{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	totals, ids := domain.RequestedQuantities(items)
	products := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			products[id] = p
		}
	}
	if err := domain.CheckStock(products, totals, ids); err != nil {
		return domain.Order{}, err
	}

	lines, total, err := domain.BuildLines(products, items)
	if err != nil {
		return domain.Order{}, err
	}

	r.nextOrderID++
	order := domain.Order{
		ID:         r.nextOrderID,
		CustomerID: customerID,
		Status:     domain.OrderStatusCreated,
		TotalCents: total,
		CreatedAt:  r.now(),
	}
	for i := range lines {
		r.nextLineID++
		lines[i].ID = r.nextLineID
		lines[i].OrderID = order.ID
	}
	order.Items = lines

	if err := r.recordEvent(ctx, domain.EventTypeOrderCreated, order); err != nil {
		r.nextOrderID--
		r.nextLineID -= int64(len(lines))
		return domain.Order{}, err
	}

	for _, id := range ids {
		p := r.products[id]
		p.Stock -= totals[id]
		r.products[id] = p
	}
	r.orders[order.ID] = order

	return cloneOrder(order), nil
}

func (r *OrderRepository) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.OrderNotFound(id)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) Confirm(ctx context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok || order.Status != domain.OrderStatusCreated {
		return domain.Order{}, domain.ErrConfirmNoop
	}

	order.Status = domain.OrderStatusConfirmed
	if err := r.recordEvent(ctx, domain.EventTypeOrderConfirmed, order); err != nil {
		return domain.Order{}, err
	}
	r.orders[id] = order

	return cloneOrder(order), nil
}

func (r *OrderRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok || !order.Status.CanTransitionTo(domain.OrderStatusCanceled) {
		return false, nil
	}

	// Остатки считаются до записи события: при ошибке ничего не меняется.
	restocked := make(map[int64]domain.Product, len(order.Items))
	for _, line := range order.Items {
		p, ok := restocked[line.ProductID]
		if !ok {
			if p, ok = r.products[line.ProductID]; !ok {
				return false, fmt.Errorf("restock product %d: %w", line.ProductID, domain.ErrProductNotFound)
			}
		}
		p.Stock += line.Qty
		restocked[line.ProductID] = p
	}

	order.Status = domain.OrderStatusCanceled
	if err := r.recordEvent(ctx, domain.EventTypeOrderCanceled, order); err != nil {
		return false, err
	}

	for productID, p := range restocked {
		r.products[productID] = p
	}
	r.orders[id] = order

	return true, nil
}

func (r *OrderRepository) Search(_ context.Context, filter domain.SearchFilter) ([]domain.Order, error) {
	filter = filter.Normalized()

	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.Order, 0, filter.Limit)
	for _, order := range r.sortedOrders() {
		if !filter.Matches(order) {
			continue
		}
		order.Items = nil
		result = append(result, order)
		if len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (r *OrderRepository) ListStale(_ context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = domain.MaxSearchLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.Order, 0)
	for _, order := range r.sortedOrders() {
		if order.Status != domain.OrderStatusCreated || !order.CreatedAt.Before(createdBefore) {
			continue
		}
		order.Items = nil
		result = append(result, order)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// sortedOrders вызывается под r.mu.
func (r *OrderRepository) sortedOrders() []domain.Order {
	orders := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// recordEvent пишет событие outbox и историю; вызывается под r.mu до изменения состояния.
func (r *OrderRepository) recordEvent(ctx context.Context, eventType string, order domain.Order) error {
	if r.outbox != nil {
		msg, err := domain.NewOrderEventMessage(eventType, order)
		if err != nil {
			return fmt.Errorf("build %s event: %w", eventType, err)
		}
		if _, err := r.outbox.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	if r.timeline != nil {
		return r.timeline.Append(ctx, domain.NewTimelineEvent(eventType, order, r.now()))
	}
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	if o.Items != nil {
		o.Items = append([]domain.OrderLine(nil), o.Items...)
	}
	return o
}

var _ domain.OrderRepository = (*OrderRepository)(nil)

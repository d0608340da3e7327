package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const orderColumns = "id, customer_id, status, total_cents, created_at"

type orderRepository struct {
	store        *Store
	outboxEvents bool
}

// OrderRepositoryOption настраивает PostgreSQL-репозиторий заказов.
type OrderRepositoryOption func(*orderRepository)

// WithOutboxEvents включает запись событий заказа в outbox_messages в той же транзакции.
func WithOutboxEvents() OrderRepositoryOption {
	return func(r *orderRepository) {
		r.outboxEvents = true
	}
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store, opts ...OrderRepositoryOption) domain.OrderRepository {
	r := &orderRepository{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *orderRepository) Create(ctx context.Context, customerID int64, items []domain.OrderItemInput) (domain.Order, error) {
	if err := domain.ValidateItems(items); err != nil {
		return domain.Order{}, err
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var created domain.Order
	err := r.store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		totals, ids := domain.RequestedQuantities(items)

		products, err := lockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}
		if err := domain.CheckStock(products, totals, ids); err != nil {
			return err
		}
		lines, total, err := domain.BuildLines(products, items)
		if err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock - $1,
				    updated_at = NOW()
				WHERE id = $2
			`, totals[id], id); err != nil {
				return fmt.Errorf("decrement stock for product %d: %w", id, err)
			}
		}

		order := domain.Order{
			CustomerID: customerID,
			Status:     domain.OrderStatusCreated,
			TotalCents: total,
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO orders (customer_id, status, total_cents)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, customerID, string(domain.OrderStatusCreated), total).Scan(&order.ID, &order.CreatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order.CreatedAt = order.CreatedAt.UTC()

		for i := range lines {
			lines[i].OrderID = order.ID
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO order_items (order_id, product_id, qty, unit_price_cents)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, order.ID, lines[i].ProductID, lines[i].Qty, lines[i].UnitPriceCents).Scan(&lines[i].ID); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		order.Items = lines

		if err := r.recordEvent(ctx, tx, domain.EventTypeOrderCreated, order); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return created, nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return loadOrder(ctx, r.store.conn(ctx), id)
}

func (r *orderRepository) Confirm(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var confirmed domain.Order
	err := r.store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    updated_at = NOW()
			WHERE id = $2
			  AND status = $3
		`, string(domain.OrderStatusConfirmed), id, string(domain.OrderStatusCreated))
		if err != nil {
			return fmt.Errorf("confirm order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrConfirmNoop
		}

		order, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.recordEvent(ctx, tx, domain.EventTypeOrderConfirmed, order); err != nil {
			return err
		}

		confirmed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return confirmed, nil
}

func (r *orderRepository) Cancel(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	canceled := false
	err := r.store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if !domain.OrderStatus(status).CanTransitionTo(domain.OrderStatusCanceled) {
			return nil
		}

		lines, err := loadItems(ctx, tx, id)
		if err != nil {
			return err
		}

		restock := make([]domain.OrderItemInput, 0, len(lines))
		for _, line := range lines {
			restock = append(restock, domain.OrderItemInput{ProductID: line.ProductID, Qty: line.Qty})
		}
		totals, ids := domain.RequestedQuantities(restock)
		for _, productID := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock + $1,
				    updated_at = NOW()
				WHERE id = $2
			`, totals[productID], productID); err != nil {
				return fmt.Errorf("restock product %d: %w", productID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    updated_at = NOW()
			WHERE id = $2
		`, string(domain.OrderStatusCanceled), id); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		order, err := loadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := r.recordEvent(ctx, tx, domain.EventTypeOrderCanceled, order); err != nil {
			return err
		}

		canceled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return canceled, nil
}

func (r *orderRepository) Search(ctx context.Context, filter domain.SearchFilter) ([]domain.Order, error) {
	filter = filter.Normalized()

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	where := []string{"id > $1"}
	args := []any{filter.Cursor}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		WHERE %s
		ORDER BY id ASC
		LIMIT $%d
	`, orderColumns, strings.Join(where, " AND "), len(args))

	return r.queryOrders(ctx, query, args...)
}

func (r *orderRepository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = domain.MaxSearchLimit
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		  AND created_at < $2
		ORDER BY id ASC
		LIMIT $3
	`, string(domain.OrderStatusCreated), createdBefore, limit)
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("query orders: %w", err))
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("iterate order rows: %w", err))
	}

	return orders, nil
}

// recordEvent пишет историю статусов и, если включено, событие outbox в транзакции tx.
func (r *orderRepository) recordEvent(ctx context.Context, tx *sql.Tx, eventType string, order domain.Order) error {
	if err := appendTimeline(ctx, tx, domain.NewTimelineEvent(eventType, order, time.Now())); err != nil {
		return err
	}
	if !r.outboxEvents {
		return nil
	}

	msg, err := domain.NewOrderEventMessage(eventType, order)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if _, err := enqueueOutbox(ctx, tx, msg); err != nil {
		return err
	}
	return nil
}

// lockProducts берёт FOR UPDATE на товары. ORDER BY id фиксирует порядок блокировок.
func lockProducts(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]domain.Product, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price_cents, stock
		FROM products
		WHERE id = ANY($1)
		ORDER BY id ASC
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(&order.ID, &order.CustomerID, &status, &order.TotalCents, &order.CreatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	return order, nil
}

func loadOrder(ctx context.Context, q queryer, id int64) (domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.OrderNotFound(id)
		}
		return domain.Order{}, classifyError(fmt.Errorf("select order: %w", err))
	}

	items, err := loadItems(ctx, q, id)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func loadItems(ctx context.Context, q queryer, orderID int64) ([]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, qty, unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, classifyError(fmt.Errorf("load order items: %w", err))
	}
	defer rows.Close()

	items := make([]domain.OrderLine, 0)
	for rows.Next() {
		var item domain.OrderLine
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)

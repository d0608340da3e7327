package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// UpsertProducts создаёт или обновляет товары с заданными id и сдвигает sequence.
func UpsertProducts(ctx context.Context, store *Store, products []domain.Product) error {
	return store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, p := range products {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO products (id, name, price_cents, stock)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE
				SET name = EXCLUDED.name,
				    price_cents = EXCLUDED.price_cents,
				    stock = EXCLUDED.stock,
				    updated_at = NOW()
			`, p.ID, p.Name, p.PriceCents, p.Stock); err != nil {
				return fmt.Errorf("upsert product %d: %w", p.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))
		`); err != nil {
			return fmt.Errorf("sync products sequence: %w", err)
		}
		return nil
	})
}

// GetProduct читает товар без блокировки.
func GetProduct(ctx context.Context, store *Store, id int64) (domain.Product, error) {
	var p domain.Product
	err := store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, price_cents, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Product{}, domain.ProductNotFound(id)
		}
		return domain.Product{}, classifyError(fmt.Errorf("select product: %w", err))
	}
	return p, nil
}

// UpsertCustomers наполняет реестр клиентов фиксированными id.
func UpsertCustomers(ctx context.Context, store *Store, customers []domain.Customer) error {
	return store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, c := range customers {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO customers (id, name, email, phone)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE
				SET name = EXCLUDED.name,
				    email = EXCLUDED.email,
				    phone = EXCLUDED.phone
			`, c.ID, c.Name, c.Email, c.Phone); err != nil {
				return fmt.Errorf("upsert customer %d: %w", c.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('customers', 'id'), GREATEST((SELECT MAX(id) FROM customers), 1))
		`); err != nil {
			return fmt.Errorf("sync customers sequence: %w", err)
		}
		return nil
	})
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type customerRepository struct {
	db *sqlx.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository поверх sqlx.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: sqlx.NewDb(store.DB(), "pgx")}
}

func (r *customerRepository) Get(ctx context.Context, id int64) (domain.Customer, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var customer domain.Customer
	err := r.db.GetContext(ctx, &customer, `
		SELECT id, name, email, phone
		FROM customers
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.CustomerNotFound(id)
		}
		return domain.Customer{}, classifyError(fmt.Errorf("select customer: %w", err))
	}

	return customer, nil
}

// CreateCustomer вставляет клиента; используется для наполнения реестра.
func CreateCustomer(ctx context.Context, store *Store, c domain.Customer) (domain.Customer, error) {
	db := sqlx.NewDb(store.DB(), "pgx")

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := db.NamedQueryContext(ctx, `
		INSERT INTO customers (name, email, phone)
		VALUES (:name, :email, :phone)
		RETURNING id
	`, c)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Customer{}, fmt.Errorf("%w: email %s", domain.ErrStorageConflict, c.Email)
		}
		return domain.Customer{}, classifyError(fmt.Errorf("insert customer: %w", err))
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&c.ID); err != nil {
			return domain.Customer{}, fmt.Errorf("scan customer id: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Customer{}, fmt.Errorf("iterate customer insert: %w", err)
	}

	return c, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)

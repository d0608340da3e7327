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

// IdempotencyLedger хранит ключи идемпотентности в PostgreSQL. Исключение обеспечивает
// блокировка строки ключа в той же транзакции, что и побочный эффект.
type IdempotencyLedger struct {
	store *Store
	now   func() time.Time
}

// NewIdempotencyLedger создаёт PostgreSQL-реализацию IdempotencyLedger.
func NewIdempotencyLedger(store *Store) *IdempotencyLedger {
	return &IdempotencyLedger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce выполняет fn не более одного раза на ключ, пока сохранённый ответ не истёк.
// fn получает ctx с открытой транзакцией: репозитории, вызванные из fn, пишут в неё же.
func (l *IdempotencyLedger) RunOnce(
	ctx context.Context,
	req domain.IdempotencyRequest,
	fn func(ctx context.Context) ([]byte, error),
) (domain.IdempotencyResult, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return domain.IdempotencyResult{}, domain.MissingIdempotencyKey()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = domain.DefaultIdempotencyTTL
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var result domain.IdempotencyResult
	err := l.store.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		now := l.now()

		// Строку создаёт первый запрос, остальные ждут её блокировку.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_keys (
				key, target_type, target_id, status, response_body, expires_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,NULL,$5,$6,$6)
			ON CONFLICT (key) DO NOTHING
		`, key, req.TargetType, req.TargetID, string(domain.IdempotencyStatusPending), now.Add(ttl), now); err != nil {
			return fmt.Errorf("insert idempotency key: %w", err)
		}

		record, err := selectRecord(ctx, tx, key, true)
		if err != nil {
			return err
		}

		if record.Replayable(now) {
			if record.TargetType != req.TargetType || record.TargetID != req.TargetID {
				return domain.IdempotencyKeyReused(key, record.TargetID)
			}
			result = domain.IdempotencyResult{Response: record.ResponseBody, Replayed: true}
			return nil
		}

		body, err := fn(ctx)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE idempotency_keys
			SET status = $2,
			    target_type = $3,
			    target_id = $4,
			    response_body = $5,
			    expires_at = $6,
			    updated_at = $7
			WHERE key = $1
		`,
			key,
			string(domain.IdempotencyStatusSucceeded),
			req.TargetType,
			req.TargetID,
			body,
			l.now().Add(ttl),
			l.now(),
		); err != nil {
			return fmt.Errorf("store idempotent response: %w", err)
		}

		result = domain.IdempotencyResult{Response: body}
		return nil
	})
	if err != nil {
		return domain.IdempotencyResult{}, err
	}

	return result, nil
}

// Get возвращает запись по ключу без блокировки.
func (l *IdempotencyLedger) Get(ctx context.Context, key string) (domain.IdempotencyRecord, bool, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	record, err := selectRecord(ctx, l.store.conn(ctx), strings.TrimSpace(key), false)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return domain.IdempotencyRecord{}, false, err
	}
	return record, true, nil
}

// DeleteExpired удаляет не более limit записей с expires_at <= before и считает их по статусу.
func (l *IdempotencyLedger) DeleteExpired(ctx context.Context, before time.Time, limit int) (domain.ExpiredRecords, error) {
	if before.IsZero() {
		before = l.now()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = l.store.conn(ctx).QueryContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key
				FROM idempotency_keys
				WHERE expires_at <= $1
				ORDER BY expires_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING status
		`, before, limit)
	} else {
		rows, err = l.store.conn(ctx).QueryContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE expires_at <= $1
			RETURNING status
		`, before)
	}
	if err != nil {
		return domain.ExpiredRecords{}, classifyError(fmt.Errorf("delete expired idempotency records: %w", err))
	}
	defer rows.Close()

	var removed domain.ExpiredRecords
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return domain.ExpiredRecords{}, fmt.Errorf("scan deleted idempotency status: %w", err)
		}
		removed.Count(domain.IdempotencyStatus(status))
	}
	if err := rows.Err(); err != nil {
		return domain.ExpiredRecords{}, fmt.Errorf("iterate deleted idempotency records: %w", err)
	}

	return removed, nil
}

func selectRecord(ctx context.Context, q queryer, key string, forUpdate bool) (domain.IdempotencyRecord, error) {
	query := `
		SELECT key, target_type, target_id, status, response_body, expires_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		record    domain.IdempotencyRecord
		statusRaw string
		body      []byte
	)
	err := q.QueryRowContext(ctx, query, key).Scan(
		&record.Key,
		&record.TargetType,
		&record.TargetID,
		&statusRaw,
		&body,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, err
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("select idempotency record: %w", err)
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", statusRaw, key)
	}
	record.ResponseBody = append([]byte(nil), body...)

	return record, nil
}

var (
	_ domain.IdempotencyLedger  = (*IdempotencyLedger)(nil)
	_ domain.IdempotencyCleaner = (*IdempotencyLedger)(nil)
)

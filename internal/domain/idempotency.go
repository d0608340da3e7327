package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusPending означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusPending IdempotencyStatus = "PENDING"
	// IdempotencyStatusSucceeded означает, что операция выполнена и ответ сохранён.
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

const (
	// IdempotencyTargetOrderConfirm используется как target_type подтверждения заказа.
	IdempotencyTargetOrderConfirm = "order_confirm"
	// DefaultIdempotencyTTL задает время жизни сохранённого ответа.
	DefaultIdempotencyTTL = 600 * time.Second
)

// IdempotencyRecord хранит состояние обработки запроса с idempotency-key.
type IdempotencyRecord struct {
	Key          string
	TargetType   string
	TargetID     string
	Status       IdempotencyStatus
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusPending, IdempotencyStatusSucceeded:
		return true
	default:
		return false
	}
}

// Replayable сообщает, что запись закрыта ответом и ещё не истекла.
func (r IdempotencyRecord) Replayable(now time.Time) bool {
	return r.Status == IdempotencyStatusSucceeded && r.ExpiresAt.After(now)
}

// ExpiredRecords считает удалённые просроченные записи по статусу.
// Pending означает confirm, который так и не сохранил ответ.
type ExpiredRecords struct {
	Succeeded int
	Pending   int
}

// Total возвращает общее число удалённых записей.
func (e ExpiredRecords) Total() int {
	return e.Succeeded + e.Pending
}

// Count учитывает одну удалённую запись со статусом status.
func (e *ExpiredRecords) Count(status IdempotencyStatus) {
	if status == IdempotencyStatusPending {
		e.Pending++
		return
	}
	e.Succeeded++
}

// Add складывает счётчики двух порций.
func (e ExpiredRecords) Add(other ExpiredRecords) ExpiredRecords {
	return ExpiredRecords{Succeeded: e.Succeeded + other.Succeeded, Pending: e.Pending + other.Pending}
}

// IdempotencyRequest описывает один вызов runOnce.
type IdempotencyRequest struct {
	Key        string
	TargetType string
	TargetID   string
	TTL        time.Duration
}

// IdempotencyResult содержит сохранённый или свежий ответ runOnce.
type IdempotencyResult struct {
	Response []byte
	Replayed bool
}

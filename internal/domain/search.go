package domain

import "time"

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// SearchFilter задает параметры keyset-поиска заказов. Нулевые значения означают «без фильтра».
type SearchFilter struct {
	Status OrderStatus
	From   time.Time
	To     time.Time
	// Cursor задает исключающую нижнюю границу по id.
	Cursor int64
	Limit  int
}

// Normalized приводит limit к диапазону [1, MaxSearchLimit], 0 даёт значение по умолчанию.
func (f SearchFilter) Normalized() SearchFilter {
	switch {
	case f.Limit == 0:
		f.Limit = DefaultSearchLimit
	case f.Limit < 1:
		f.Limit = 1
	case f.Limit > MaxSearchLimit:
		f.Limit = MaxSearchLimit
	}
	if f.Cursor < 0 {
		f.Cursor = 0
	}
	return f
}

// Matches применяет фильтр к заказу; используется in-memory реализацией.
func (f SearchFilter) Matches(o Order) bool {
	if o.ID <= f.Cursor {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && o.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// NextCursor возвращает курсор следующей страницы или 0, если страница неполная.
func NextCursor(page []Order, limit int) int64 {
	if len(page) == 0 || len(page) < limit {
		return 0
	}
	return page[len(page)-1].ID
}

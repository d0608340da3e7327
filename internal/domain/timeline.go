package domain

import (
	"context"
	"time"
)

// TimelineEvent описывает один переход в истории статусов заказа.
type TimelineEvent struct {
	OrderID  int64       `json:"order_id"`
	Status   OrderStatus `json:"status"`
	Type     string      `json:"type"`
	Occurred time.Time   `json:"occurred_at"`
}

// NewTimelineEvent строит запись истории по типу события заказа.
func NewTimelineEvent(eventType string, order Order, occurred time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  order.ID,
		Status:   order.Status,
		Type:     eventType,
		Occurred: occurred.UTC(),
	}
}

// TimelineRepository хранит историю статусов заказов.
// Append пишется в той же транзакции, что и сам переход.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

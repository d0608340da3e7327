package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Типы событий заказа, публикуемых через outbox.
const (
	EventTypeOrderCreated   = "order.created"
	EventTypeOrderConfirmed = "order.confirmed"
	EventTypeOrderCanceled  = "order.canceled"

	AggregateTypeOrder = "order"
)

// OrderEvent описывает payload события заказа.
type OrderEvent struct {
	EventType  string      `json:"event_type"`
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	TotalCents int64       `json:"total_cents"`
	Items      []OrderLine `json:"items,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewOrderEventMessage сериализует событие заказа в outbox-сообщение.
func NewOrderEventMessage(eventType string, order Order) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEvent{
		EventType:  eventType,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		TotalCents: order.TotalCents,
		Items:      order.Items,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return OutboxMessage{}, err
	}

	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   strconv.FormatInt(order.ID, 10),
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

package kafka

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
)

// Topics для событий заказов.
const (
	TopicOrderEvents     = "ordersaga.order.events"
	TopicDeadLetterQueue = "ordersaga.order.events.dlq"
)

// Заголовки сообщений. Трейс-контекст кладётся отдельно (traceparent/tracestate).
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAggregateType = "x-aggregate-type"
	HeaderCorrelationID = "x-correlation-id"
)

// Envelope содержит метаданные outbox и payload события как есть.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// headerCarrier адаптирует заголовки sarama к propagation.TextMapCarrier.
type headerCarrier struct {
	headers *[]sarama.RecordHeader
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if string(h.Key) == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

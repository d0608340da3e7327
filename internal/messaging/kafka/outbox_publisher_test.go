package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/correlation"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func headerValue(msg *sarama.ProducerMessage, key string) string {
	return headerCarrier{headers: &msg.Headers}.Get(key)
}

func TestOutboxPublisher_PublishEnvelopeAndHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tracer := sdktrace.NewTracerProvider().Tracer("kafka-test")
	ctx, span := tracer.Start(correlation.WithID(context.Background(), "corr-42"), "publish")
	defer span.End()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "123" {
			return errors.New("message must be keyed by order id")
		}

		raw, _ := msg.Value.Encode()
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		if env.ID != "outbox-1" || env.EventType != domain.EventTypeOrderConfirmed {
			return errors.New("unexpected envelope")
		}

		if headerValue(msg, HeaderEventType) != domain.EventTypeOrderConfirmed {
			return errors.New("missing event type header")
		}
		if headerValue(msg, HeaderCorrelationID) != "corr-42" {
			return errors.New("missing correlation header")
		}
		if headerValue(msg, "traceparent") == "" {
			return errors.New("missing traceparent header")
		}
		return nil
	})

	publisher := NewOutboxPublisher(newProducer(mockProducer), "")

	err := publisher.Publish(ctx, domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "123",
		EventType:     domain.EventTypeOrderConfirmed,
		Payload:       []byte(`{"order_id":123,"status":"CONFIRMED"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(newProducer(mockProducer), TopicOrderEvents)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "234",
		EventType:   domain.EventTypeOrderCanceled,
		Payload:     []byte(`{}`),
	})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	require.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
}

func TestProducer_SendRespectsCanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := producer.Send(ctx, &sarama.ProducerMessage{Topic: TopicOrderEvents})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mockProducer.Close())
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(Config{})
	require.Error(t, err)
}

func TestHeaderCarrier_SetOverwrites(t *testing.T) {
	var headers []sarama.RecordHeader
	c := headerCarrier{headers: &headers}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set(HeaderOutboxID, "id-1")

	require.Len(t, headers, 2)
	require.Equal(t, "b", c.Get("traceparent"))
	require.ElementsMatch(t, []string{"traceparent", HeaderOutboxID}, c.Keys())
}

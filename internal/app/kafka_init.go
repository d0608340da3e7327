package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
)

// eventPublishers публикуют outbox в основной топик и в DLQ.
type eventPublishers struct {
	producer *kafka.Producer
	events   *kafka.OutboxTopicPublisher
	dlq      *kafka.OutboxTopicPublisher
}

// initKafkaPublishers создаёт producer, если заданы brokers.
// Возвращает nil, nil, когда Kafka не настроена.
func initKafkaPublishers(cfg OrderServiceConfig, logger *log.Entry) (*eventPublishers, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(kafka.Config{
		Brokers:  cfg.KafkaBrokers,
		ClientID: cfg.KafkaClientID,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"brokers": cfg.KafkaBrokers,
		"topic":   cfg.KafkaTopic,
	}).Info("kafka producer initialized")

	pubs := &eventPublishers{
		producer: producer,
		events:   kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
	}
	if cfg.KafkaDLQTopic != "" {
		pubs.dlq = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
	}
	return pubs, nil
}

// closeKafka закрывает producer, если он был создан.
func closeKafka(pubs *eventPublishers, logger *log.Entry) {
	if pubs == nil || pubs.producer == nil {
		return
	}

	if err := pubs.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/invoker"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/customers"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

// createOrchestrator собирает сагу: один Invoker на оба исходящих клиента.
func createOrchestrator(cfg OrchestratorConfig, sagaMetrics *metrics.SagaMetrics, logger *log.Entry) *saga.Orchestrator {
	inv := invoker.New(cfg.Invoker,
		invoker.WithLogger(logger.WithField("component", "invoker")),
		invoker.WithUserAgent(version.UserAgent("orchestrator")),
	)

	return saga.NewOrchestrator(
		customers.NewClient(cfg.CustomersBaseURL, cfg.CustomersToken, inv),
		saga.NewOrdersClient(cfg.OrdersBaseURL, inv),
		saga.WithLogger(logger.WithField("component", "saga")),
		saga.WithMetrics(sagaMetrics),
	)
}

// createCustomerLookup строит клиент реестра для проверки клиента при создании заказа.
// Пустой base URL отключает проверку.
func createCustomerLookup(cfg OrderServiceConfig, logger *log.Entry) *customers.Client {
	if cfg.CustomersBaseURL == "" {
		return nil
	}
	inv := invoker.New(cfg.Invoker,
		invoker.WithLogger(logger.WithField("component", "invoker")),
		invoker.WithUserAgent(version.UserAgent("order-service")),
	)
	return customers.NewClient(cfg.CustomersBaseURL, cfg.CustomersToken, inv)
}

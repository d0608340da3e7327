// Package app собирает и запускает сервисы: движок заказов, реестр клиентов и оркестратор.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/httpapi"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/orders"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/reconcile"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

// Имена сервисов: метки метрик, service.name в трейсах, поле health-ответа.
const (
	OrderServiceName    = "order-service"
	CustomerServiceName = "customer-service"
	OrchestratorName    = "orchestrator"
)

// RunOrderService запускает движок заказов и его фоновые воркеры до отмены ctx.
func RunOrderService(ctx context.Context, cfg OrderServiceConfig) error {
	logger := log.WithFields(log.Fields{"component": "app", "service": OrderServiceName})

	deps, err := initOrderDependencies(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	svcOpts := []orders.Option{
		orders.WithConfirmTTL(cfg.ConfirmTTL),
		orders.WithTimeline(deps.timeline),
		orders.WithLogger(logger.WithField("component", "orders")),
	}
	if lookup := createCustomerLookup(cfg, logger); lookup != nil {
		svcOpts = append(svcOpts, orders.WithCustomerLookup(lookup))
	} else {
		logger.Warn("customer lookup is disabled: ORDERS_CUSTOMERS_API_BASE is empty")
	}
	svc := orders.NewService(deps.repo, deps.ledger, svcOpts...)

	background := []func(context.Context){
		idempotency.NewCleanupWorker(deps.cleaner,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		).Run,
		newSweeper(cfg, deps.repo, svc, logger).Run,
	}

	pubs, err := initKafkaPublishers(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, outbox events stay pending")
	}
	defer closeKafka(pubs, logger)
	if pubs != nil {
		background = append(background, newOutboxWorker(cfg, deps.outbox, pubs, logger).Run)
	}

	healthHandler := health.NewHandler(OrderServiceName, version.GetVersion())
	registerStorageChecker(healthHandler, deps.store)

	api := httpapi.NewOrderRouter(svc, httpapi.RouterConfig{
		Service: OrderServiceName,
		Logger:  logger.WithField("component", "http"),
		Metrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	})
	return listenAndServe(ctx, cfg.HTTPAddr, cfg.MetricsAddr, api, healthHandler, logger, background...)
}

// RunCustomerService запускает реестр клиентов до отмены ctx.
func RunCustomerService(ctx context.Context, cfg CustomerServiceConfig) error {
	logger := log.WithFields(log.Fields{"component": "app", "service": CustomerServiceName})

	deps, err := initCustomerDependencies(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	healthHandler := health.NewHandler(CustomerServiceName, version.GetVersion())
	registerStorageChecker(healthHandler, deps.store)

	api := httpapi.NewCustomerRouter(deps.repo, cfg.ServiceToken, httpapi.RouterConfig{
		Service: CustomerServiceName,
		Logger:  logger.WithField("component", "http"),
		Metrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	})
	return listenAndServe(ctx, cfg.HTTPAddr, cfg.MetricsAddr, api, healthHandler, logger)
}

// RunOrchestrator запускает точку входа саги до отмены ctx.
func RunOrchestrator(ctx context.Context, cfg OrchestratorConfig) error {
	logger := log.WithFields(log.Fields{"component": "app", "service": OrchestratorName})

	orch := createOrchestrator(cfg, metrics.NewSagaMetrics(), logger)

	healthHandler := health.NewHandler(OrchestratorName, version.GetVersion())

	api := httpapi.NewSagaRouter(orch, httpapi.RouterConfig{
		Service: OrchestratorName,
		Logger:  logger.WithField("component", "http"),
		Metrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	})
	return listenAndServe(ctx, cfg.HTTPAddr, cfg.MetricsAddr, api, healthHandler, logger)
}

func listenAndServe(
	ctx context.Context,
	apiAddr, metricsAddr string,
	api http.Handler,
	healthHandler *health.Handler,
	logger *log.Entry,
	background ...func(context.Context),
) error {
	apiSrv, err := newServer("api", apiAddr, api)
	if err != nil {
		return fmt.Errorf("listen api: %w", err)
	}
	metricsSrv, err := newServer("metrics", metricsAddr, newMetricsHandler(healthHandler))
	if err != nil {
		_ = apiSrv.lis.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}
	return serve(ctx, logger, []*namedServer{apiSrv, metricsSrv}, background...)
}

func registerStorageChecker(h *health.Handler, store *postgres.Store) {
	if store == nil {
		return
	}
	h.RegisterChecker("postgres", health.NewSimpleChecker("postgres", store.Ping))
}

func newSweeper(cfg OrderServiceConfig, repo domain.OrderRepository, svc *orders.Service, logger *log.Entry) *reconcile.Sweeper {
	opts := []reconcile.Option{
		reconcile.WithLogger(logger.WithField("component", "reconcile-sweeper")),
		reconcile.WithInterval(cfg.ReconcileInterval),
		reconcile.WithStaleAfter(cfg.ReconcileStaleAfter),
	}
	if cfg.ReconcileAutoCancel {
		opts = append(opts, reconcile.WithAutoCancel(svc))
	}
	return reconcile.NewSweeper(repo, opts...)
}

func newOutboxWorker(cfg OrderServiceConfig, repo domain.OutboxRepository, pubs *eventPublishers, logger *log.Entry) *outbox.Worker {
	opts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if pubs.dlq != nil {
		opts = append(opts, outbox.WithDLQPublisher(pubs.dlq))
	}
	return outbox.NewWorker(repo, pubs.events, opts...)
}

// Package saga последовательно проводит размещение заказа через три сервиса:
// проверка клиента → создание заказа → идемпотентное подтверждение.
// Распределённой атомарности нет: каждый шаг либо продолжает сагу, либо даёт терминальный исход.
package saga

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/correlation"
	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/telemetry"
)

// Имена шагов; попадают в метрики, спаны и логи.
const (
	StepValidate = "validate"
	StepCustomer = "lookup_customer"
	StepCreate   = "create_order"
	StepConfirm  = "confirm_order"
	StepDone     = "done"
)

// OrderPlacer описывает операции движка заказов, нужные саге.
type OrderPlacer interface {
	Create(ctx context.Context, customerID int64, items []OrderItem) (CreatedOrder, error)
	Confirm(ctx context.Context, orderID int64, idempotencyKey string) (json.RawMessage, error)
}

// Outcome содержит терминальный результат саги: HTTP-статус и тело ответа.
type Outcome struct {
	Status        int
	Body          any
	CorrelationID string
	Step          string
}

type ErrorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	OrderID int64  `json:"order_id,omitempty"`
}

// SuccessBody отдаётся вместе с 201.
type SuccessBody struct {
	CorrelationID  string          `json:"correlation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Customer       domain.Customer `json:"customer"`
	Order          json.RawMessage `json:"order"`
	DurationMS     int64           `json:"duration_ms"`
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подменяет набор метрик; nil отключает метрики.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer задаёт tracer для спанов шагов.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// Orchestrator выполняет шаги строго последовательно.
type Orchestrator struct {
	customers domain.CustomerLookup
	orders    OrderPlacer
	logger    *log.Entry
	metrics   *metrics.SagaMetrics
	tracer    trace.Tracer
	now       func() time.Time
	newKey    func() (string, error)
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(customers domain.CustomerLookup, orders OrderPlacer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		customers: customers,
		orders:    orders,
		logger:    log.WithField("component", "saga"),
		metrics:   metrics.NewSagaMetrics(),
		tracer:    telemetry.Tracer(),
		now:       time.Now,
		newKey:    randomIdempotencyKey,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run хранит состояние одного прохода саги.
type run struct {
	started        time.Time
	raw            []byte
	input          Input
	correlationID  string
	idempotencyKey string
	customer       domain.Customer
	created        CreatedOrder
	confirmed      json.RawMessage
}

type step struct {
	name string
	fn   func(ctx context.Context, r *run) *Outcome
}

// Place выполняет сагу над сырым телом запроса. correlationID из заголовка
// используется, если тело его не содержит.
func (o *Orchestrator) Place(ctx context.Context, raw []byte, correlationID string) Outcome {
	r := &run{
		started:       o.now(),
		raw:           raw,
		correlationID: correlation.Ensure(correlationID),
	}
	if o.metrics != nil {
		o.metrics.RecordSagaStarted()
	}

	ctx, span := o.tracer.Start(ctx, "saga.place_order")
	defer span.End()

	steps := []step{
		{name: StepValidate, fn: o.validate},
		{name: StepCustomer, fn: o.lookupCustomer},
		{name: StepCreate, fn: o.createOrder},
		{name: StepConfirm, fn: o.confirmOrder},
	}

	outcome := o.execute(ctx, r, steps)
	outcome.CorrelationID = r.correlationID

	span.SetAttributes(
		attribute.String("saga.correlation_id", r.correlationID),
		attribute.String("saga.step", outcome.Step),
		attribute.Int("http.response.status_code", outcome.Status),
	)
	if outcome.Status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, outcome.Step)
	}
	if o.metrics != nil {
		o.metrics.RecordSagaFinished(outcome.Step, outcome.Status, o.now().Sub(r.started))
	}
	return outcome
}

func (o *Orchestrator) execute(ctx context.Context, r *run, steps []step) Outcome {
	for _, s := range steps {
		ctx := correlation.WithID(ctx, r.correlationID)
		stepCtx, span := o.tracer.Start(ctx, "saga."+s.name)
		started := o.now()

		outcome := s.fn(stepCtx, r)

		if o.metrics != nil {
			o.metrics.RecordStepDuration(s.name, o.now().Sub(started))
		}
		if outcome != nil {
			span.SetAttributes(attribute.Int("http.response.status_code", outcome.Status))
			span.SetStatus(codes.Error, s.name)
			span.End()
			outcome.Step = s.name
			return *outcome
		}
		span.End()
	}

	o.logger.WithFields(log.Fields{
		"correlation_id": r.correlationID,
		"order_id":       r.created.ID,
		"customer_id":    r.customer.ID,
	}).Info("order placed")

	return Outcome{
		Status: http.StatusCreated,
		Step:   StepDone,
		Body: SuccessBody{
			CorrelationID:  r.correlationID,
			IdempotencyKey: r.idempotencyKey,
			Customer:       r.customer,
			Order:          r.confirmed,
			DurationMS:     o.now().Sub(r.started).Milliseconds(),
		},
	}
}

func (o *Orchestrator) validate(_ context.Context, r *run) *Outcome {
	in, err := ParseInput(r.raw)
	if err != nil {
		o.logger.WithError(err).WithField("correlation_id", r.correlationID).Info("saga input rejected")
		return &Outcome{Status: http.StatusUnprocessableEntity, Body: ErrorBody{Message: "Validation error", Detail: err.Error()}}
	}
	r.input = in

	if in.CorrelationID != "" {
		r.correlationID = correlation.Ensure(in.CorrelationID)
	}
	r.idempotencyKey = in.IdempotencyKey
	if r.idempotencyKey == "" {
		key, err := o.newKey()
		if err != nil {
			return &Outcome{Status: http.StatusInternalServerError, Body: ErrorBody{Message: "Internal Error"}}
		}
		r.idempotencyKey = key
	}

	o.logger.WithFields(log.Fields{
		"correlation_id": r.correlationID,
		"customer_id":    int64(in.CustomerID),
		"items":          len(in.Items),
	}).Info("saga started")
	return nil
}

func (o *Orchestrator) lookupCustomer(ctx context.Context, r *run) *Outcome {
	customer, found, err := o.customers.Lookup(ctx, int64(r.input.CustomerID))
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).WithField("correlation_id", r.correlationID).Warn("customer lookup failed")
		return &Outcome{Status: http.StatusBadGateway, Body: ErrorBody{Message: "Upstream error", Detail: err.Error()}}
	}
	if !found {
		return &Outcome{Status: http.StatusNotFound, Body: ErrorBody{Message: "Customer not found"}}
	}
	r.customer = customer
	return nil
}

func (o *Orchestrator) createOrder(ctx context.Context, r *run) *Outcome {
	created, err := o.orders.Create(ctx, int64(r.input.CustomerID), r.input.orderItems())
	if err == nil {
		r.created = created
		return nil
	}

	logger := o.logger.WithContext(ctx).WithError(err).WithField("correlation_id", r.correlationID)

	var statusErr *UpstreamStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusConflict:
			logger.Info("order creation conflicted")
			return &Outcome{Status: http.StatusConflict, Body: ErrorBody{Message: "Conflict creating order", Detail: string(statusErr.Body)}}
		case http.StatusNotFound:
			return &Outcome{Status: http.StatusNotFound, Body: ErrorBody{Message: "Customer not found"}}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &Outcome{Status: http.StatusUnprocessableEntity, Body: ErrorBody{Message: "Validation error", Detail: string(statusErr.Body)}}
		}
	}

	logger.Error("order creation failed")
	return &Outcome{Status: http.StatusBadGateway, Body: ErrorBody{Message: "Upstream error", Detail: err.Error()}}
}

func (o *Orchestrator) confirmOrder(ctx context.Context, r *run) *Outcome {
	confirmed, err := o.orders.Confirm(ctx, r.created.ID, r.idempotencyKey)
	if err != nil {
		// Заказ остаётся в CREATED до повторного confirm или сверки.
		o.logger.WithContext(ctx).WithError(err).WithFields(log.Fields{
			"correlation_id": r.correlationID,
			"order_id":       r.created.ID,
		}).Warn("order confirm failed, order left in CREATED")
		if o.metrics != nil {
			o.metrics.RecordDanglingOrder()
		}
		return &Outcome{Status: http.StatusBadGateway, Body: ErrorBody{
			Message: "Upstream error",
			Detail:  err.Error(),
			OrderID: r.created.ID,
		}}
	}
	r.confirmed = confirmed
	return nil
}

func randomIdempotencyKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Package orders реализует движок транзакций заказов: создание с проверкой клиента,
// идемпотентное подтверждение, отмена с возвратом остатков и keyset-поиск.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

var (
	ordersOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_orders_operations_total",
		Help: "Order engine operations grouped by operation and error kind.",
	}, []string{"operation", "result"})
	idempotentConfirmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_idempotent_confirms_total",
		Help: "Idempotent confirm calls grouped by outcome (executed, replayed, error).",
	}, []string{"outcome"})
)

// CreateOrderInput разбирается из тела POST /orders.
type CreateOrderInput struct {
	CustomerID int64                   `json:"customer_id" validate:"gt=0"`
	Items      []domain.OrderItemInput `json:"items" validate:"required,min=1,dive"`
}

// ConfirmResult содержит ответ идемпотентного подтверждения. Body отдаётся клиенту как есть.
type ConfirmResult struct {
	Order    domain.Order
	Body     []byte
	Replayed bool
}

type Page struct {
	Orders     []domain.Order `json:"orders"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

// Option настраивает Service.
type Option func(*Service)

// WithCustomerLookup включает проверку существования клиента перед созданием заказа.
func WithCustomerLookup(lookup domain.CustomerLookup) Option {
	return func(s *Service) {
		s.customers = lookup
	}
}

// WithTimeline включает чтение истории статусов.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = timeline
	}
}

// WithConfirmTTL задаёт время жизни сохранённого ответа confirm.
func WithConfirmTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.confirmTTL = ttl
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service реализует операции движка заказов поверх репозитория и ledger'а идемпотентности.
type Service struct {
	repo       domain.OrderRepository
	ledger     domain.IdempotencyLedger
	customers  domain.CustomerLookup
	timeline   domain.TimelineRepository
	validate   *validator.Validate
	logger     *log.Entry
	confirmTTL time.Duration
}

// NewService создаёт движок заказов.
func NewService(repo domain.OrderRepository, ledger domain.IdempotencyLedger, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		ledger:     ledger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     log.WithField("component", "order-engine"),
		confirmTTL: domain.DefaultIdempotencyTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create проверяет ввод и клиента, затем атомарно списывает остатки и сохраняет заказ.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (order domain.Order, err error) {
	defer func() { observe("create", err) }()

	if err := s.validateCreate(in); err != nil {
		return domain.Order{}, err
	}

	if s.customers != nil {
		_, found, err := s.customers.Lookup(ctx, in.CustomerID)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("customer_id", in.CustomerID).Warn("customer lookup failed")
			return domain.Order{}, domain.CustomersUnavailable(err)
		}
		if !found {
			return domain.Order{}, domain.CustomerNotFound(in.CustomerID)
		}
	}

	order, err = s.repo.Create(ctx, in.CustomerID, in.Items)
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithContext(ctx).WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"total_cents": order.TotalCents,
		"lines":       len(order.Items),
	}).Info("order created")

	return order, nil
}

func (s *Service) validateCreate(in CreateOrderInput) error {
	if in.CustomerID <= 0 {
		return domain.NewValidationError("INVALID_CUSTOMER_ID", domain.ErrCustomerIDInvalid.Error(),
			map[string]any{"customer_id": in.CustomerID}, domain.ErrCustomerIDInvalid)
	}
	if err := domain.ValidateItems(in.Items); err != nil {
		return err
	}
	if err := s.validate.Struct(in); err != nil {
		return validationError(err)
	}
	return nil
}

// Get возвращает заказ с позициями.
func (s *Service) Get(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

// History возвращает историю статусов заказа в хронологическом порядке.
// Для неизвестного заказа отдаёт ErrOrderNotFound; без истории список пустой.
func (s *Service) History(ctx context.Context, id int64) ([]domain.TimelineEvent, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(ctx, id)
}

// Search возвращает страницу заказов по возрастанию id.
func (s *Service) Search(ctx context.Context, filter domain.SearchFilter) (Page, error) {
	filter = filter.Normalized()

	orders, err := s.repo.Search(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Orders: orders, NextCursor: domain.NextCursor(orders, filter.Limit)}, nil
}

// Cancel возвращает остатки и отменяет заказ. Возвращает false, если заказ не найден или не в CREATED.
func (s *Service) Cancel(ctx context.Context, id int64) (canceled bool, err error) {
	defer func() { observe("cancel", err) }()

	canceled, err = s.repo.Cancel(ctx, id)
	if err != nil {
		return false, err
	}
	if canceled {
		s.logger.WithContext(ctx).WithField("order_id", id).Info("order canceled, stock restored")
	}
	return canceled, nil
}

// ConfirmIdempotent подтверждает заказ не более одного раза на ключ. Повторы с тем же
// ключом получают сохранённый ответ без повторного выполнения.
func (s *Service) ConfirmIdempotent(ctx context.Context, id int64, key string) (result ConfirmResult, err error) {
	defer func() {
		observe("confirm", err)
		switch {
		case err != nil:
			idempotentConfirmsTotal.WithLabelValues("error").Inc()
		case result.Replayed:
			idempotentConfirmsTotal.WithLabelValues("replayed").Inc()
		default:
			idempotentConfirmsTotal.WithLabelValues("executed").Inc()
		}
	}()

	req := domain.IdempotencyRequest{
		Key:        key,
		TargetType: domain.IdempotencyTargetOrderConfirm,
		TargetID:   strconv.FormatInt(id, 10),
		TTL:        s.confirmTTL,
	}

	res, err := s.ledger.RunOnce(ctx, req, func(ctx context.Context) ([]byte, error) {
		order, err := s.repo.Confirm(ctx, id)
		if errors.Is(err, domain.ErrConfirmNoop) {
			// Заказ уже не в CREATED или его нет: отдаём текущее состояние.
			order, err = s.repo.Get(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(order)
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	var order domain.Order
	if err := json.Unmarshal(res.Response, &order); err != nil {
		return ConfirmResult{}, fmt.Errorf("decode stored confirm response: %w", err)
	}

	s.logger.WithContext(ctx).WithFields(log.Fields{
		"order_id": id,
		"status":   order.Status,
		"replayed": res.Replayed,
	}).Info("order confirm processed")

	return ConfirmResult{Order: order, Body: res.Response, Replayed: res.Replayed}, nil
}

func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
	}
	ordersOperationsTotal.WithLabelValues(operation, result).Inc()
}

// validationError переводит ошибки validator в доменную ошибку с полями в details.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError("INVALID_INPUT", err.Error(), nil, err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return domain.NewValidationError("INVALID_INPUT", "invalid request body", map[string]any{"fields": fields}, err)
}

// Package reconcile находит заказы, застрявшие в CREATED после неудачного confirm,
// и при включённой автоотмене возвращает их остатки через обычный путь cancel.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultSweepInterval = time.Minute
	defaultStaleAfter    = 15 * time.Minute
	defaultSweepBatch    = 100
)

var (
	reconcileStaleOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersaga_reconcile_stale_orders",
		Help: "CREATED orders older than the stale threshold found by the last sweep.",
	})
	reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_reconcile_runs_total",
		Help: "Reconciliation sweeps grouped by result.",
	}, []string{"result"})
	reconcileCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersaga_reconcile_canceled_total",
		Help: "Stale orders canceled by the reconciliation sweep.",
	})
)

// Canceler отменяет заказ с возвратом остатков.
type Canceler interface {
	Cancel(ctx context.Context, id int64) (bool, error)
}

// StaleLister находит застрявшие заказы.
type StaleLister interface {
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error)
}

// Options задаёт параметры Sweeper.
type Options struct {
	Logger     *log.Entry
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Canceler   Canceler
}

// Option настраивает Sweeper.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithInterval(interval time.Duration) Option {
	return func(o *Options) { o.Interval = interval }
}

// WithStaleAfter задаёт возраст, после которого CREATED считается застрявшим.
func WithStaleAfter(d time.Duration) Option {
	return func(o *Options) { o.StaleAfter = d }
}

func WithBatchSize(n int) Option {
	return func(o *Options) { o.BatchSize = n }
}

// WithAutoCancel включает отмену найденных заказов.
func WithAutoCancel(c Canceler) Option {
	return func(o *Options) { o.Canceler = c }
}

// Result описывает итог одного прохода.
type Result struct {
	Stale    int
	Canceled int
}

// Sweeper периодически сверяет заказы в CREATED.
type Sweeper struct {
	orders     StaleLister
	canceler   Canceler
	logger     *log.Entry
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

// NewSweeper создаёт Sweeper.
func NewSweeper(orders StaleLister, options ...Option) *Sweeper {
	opts := Options{
		Interval:   defaultSweepInterval,
		StaleAfter: defaultStaleAfter,
		BatchSize:  defaultSweepBatch,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}

	return &Sweeper{
		orders:     orders,
		canceler:   opts.Canceler,
		logger:     logger,
		interval:   opts.Interval,
		staleAfter: opts.StaleAfter,
		batchSize:  opts.BatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Warn("reconciliation sweep failed")
			}
		}
	}
}

// Sweep выполняет один проход.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	stale, err := s.orders.ListStale(ctx, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		reconcileRunsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	res := Result{Stale: len(stale)}
	reconcileStaleOrders.Set(float64(len(stale)))

	for _, order := range stale {
		entry := s.logger.WithFields(log.Fields{
			"order_id":    order.ID,
			"customer_id": order.CustomerID,
			"created_at":  order.CreatedAt,
		})
		if s.canceler == nil {
			entry.Warn("order stuck in CREATED")
			continue
		}

		canceled, err := s.canceler.Cancel(ctx, order.ID)
		if err != nil {
			// Следующий проход повторит попытку.
			entry.WithError(err).Warn("cancel stale order failed")
			continue
		}
		if canceled {
			res.Canceled++
			reconcileCanceledTotal.Inc()
			entry.Info("stale order canceled, stock restored")
		}
	}

	reconcileRunsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

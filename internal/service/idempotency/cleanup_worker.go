package idempotency

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
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

var (
	idempotencyCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	idempotencyCleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency records deleted, grouped by record status.",
	}, []string{"status"})
	idempotencyCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersaga_idempotency_cleanup_last_deleted",
		Help: "Records deleted during the last cleanup run.",
	})
)

// CleanupOptions задает параметры воркера очистки.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер одной порции удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Now = now
	}
}

// CleanupWorker удаляет сохранённые ответы confirm, чей TTL истёк.
// После удаления повтор с тем же ключом снова выполнит confirm, а тот вернёт текущее
// состояние заказа без второго перехода.
type CleanupWorker struct {
	cleaner   domain.IdempotencyCleaner
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewCleanupWorker создает воркер очистки ledger'а идемпотентности.
func NewCleanupWorker(cleaner domain.IdempotencyCleaner, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &CleanupWorker{
		cleaner:   cleaner,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
}

// Run чистит ledger сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.cleaner == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: cleaner is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	removed, err := w.DeleteExpired(ctx, w.now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		idempotencyCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", removed.Total()).Warn("idempotency cleanup run failed")
		return
	}

	idempotencyCleanupRunsTotal.WithLabelValues("ok").Inc()
	idempotencyCleanupLastDeleted.Set(float64(removed.Total()))

	fields := log.Fields{
		"succeeded": removed.Succeeded,
		"pending":   removed.Pending,
	}
	switch {
	case removed.Pending > 0:
		// Ответ так и не был сохранён: confirm прервался посреди выполнения.
		w.logger.WithFields(fields).Warn("idempotency cleanup removed unfinished confirm records")
	case removed.Succeeded > 0:
		w.logger.WithFields(fields).Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет все записи с expires_at <= before порциями batchSize.
// При ошибке возвращает то, что успело удалиться.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (domain.ExpiredRecords, error) {
	if before.IsZero() {
		before = w.now()
	}

	var total domain.ExpiredRecords
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := w.cleaner.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}

		total = total.Add(batch)
		idempotencyCleanupDeletedTotal.WithLabelValues(string(domain.IdempotencyStatusSucceeded)).Add(float64(batch.Succeeded))
		idempotencyCleanupDeletedTotal.WithLabelValues(string(domain.IdempotencyStatusPending)).Add(float64(batch.Pending))

		if batch.Total() < w.batchSize {
			return total, nil
		}
	}
}

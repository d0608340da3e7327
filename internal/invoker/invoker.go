// Package invoker выполняет исходящие HTTP-вызовы с дедлайном на попытку
// и ограниченным числом повторов с экспоненциальной задержкой.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/correlation"
)

const (
	DefaultTimeout     = 2000 * time.Millisecond
	DefaultMaxAttempts = 2
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxJitter   = 50 * time.Millisecond

	maxResponseBytes = 1 << 20
)

var (
	// ErrAttemptsExhausted возвращается, если все попытки завершились транзиентной ошибкой.
	ErrAttemptsExhausted = errors.New("invoker: attempts exhausted")

	invokerAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_invoker_attempts_total",
		Help: "Outbound HTTP attempts grouped by call label and result.",
	}, []string{"call", "result"})
	invokerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ordersaga_invoker_call_duration_seconds",
		Help:    "Duration of outbound calls including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"call"})
)

// Config задаёт политику повторов.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
}

// DefaultConfig возвращает политику по умолчанию: 2 попытки по 2s, база 200ms.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	return c
}

// Response хранит полностью прочитанный ответ последней попытки.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError возвращается, если после исчерпания попыток ответ остался с кодом >= 500.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.StatusCode)
}

// RequestFactory строит новый запрос на каждую попытку: тело запроса нельзя переиспользовать.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Doer выполняет HTTP-запрос.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option настраивает Invoker.
type Option func(*Invoker)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client Doer) Option {
	return func(i *Invoker) {
		if client != nil {
			i.client = client
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithUserAgent задаёт User-Agent исходящих запросов.
func WithUserAgent(ua string) Option {
	return func(i *Invoker) {
		i.userAgent = ua
	}
}

// Invoker выполняет вызовы последовательно: повторы одной операции не распараллеливаются.
type Invoker struct {
	cfg       Config
	client    Doer
	logger    *log.Entry
	userAgent string
	tracer    trace.Tracer

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(limit time.Duration) time.Duration
}

// New создаёт Invoker.
func New(cfg Config, opts ...Option) *Invoker {
	inv := &Invoker{
		cfg:    cfg.normalized(),
		client: http.DefaultClient,
		logger: log.WithField("component", "http-invoker"),
		tracer: otel.Tracer("github.com/vladislavdragonenkov/ordersaga/internal/invoker"),
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Config возвращает действующую политику.
func (i *Invoker) Config() Config {
	return i.cfg
}

// Do выполняет запрос с повторами на сетевых ошибках, таймаутах и 5xx.
// Ответы 2xx-4xx возвращаются сразу. После последней попытки задержки нет.
func (i *Invoker) Do(ctx context.Context, call string, newRequest RequestFactory) (*Response, error) {
	started := time.Now()
	defer func() {
		invokerCallDuration.WithLabelValues(call).Observe(time.Since(started).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= i.cfg.MaxAttempts; attempt++ {
		resp, err := i.attempt(ctx, call, attempt, newRequest)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			invokerAttemptsTotal.WithLabelValues(call, "ok").Inc()
			return resp, nil
		}

		if err != nil {
			var buildErr *requestBuildError
			if errors.As(err, &buildErr) {
				return nil, buildErr.err
			}
			invokerAttemptsTotal.WithLabelValues(call, "error").Inc()
			lastErr = err
		} else {
			invokerAttemptsTotal.WithLabelValues(call, "5xx").Inc()
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
		}

		// Отмену внешнего контекста не повторяем.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", call, ctx.Err())
		}
		if attempt == i.cfg.MaxAttempts {
			break
		}

		delay := i.backoff(attempt)
		i.logger.WithContext(ctx).WithFields(log.Fields{
			"call":    call,
			"attempt": attempt,
			"delay":   delay,
			"error":   lastErr,
		}).Warn("outbound call failed, retrying")

		if err := i.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%s: %w", call, err)
		}
	}

	return nil, fmt.Errorf("%s: %w after %d attempts: %w", call, ErrAttemptsExhausted, i.cfg.MaxAttempts, lastErr)
}

// backoff = base * 2^(attempt-1) + jitter из [0, MaxJitter).
func (i *Invoker) backoff(attempt int) time.Duration {
	delay := i.cfg.BaseDelay << (attempt - 1)
	return delay + i.jitter(i.cfg.MaxJitter)
}

type requestBuildError struct{ err error }

func (e *requestBuildError) Error() string { return e.err.Error() }

func (i *Invoker) attempt(ctx context.Context, call string, attempt int, newRequest RequestFactory) (*Response, error) {
	ctx, span := i.tracer.Start(ctx, "invoker."+call, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int("http.attempt", attempt))

	attemptCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	req, err := newRequest(attemptCtx)
	if err != nil {
		span.RecordError(err)
		return nil, &requestBuildError{err: fmt.Errorf("%s: build request: %w", call, err)}
	}

	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))
	if id := correlation.FromContext(ctx); id != "" && req.Header.Get(correlation.Header) == "" {
		req.Header.Set(correlation.Header, id)
	}
	if i.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", i.userAgent)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, err
	}
	defer resp.Body.Close()

	// Тело читается внутри дедлайна попытки, медленное тело тоже считается таймаутом.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("read response body: %w", err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, strconv.Itoa(resp.StatusCode))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

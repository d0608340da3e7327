package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/correlation"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/telemetry"
)

// RouterConfig содержит общие зависимости роутеров сервисов.
type RouterConfig struct {
	Service string
	Logger  *log.Entry
	Metrics *metrics.HTTPMetrics
}

func (c RouterConfig) logger() *log.Entry {
	if c.Logger != nil {
		return c.Logger
	}
	return log.WithField("component", c.Service+"-http")
}

// newRouter собирает chi-роутер с общей цепочкой middleware.
func newRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Tracing(cfg.Service))
	r.Use(Correlation)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware(cfg.Service))
	}
	r.Use(RequestLogger(cfg.logger()))
	r.Use(middleware.Recoverer)
	return r
}

// Correlation берёт X-Correlation-Id из запроса или создаёт новый и отражает его в ответе.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := correlation.Ensure(r.Header.Get(correlation.Header))
		w.Header().Set(correlation.Header, id)
		next.ServeHTTP(w, r.WithContext(correlation.WithID(r.Context(), id)))
	})
}

// Tracing извлекает W3C trace context и открывает серверный спан на запрос.
func Tracing(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := telemetry.Tracer().Start(ctx, service+" "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
				span.SetName(service + " " + r.Method + " " + rctx.RoutePattern())
			}
			span.SetAttributes(attribute.Int("http.response.status_code", ww.Status()))
			if ww.Status() >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(ww.Status()))
			}
		})
	}
}

// RequestLogger пишет строку лога на каждый запрос.
func RequestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithContext(r.Context()).WithFields(log.Fields{
				"method":         r.Method,
				"path":           r.URL.Path,
				"status":         ww.Status(),
				"bytes":          ww.BytesWritten(),
				"duration_ms":    time.Since(started).Milliseconds(),
				"request_id":     middleware.GetReqID(r.Context()),
				"correlation_id": correlation.FromContext(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Info("http request")
		})
	}
}

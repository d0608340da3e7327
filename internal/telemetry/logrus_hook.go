package telemetry

import (
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/correlation"
)

// TraceHook добавляет trace_id, span_id и correlation_id в записи, созданные через WithContext.
type TraceHook struct{}

func (TraceHook) Levels() []log.Level {
	return log.AllLevels
}

func (TraceHook) Fire(entry *log.Entry) error {
	if entry.Context == nil {
		return nil
	}

	sc := trace.SpanContextFromContext(entry.Context)
	if sc.HasTraceID() {
		entry.Data["trace_id"] = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		entry.Data["span_id"] = sc.SpanID().String()
	}
	if id := correlation.FromContext(entry.Context); id != "" {
		if _, ok := entry.Data["correlation_id"]; !ok {
			entry.Data["correlation_id"] = id
		}
	}
	return nil
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewSagaMetrics(t *testing.T) {
	metrics := NewSagaMetrics()

	if metrics == nil {
		t.Fatal("NewSagaMetrics should not return nil")
	}
	if metrics.sagaStarted == nil || metrics.sagaOutcomes == nil || metrics.sagaDuration == nil {
		t.Fatal("saga counters should not be nil")
	}
	if metrics.stepDuration == nil || metrics.danglingOrders == nil || metrics.activeSagas == nil {
		t.Fatal("saga step metrics should not be nil")
	}
}

func TestNewSagaMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewSagaMetricsWithRegisterer(reg)
	second := NewSagaMetricsWithRegisterer(reg)

	first.RecordSagaStarted()
	second.RecordSagaStarted()

	require.Equal(t, float64(2), testutil.ToFloat64(first.sagaStarted))
}

func TestSagaLifecycleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSagaMetricsWithRegisterer(reg)

	m.RecordSagaStarted()
	require.Equal(t, float64(1), testutil.ToFloat64(m.activeSagas))

	m.RecordStepDuration("create_order", 15*time.Millisecond)
	m.RecordDanglingOrder()
	m.RecordSagaFinished("confirm_order", http.StatusBadGateway, 40*time.Millisecond)

	require.Zero(t, testutil.ToFloat64(m.activeSagas))
	require.Equal(t, float64(1), testutil.ToFloat64(m.danglingOrders))
	require.Equal(t, float64(1), testutil.ToFloat64(m.sagaOutcomes.WithLabelValues("confirm_order", "502")))

	metric := &dto.Metric{}
	require.NoError(t, m.sagaDuration.Write(metric))
	require.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
}

func TestHTTPMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware("orders"))
	r.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/42", nil))

	require.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("orders", "/orders/{id}", "GET", "404")))
}

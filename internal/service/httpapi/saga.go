package httpapi

import (
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/ordersaga/internal/correlation"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/saga"
)

// NewSagaRouter возвращает точку входа оркестратора: POST / и POST /orchestrate.
func NewSagaRouter(orch *saga.Orchestrator, cfg RouterConfig) http.Handler {
	logger := cfg.logger()
	r := newRouter(cfg)

	place := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			logger.WithContext(r.Context()).WithError(err).Info("read saga body failed")
			writeJSON(w, http.StatusUnprocessableEntity, saga.ErrorBody{Message: "Validation error", Detail: err.Error()})
			return
		}

		outcome := orch.Place(r.Context(), raw, correlation.FromContext(r.Context()))
		w.Header().Set(correlation.Header, outcome.CorrelationID)
		writeJSON(w, outcome.Status, outcome.Body)
	}
	notAllowed := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, saga.ErrorBody{Message: "Method Not Allowed"})
	}

	r.Post("/", place)
	r.Post("/orchestrate", place)
	r.MethodNotAllowed(notAllowed)
	return r
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/orders"
)

const (
	// IdempotencyKeyHeader передаёт ключ идемпотентного подтверждения.
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ReplayedHeader выставляется, когда ответ confirm взят из реестра ключей.
	ReplayedHeader = "X-Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// OrderHandler обслуживает HTTP-эндпоинты движка заказов.
type OrderHandler struct {
	svc    *orders.Service
	logger *log.Entry
}

// NewOrderRouter возвращает роутер движка заказов. Маршруты доступны и с префиксом /V1.
func NewOrderRouter(svc *orders.Service, cfg RouterConfig) http.Handler {
	h := &OrderHandler{svc: svc, logger: cfg.logger()}

	r := newRouter(cfg)
	h.Mount(r)
	r.Route("/V1", h.Mount)
	return r
}

// Mount регистрирует маршруты /orders.
func (h *OrderHandler) Mount(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.search)
		r.Get("/{id}", h.get)
		r.Get("/{id}/history", h.history)
		r.Post("/{id}/confirm", h.confirm)
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *OrderHandler) create(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	order, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type historyResponse struct {
	OrderID int64                  `json:"order_id"`
	Events  []domain.TimelineEvent `json:"events"`
}

func (h *OrderHandler) history(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	events, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{OrderID: id, Events: events})
}

func (h *OrderHandler) search(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSearchFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := h.svc.Search(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if page.Orders == nil {
		page.Orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *OrderHandler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.svc.ConfirmIdempotent(r.Context(), id, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if result.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	writeRawJSON(w, http.StatusOK, result.Body)
}

func (h *OrderHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ok, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, ErrorResponse{Message: "Cannot cancel"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("INVALID_JSON", "invalid JSON body", nil, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("INVALID_ID", "id must be a positive integer",
			map[string]any{"id": raw}, err)
	}
	return id, nil
}

// parseSearchFilter читает status, from, to, cursor и limit из query.
func parseSearchFilter(r *http.Request) (domain.SearchFilter, error) {
	q := r.URL.Query()
	var filter domain.SearchFilter

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.OrderStatus(strings.ToUpper(raw))
		if !status.Valid() {
			return domain.SearchFilter{}, invalidQuery("status", raw)
		}
		filter.Status = status
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		return domain.SearchFilter{}, invalidQuery("from", q.Get("from"))
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		return domain.SearchFilter{}, invalidQuery("to", q.Get("to"))
	}

	if raw := q.Get("cursor"); raw != "" {
		if filter.Cursor, err = strconv.ParseInt(raw, 10, 64); err != nil || filter.Cursor < 0 {
			return domain.SearchFilter{}, invalidQuery("cursor", raw)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			return domain.SearchFilter{}, invalidQuery("limit", raw)
		}
	}
	return filter, nil
}

// parseTimeParam принимает RFC3339 или дату YYYY-MM-DD (UTC).
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func invalidQuery(param, value string) error {
	return domain.NewValidationError("INVALID_QUERY", "invalid query parameter "+param,
		map[string]any{param: value}, nil)
}

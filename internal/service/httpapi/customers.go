package httpapi

import (
	"crypto/subtle"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// CustomerHandler отдаёт клиента по id для внутренних вызовов.
type CustomerHandler struct {
	repo   domain.CustomerRepository
	logger *log.Entry
}

// NewCustomerRouter возвращает роутер реестра клиентов; /internal защищён статическим токеном.
func NewCustomerRouter(repo domain.CustomerRepository, serviceToken string, cfg RouterConfig) http.Handler {
	h := &CustomerHandler{repo: repo, logger: cfg.logger()}

	r := newRouter(cfg)
	mount := func(r chi.Router) {
		r.With(BearerAuth(serviceToken)).Get("/internal/customers/{id}", h.getInternal)
	}
	mount(r)
	r.Route("/V1", mount)
	return r
}

func (h *CustomerHandler) getInternal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	customer, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// BearerAuth пропускает запрос только с совпадающим токеном: 401 без токена, 403 с чужим.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := bearerPattern.FindStringSubmatch(r.Header.Get("Authorization"))
			if m == nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Message: "Missing bearer token"})
				return
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(m[1]), []byte(token)) != 1 {
				writeJSON(w, http.StatusForbidden, ErrorResponse{Message: "Invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

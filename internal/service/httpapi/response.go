// Package httpapi собирает HTTP-роутеры трёх сервисов на chi: движок заказов,
// внутренний эндпоинт реестра клиентов и точка входа оркестратора.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// ErrorResponse описывает тело любой ошибки.
type ErrorResponse struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError переводит ошибку в HTTP-статус и тело ErrorResponse.
func writeError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	var appErr *domain.Error
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		entry := logger.WithContext(r.Context()).WithError(err).WithFields(log.Fields{
			"code":   appErr.Code,
			"status": status,
		})
		if status >= http.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Debug("request rejected")
		}
		writeJSON(w, status, ErrorResponse{Message: appErr.Message, Code: appErr.Code, Details: appErr.Details})
		return
	}

	kind := domain.KindOf(err)
	status := kind.HTTPStatus()
	resp := ErrorResponse{Message: http.StatusText(status)}
	switch kind {
	case domain.KindValidation, domain.KindNotFound:
		resp.Message = err.Error()
	case domain.KindConflict:
		resp.Message = "Conflict, retry the request"
		resp.Code = "CONFLICT"
	case domain.KindStorageUnavailable:
		resp.Message = "Database unavailable"
		resp.Code = "STORAGE_UNAVAILABLE"
	case domain.KindUpstreamUnavailable:
		resp.Message = "Upstream unavailable"
		resp.Code = "UPSTREAM_UNAVAILABLE"
	default:
		resp.Message = "Internal Error"
	}

	entry := logger.WithContext(r.Context()).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, resp)
}

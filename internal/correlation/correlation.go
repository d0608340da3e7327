// Package correlation переносит correlation id запроса через context и HTTP-заголовки.
package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header содержит correlation id запроса.
const Header = "X-Correlation-Id"

type ctxKey struct{}

// WithID кладёт id в контекст.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext возвращает id из контекста или пустую строку.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure возвращает переданный id без пробелов или генерирует новый uuid.
func Ensure(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString()
	}
	return id
}

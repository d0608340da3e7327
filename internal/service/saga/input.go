package saga

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinIdempotencyKeyLength ограничивает длину ключа, переданного клиентом.
const MinIdempotencyKeyLength = 8

// Int принимает JSON-число или строку с целым числом.
type Int int64

func (n *Int) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", data)
	}
	*n = Int(v)
	return nil
}

type ItemInput struct {
	ProductID Int `json:"product_id" validate:"gt=0"`
	Qty       Int `json:"qty" validate:"gte=1"`
}

// Input описывает тело запроса к оркестратору.
type Input struct {
	CustomerID     Int         `json:"customer_id" validate:"gt=0"`
	Items          []ItemInput `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey string      `json:"idempotency_key,omitempty" validate:"omitempty,min=8"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
}

// ErrInvalidInput возвращается, если тело не разобралось или не прошло валидацию.
var ErrInvalidInput = errors.New("validation error")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseInput декодирует и валидирует тело. Пустое тело эквивалентно {}.
func ParseInput(raw []byte) (Input, error) {
	var in Input
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return Input{}, fmt.Errorf("%w: invalid JSON body: %w", ErrInvalidInput, err)
		}
	}
	if err := validate.Struct(in); err != nil {
		return Input{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return in, nil
}

// orderItems переводит позиции в тело POST /orders.
func (in Input) orderItems() []OrderItem {
	items := make([]OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, OrderItem{ProductID: int64(it.ProductID), Qty: int64(it.Qty)})
	}
	return items
}

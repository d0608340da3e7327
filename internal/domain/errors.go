package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// ErrItemQtyTooLarge возвращается, если количество по товару больше MaxItemQty.
	ErrItemQtyTooLarge = errors.New("item qty exceeds limit")
	// ErrOrderTotalOverflow возвращается, если сумма заказа не помещается в int64.
	ErrOrderTotalOverflow = errors.New("order total overflows")
	// Ошибка неположительного идентификатора товара.
	ErrProductIDInvalid = errors.New("product_id must be positive")
	// Ошибка неположительного идентификатора клиента.
	ErrCustomerIDInvalid = errors.New("customer_id must be positive")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товара из позиции нет.
	ErrProductNotFound = errors.New("product not found")
	// ErrOutOfStock возвращается, если остатка не хватает на запрошенное количество.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrConfirmNoop возвращается, если условный UPDATE не затронул строку: заказ уже не в CREATED или его нет.
	ErrConfirmNoop = errors.New("order confirm did not apply")
	// ErrMissingIdempotencyKey возвращается, если confirm вызван без X-Idempotency-Key.
	ErrMissingIdempotencyKey = errors.New("missing idempotency key")
	// ErrIdempotencyKeyReused возвращается, если ключ уже закрыт ответом для другой цели.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for another target")
	// ErrCustomerNotFound возвращается, если реестр клиентов ответил 404.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrUpstreamUnavailable возвращается, если внешний сервис недоступен или исчерпаны попытки.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStorageUnavailable возвращается, если база данных недоступна.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageConflict означает дедлок, сбой сериализации или нарушение уникальности.
	ErrStorageConflict = errors.New("storage conflict")
	// ErrOutboxPublish возвращается при ошибке публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind определяет класс ошибки и её HTTP-статус.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindStorageUnavailable  ErrorKind = "storage_unavailable"
	KindInternal            ErrorKind = "internal"
)

// HTTPStatus возвращает статус по умолчанию для класса ошибки.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error описывает прикладную ошибку с кодом и деталями для клиента.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus возвращает подсказку HTTP-статуса.
func (e *Error) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// NewValidationError создаёт ошибку валидации входных данных.
func NewValidationError(code, message string, details map[string]any, cause error) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Details: details, Err: cause}
}

// ProductNotFound строит ошибку для неизвестного товара в позиции. Отдаётся как 400, потому что товар пришёл во вводе.
func ProductNotFound(productID int64) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "PRODUCT_NOT_FOUND",
		Message: fmt.Sprintf("product %d not found", productID),
		Details: map[string]any{"product_id": productID},
		Err:     ErrProductNotFound,
	}
}

// OutOfStock строит ошибку нехватки остатка.
func OutOfStock(productID, requested, available int64) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    "OUT_OF_STOCK",
		Message: "insufficient stock",
		Details: map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		},
		Err: ErrOutOfStock,
	}
}

func OrderNotFound(orderID int64) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "ORDER_NOT_FOUND",
		Message: "order not found",
		Details: map[string]any{"id": orderID},
		Err:     ErrOrderNotFound,
	}
}

// CustomerNotFound строит ошибку для клиента, которого нет в реестре.
func CustomerNotFound(customerID int64) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "CUSTOMER_NOT_FOUND",
		Message: "customer not found",
		Details: map[string]any{"id": customerID},
		Err:     ErrCustomerNotFound,
	}
}

// CustomersUnavailable строит ошибку, когда реестр клиентов не ответил успешно.
func CustomersUnavailable(cause error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Code:    "CUSTOMERS_UNAVAILABLE",
		Message: "customers api unavailable",
		Err:     errors.Join(ErrUpstreamUnavailable, cause),
	}
}

func MissingIdempotencyKey() *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "MISSING_IDEMPOTENCY_KEY",
		Message: "missing X-Idempotency-Key",
		Err:     ErrMissingIdempotencyKey,
	}
}

// IdempotencyKeyReused строит ошибку для ключа, закреплённого за другой целью.
func IdempotencyKeyReused(key, targetID string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    "IDEMPOTENCY_KEY_REUSED",
		Message: "idempotency key already used for another order",
		Details: map[string]any{"target_id": targetID},
		Err:     fmt.Errorf("%w: key %s", ErrIdempotencyKeyReused, key),
	}
}

// KindOf классифицирует произвольную ошибку.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	switch {
	case errors.Is(err, ErrItemsRequired),
		errors.Is(err, ErrItemQtyInvalid),
		errors.Is(err, ErrItemQtyTooLarge),
		errors.Is(err, ErrOrderTotalOverflow),
		errors.Is(err, ErrProductIDInvalid),
		errors.Is(err, ErrCustomerIDInvalid),
		errors.Is(err, ErrMissingIdempotencyKey),
		errors.Is(err, ErrProductNotFound):
		return KindValidation
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrCustomerNotFound):
		return KindNotFound
	case errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrIdempotencyKeyReused),
		errors.Is(err, ErrStorageConflict):
		return KindConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	default:
		return KindInternal
	}
}

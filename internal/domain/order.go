package domain

import (
	"math"
	"sort"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusCreated означает, что заказ создан и сток списан, а подтверждения ещё не было.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusConfirmed терминальный: заказ подтверждён.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusCanceled терминальный: заказ отменён, сток возвращён.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusConfirmed, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo разрешает только CREATED→CONFIRMED и CREATED→CANCELED.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s != OrderStatusCreated {
		return false
	}
	return next == OrderStatusConfirmed || next == OrderStatusCanceled
}

// OrderLine хранит позицию заказа. UnitPriceCents фиксирует цену товара на момент создания.
type OrderLine struct {
	ID             int64 `json:"id"`
	OrderID        int64 `json:"order_id"`
	ProductID      int64 `json:"product_id"`
	Qty            int64 `json:"qty"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

// Order агрегирует заказ и его позиции.
type Order struct {
	ID         int64       `json:"id"`
	CustomerID int64       `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	TotalCents int64       `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
	Items      []OrderLine `json:"items,omitempty"`
}

// OrderItemInput описывает запрошенную позицию при создании заказа.
type OrderItemInput struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Qty       int64 `json:"qty" validate:"gt=0"`
}

// Product хранит цену и остаток товара.
type Product struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int64  `json:"stock"`
}

// MaxItemQty ограничивает суммарное количество одного товара в заказе.
// При таком пределе сумма строк и остаток не переполняют int64.
const MaxItemQty = math.MaxInt32

// ValidateItems проверяет предусловия create: позиции есть, id и количество положительные,
// суммарное количество по каждому товару не больше MaxItemQty.
func ValidateItems(items []OrderItemInput) error {
	if len(items) == 0 {
		return ErrItemsRequired
	}
	perProduct := make(map[int64]int64, len(items))
	for _, item := range items {
		if item.ProductID <= 0 {
			return NewValidationError("INVALID_ITEMS", "product_id must be positive", map[string]any{
				"product_id": item.ProductID,
			}, ErrProductIDInvalid)
		}
		if item.Qty <= 0 {
			return NewValidationError("INVALID_ITEMS", "qty must be > 0", map[string]any{
				"product_id": item.ProductID,
			}, ErrItemQtyInvalid)
		}
		// Оба слагаемых не больше MaxItemQty, переполнения нет.
		if item.Qty > MaxItemQty || perProduct[item.ProductID]+item.Qty > MaxItemQty {
			return NewValidationError("INVALID_ITEMS", "qty exceeds limit", map[string]any{
				"product_id": item.ProductID,
				"max_qty":    int64(MaxItemQty),
			}, ErrItemQtyTooLarge)
		}
		perProduct[item.ProductID] += item.Qty
	}
	return nil
}

// RequestedQuantities суммирует количество по товару и возвращает id в порядке возрастания.
// Отсортированный порядок задаёт порядок взятия блокировок.
func RequestedQuantities(items []OrderItemInput) (map[int64]int64, []int64) {
	totals := make(map[int64]int64, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Qty
	}
	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return totals, ids
}

// CheckStock сверяет запрошенные количества со снимком товаров, взятым под блокировкой.
func CheckStock(products map[int64]Product, totals map[int64]int64, ids []int64) error {
	for _, id := range ids {
		product, ok := products[id]
		if !ok {
			return ProductNotFound(id)
		}
		if product.Stock < totals[id] {
			return OutOfStock(id, totals[id], product.Stock)
		}
	}
	return nil
}

// BuildLines строит позиции заказа со снимком цен и считает итоговую сумму.
// Сумма, не помещающаяся в int64, отклоняется как ошибка валидации.
func BuildLines(products map[int64]Product, items []OrderItemInput) ([]OrderLine, int64, error) {
	lines := make([]OrderLine, 0, len(items))
	var total int64
	for _, item := range items {
		price := products[item.ProductID].PriceCents
		if price > 0 && (item.Qty > math.MaxInt64/price || price*item.Qty > math.MaxInt64-total) {
			return nil, 0, NewValidationError("ORDER_TOTAL_OVERFLOW", "order total is too large", map[string]any{
				"product_id": item.ProductID,
			}, ErrOrderTotalOverflow)
		}
		total += price * item.Qty
		lines = append(lines, OrderLine{
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			UnitPriceCents: price,
		})
	}
	return lines, total, nil
}

package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusCreated, OrderStatusConfirmed, true},
		{OrderStatusCreated, OrderStatusCanceled, true},
		{OrderStatusCreated, OrderStatusCreated, false},
		{OrderStatusConfirmed, OrderStatusCanceled, false},
		{OrderStatusConfirmed, OrderStatusCreated, false},
		{OrderStatusCanceled, OrderStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestValidateItems(t *testing.T) {
	require.ErrorIs(t, ValidateItems(nil), ErrItemsRequired)
	require.ErrorIs(t, ValidateItems([]OrderItemInput{{ProductID: 1, Qty: 0}}), ErrItemQtyInvalid)
	require.ErrorIs(t, ValidateItems([]OrderItemInput{{ProductID: 0, Qty: 1}}), ErrProductIDInvalid)
	require.NoError(t, ValidateItems([]OrderItemInput{{ProductID: 1, Qty: 2}}))

	err := ValidateItems([]OrderItemInput{{ProductID: 3, Qty: -1}})
	require.Equal(t, KindValidation, KindOf(err))
}

func TestValidateItems_RejectsQuantitiesThatWouldOverflow(t *testing.T) {
	tests := []struct {
		name  string
		items []OrderItemInput
	}{
		{name: "single line over limit", items: []OrderItemInput{{ProductID: 1, Qty: MaxItemQty + 1}}},
		{name: "max int64 line", items: []OrderItemInput{{ProductID: 1, Qty: math.MaxInt64}}},
		{name: "duplicate lines wrap int64", items: []OrderItemInput{
			{ProductID: 1, Qty: math.MaxInt64},
			{ProductID: 1, Qty: 1},
		}},
		{name: "duplicate lines sum over limit", items: []OrderItemInput{
			{ProductID: 1, Qty: MaxItemQty},
			{ProductID: 2, Qty: 1},
			{ProductID: 1, Qty: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItems(tt.items)
			require.ErrorIs(t, err, ErrItemQtyTooLarge)

			var appErr *Error
			require.True(t, errors.As(err, &appErr))
			require.Equal(t, "INVALID_ITEMS", appErr.Code)
			require.Equal(t, KindValidation, appErr.Kind)
		})
	}

	require.NoError(t, ValidateItems([]OrderItemInput{{ProductID: 1, Qty: MaxItemQty - 1}, {ProductID: 1, Qty: 1}}))
}

func TestRequestedQuantities_SumsDuplicatesAndSorts(t *testing.T) {
	totals, ids := RequestedQuantities([]OrderItemInput{
		{ProductID: 9, Qty: 1},
		{ProductID: 2, Qty: 2},
		{ProductID: 9, Qty: 3},
	})

	require.Equal(t, []int64{2, 9}, ids)
	require.Equal(t, int64(4), totals[9])
	require.Equal(t, int64(2), totals[2])
}

func TestCheckStock(t *testing.T) {
	products := map[int64]Product{
		1: {ID: 1, PriceCents: 100, Stock: 3},
		2: {ID: 2, PriceCents: 50, Stock: 10},
	}

	t.Run("enough stock", func(t *testing.T) {
		totals, ids := RequestedQuantities([]OrderItemInput{{ProductID: 1, Qty: 3}, {ProductID: 2, Qty: 1}})
		require.NoError(t, CheckStock(products, totals, ids))
	})

	t.Run("duplicate lines exceed stock together", func(t *testing.T) {
		totals, ids := RequestedQuantities([]OrderItemInput{{ProductID: 1, Qty: 2}, {ProductID: 1, Qty: 2}})
		err := CheckStock(products, totals, ids)
		require.ErrorIs(t, err, ErrOutOfStock)

		var appErr *Error
		require.True(t, errors.As(err, &appErr))
		require.Equal(t, "OUT_OF_STOCK", appErr.Code)
		require.Equal(t, int64(1), appErr.Details["product_id"])
	})

	t.Run("unknown product", func(t *testing.T) {
		totals, ids := RequestedQuantities([]OrderItemInput{{ProductID: 42, Qty: 1}})
		require.ErrorIs(t, CheckStock(products, totals, ids), ErrProductNotFound)
	})
}

func TestBuildLines_SnapshotsPriceAndTotal(t *testing.T) {
	products := map[int64]Product{
		1: {ID: 1, PriceCents: 250},
		2: {ID: 2, PriceCents: 1000},
	}

	lines, total, err := BuildLines(products, []OrderItemInput{{ProductID: 1, Qty: 4}, {ProductID: 2, Qty: 1}})
	require.NoError(t, err)

	require.Len(t, lines, 2)
	require.Equal(t, int64(250), lines[0].UnitPriceCents)
	require.Equal(t, int64(1000), lines[1].UnitPriceCents)
	require.Equal(t, int64(2000), total)
}

func TestBuildLines_RejectsTotalOverflow(t *testing.T) {
	products := map[int64]Product{
		1: {ID: 1, PriceCents: math.MaxInt64 / 2},
		2: {ID: 2, PriceCents: 3},
	}

	_, _, err := BuildLines(products, []OrderItemInput{{ProductID: 1, Qty: 3}})
	require.ErrorIs(t, err, ErrOrderTotalOverflow)
	require.Equal(t, KindValidation, KindOf(err))

	// Каждая строка помещается, переполняется сумма.
	_, _, err = BuildLines(products, []OrderItemInput{{ProductID: 1, Qty: 2}, {ProductID: 2, Qty: 1}})
	require.ErrorIs(t, err, ErrOrderTotalOverflow)

	_, total, err := BuildLines(products, []OrderItemInput{{ProductID: 1, Qty: 2}})
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64-1), total)
}

func TestNewTimelineEvent(t *testing.T) {
	occurred := time.Date(2026, 5, 1, 9, 0, 0, 0, time.FixedZone("MSK", 3*60*60))
	event := NewTimelineEvent(EventTypeOrderConfirmed, Order{ID: 7, Status: OrderStatusConfirmed}, occurred)

	require.Equal(t, int64(7), event.OrderID)
	require.Equal(t, OrderStatusConfirmed, event.Status)
	require.Equal(t, EventTypeOrderConfirmed, event.Type)
	require.Equal(t, time.UTC, event.Occurred.Location())
	require.True(t, occurred.Equal(event.Occurred))
}

func TestSearchFilterNormalized(t *testing.T) {
	require.Equal(t, DefaultSearchLimit, SearchFilter{}.Normalized().Limit)
	require.Equal(t, 1, SearchFilter{Limit: -5}.Normalized().Limit)
	require.Equal(t, MaxSearchLimit, SearchFilter{Limit: 1000}.Normalized().Limit)
	require.Equal(t, 7, SearchFilter{Limit: 7}.Normalized().Limit)
}

func TestSearchFilterMatches(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	order := Order{ID: 5, Status: OrderStatusCreated, CreatedAt: created}

	require.True(t, SearchFilter{}.Matches(order))
	require.False(t, SearchFilter{Cursor: 5}.Matches(order))
	require.False(t, SearchFilter{Status: OrderStatusConfirmed}.Matches(order))
	require.False(t, SearchFilter{From: created.Add(time.Second)}.Matches(order))
	require.False(t, SearchFilter{To: created.Add(-time.Second)}.Matches(order))
	require.True(t, SearchFilter{From: created, To: created}.Matches(order))
}

func TestNextCursor(t *testing.T) {
	page := []Order{{ID: 3}, {ID: 8}}
	require.Equal(t, int64(8), NextCursor(page, 2))
	require.Equal(t, int64(0), NextCursor(page, 3))
	require.Equal(t, int64(0), NextCursor(nil, 20))
}

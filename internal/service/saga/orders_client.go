package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/ordersaga/internal/invoker"
)

const (
	createOrderCall  = "orders.create"
	confirmOrderCall = "orders.confirm"

	// IdempotencyHeader передаёт ключ идемпотентного подтверждения.
	IdempotencyHeader = "X-Idempotency-Key"
)

// UpstreamStatusError возвращается, если движок заказов ответил кодом вне 2xx.
type UpstreamStatusError struct {
	Call       string
	StatusCode int
	Body       []byte
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: upstream responded %d %s", e.Call, e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// CreatedOrder содержит id для следующего шага и тело заказа как есть.
type CreatedOrder struct {
	ID   int64
	Body json.RawMessage
}

type OrderItem struct {
	ProductID int64 `json:"product_id"`
	Qty       int64 `json:"qty"`
}

type createOrderRequest struct {
	CustomerID int64       `json:"customer_id"`
	Items      []OrderItem `json:"items"`
}

// OrdersClient вызывает HTTP-поверхность движка заказов через Invoker.
type OrdersClient struct {
	baseURL string
	invoker *invoker.Invoker
}

// NewOrdersClient создаёт клиента движка заказов.
func NewOrdersClient(baseURL string, inv *invoker.Invoker) *OrdersClient {
	return &OrdersClient{baseURL: strings.TrimRight(baseURL, "/"), invoker: inv}
}

// Create выполняет POST /orders.
func (c *OrdersClient) Create(ctx context.Context, customerID int64, items []OrderItem) (CreatedOrder, error) {
	payload, err := json.Marshal(createOrderRequest{CustomerID: customerID, Items: items})
	if err != nil {
		return CreatedOrder{}, fmt.Errorf("encode create order: %w", err)
	}

	resp, err := c.invoker.Do(ctx, createOrderCall, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return CreatedOrder{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CreatedOrder{}, &UpstreamStatusError{Call: createOrderCall, StatusCode: resp.StatusCode, Body: resp.Body}
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		return CreatedOrder{}, fmt.Errorf("%s: decode response: %w", createOrderCall, err)
	}
	if created.ID <= 0 {
		return CreatedOrder{}, fmt.Errorf("%s: response without order id", createOrderCall)
	}
	return CreatedOrder{ID: created.ID, Body: json.RawMessage(resp.Body)}, nil
}

// Confirm выполняет POST /orders/{id}/confirm с ключом идемпотентности.
func (c *OrdersClient) Confirm(ctx context.Context, orderID int64, idempotencyKey string) (json.RawMessage, error) {
	url := c.baseURL + "/orders/" + strconv.FormatInt(orderID, 10) + "/confirm"

	resp, err := c.invoker.Do(ctx, confirmOrderCall, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(IdempotencyHeader, idempotencyKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamStatusError{Call: confirmOrderCall, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return json.RawMessage(resp.Body), nil
}

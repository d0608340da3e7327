// Package customers содержит клиент внутреннего эндпоинта реестра клиентов.
package customers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/invoker"
)

const lookupCall = "customers.lookup"

// Client разрешает id клиента в профиль через Invoker.
type Client struct {
	baseURL string
	token   string
	invoker *invoker.Invoker
}

// NewClient создаёт клиента реестра. baseURL без завершающего слэша.
func NewClient(baseURL, token string, inv *invoker.Invoker) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		invoker: inv,
	}
}

// Lookup возвращает профиль клиента. 404 реестра означает found=false без ошибки;
// любая другая неудача превращается в domain.ErrUpstreamUnavailable.
func (c *Client) Lookup(ctx context.Context, id int64) (domain.Customer, bool, error) {
	url := c.baseURL + "/internal/customers/" + strconv.FormatInt(id, 10)

	resp, err := c.invoker.Do(ctx, lookupCall, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return domain.Customer{}, false, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Customer{}, false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domain.Customer{}, false, fmt.Errorf("%w: customers api responded %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var customer domain.Customer
	if err := json.Unmarshal(resp.Body, &customer); err != nil {
		return domain.Customer{}, false, fmt.Errorf("%w: decode customer: %w", domain.ErrUpstreamUnavailable, err)
	}
	return customer, true, nil
}

var _ domain.CustomerLookup = (*Client)(nil)

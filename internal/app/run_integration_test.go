package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ordersaga/internal/correlation"
)

const stackToken = "integration-token"

// PlacementStackTestSuite поднимает все три сервиса на loopback с memory-хранилищем.
type PlacementStackTestSuite struct {
	suite.Suite

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error

	orchestratorURL string
	ordersURL       string
	customersURL    string
}

func (s *PlacementStackTestSuite) SetupSuite() {
	t := s.T()

	customersCfg := DefaultCustomerServiceConfig()
	customersCfg.HTTPAddr, customersCfg.MetricsAddr = freeAddr(t), freeAddr(t)
	customersCfg.ServiceToken = stackToken

	ordersCfg := DefaultOrderServiceConfig()
	ordersCfg.HTTPAddr, ordersCfg.MetricsAddr = freeAddr(t), freeAddr(t)
	ordersCfg.CustomersBaseURL = "http://" + customersCfg.HTTPAddr
	ordersCfg.CustomersToken = stackToken

	orchCfg := DefaultOrchestratorConfig()
	orchCfg.HTTPAddr, orchCfg.MetricsAddr = freeAddr(t), freeAddr(t)
	orchCfg.CustomersBaseURL = "http://" + customersCfg.HTTPAddr
	orchCfg.OrdersBaseURL = "http://" + ordersCfg.HTTPAddr
	orchCfg.CustomersToken = stackToken
	orchCfg.Invoker.BaseDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.errs = make(chan error, 3)

	for _, run := range []func(context.Context) error{
		func(ctx context.Context) error { return RunCustomerService(ctx, customersCfg) },
		func(ctx context.Context) error { return RunOrderService(ctx, ordersCfg) },
		func(ctx context.Context) error { return RunOrchestrator(ctx, orchCfg) },
	} {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.errs <- run(ctx)
		}()
	}

	for _, addr := range []string{customersCfg.MetricsAddr, ordersCfg.MetricsAddr, orchCfg.MetricsAddr} {
		waitHTTP(t, "http://"+addr+"/readyz")
	}

	s.orchestratorURL = "http://" + orchCfg.HTTPAddr
	s.ordersURL = "http://" + ordersCfg.HTTPAddr
	s.customersURL = "http://" + customersCfg.HTTPAddr
}

func (s *PlacementStackTestSuite) TearDownSuite() {
	s.cancel()
	s.wg.Wait()
	close(s.errs)
	for err := range s.errs {
		s.ErrorIs(err, context.Canceled)
	}
}

func (s *PlacementStackTestSuite) post(url, body string, headers map[string]string) (*http.Response, map[string]any) {
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (s *PlacementStackTestSuite) TestPlaceOrderThroughAllServices() {
	resp, body := s.post(s.orchestratorURL+"/orchestrate",
		`{"customer_id":1,"items":[{"product_id":2,"qty":3}],"idempotency_key":"integration-key-1"}`,
		map[string]string{correlation.Header: "corr-integration"})

	s.Require().Equal(http.StatusCreated, resp.StatusCode, body)
	s.Equal("corr-integration", resp.Header.Get(correlation.Header))
	s.Equal("no-store", resp.Header.Get("Cache-Control"))
	s.Equal("integration-key-1", body["idempotency_key"])

	order, ok := body["order"].(map[string]any)
	s.Require().True(ok)
	s.Equal("CONFIRMED", order["status"])

	// Повтор confirm с тем же ключом возвращает сохранённый ответ.
	orderID := int64(order["id"].(float64))
	replay, replayBody := s.post(s.ordersURL+"/orders/"+strconv.FormatInt(orderID, 10)+"/confirm", "",
		map[string]string{"X-Idempotency-Key": "integration-key-1"})
	s.Equal(http.StatusOK, replay.StatusCode)
	s.Equal("true", replay.Header.Get("X-Idempotent-Replayed"))
	s.Equal("CONFIRMED", replayBody["status"])

	// Подтверждённый заказ отменить нельзя.
	canceled, cancelBody := s.post(s.ordersURL+"/orders/"+strconv.FormatInt(orderID, 10)+"/cancel", "", nil)
	s.Equal(http.StatusConflict, canceled.StatusCode)
	s.Equal("Cannot cancel", cancelBody["message"])
}

func (s *PlacementStackTestSuite) TestUnknownCustomerIs404() {
	resp, body := s.post(s.orchestratorURL, `{"customer_id":404,"items":[{"product_id":1,"qty":1}]}`, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("Customer not found", body["message"])
}

func (s *PlacementStackTestSuite) TestOutOfStockIs409() {
	resp, _ := s.post(s.orchestratorURL, `{"customer_id":1,"items":[{"product_id":3,"qty":1000}]}`, nil)
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *PlacementStackTestSuite) TestInvalidInputIs422() {
	resp, _ := s.post(s.orchestratorURL, `{"customer_id":1,"items":[]}`, nil)
	s.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	s.NotEmpty(resp.Header.Get(correlation.Header))
}

func (s *PlacementStackTestSuite) TestCustomerRegistryRequiresToken() {
	resp, err := http.Get(s.customersURL + "/internal/customers/1")
	s.Require().NoError(err)
	_ = resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestPlacementStackTestSuite(t *testing.T) {
	suite.Run(t, new(PlacementStackTestSuite))
}

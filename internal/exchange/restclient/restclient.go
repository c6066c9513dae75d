// Package restclient implements the outbound exchange REST surface (spec
// §6/§4.E): HMAC-signed requests, composed with the token-bucket rate
// limiter and the sliding-window circuit breaker, retried through
// failsafe-go on transient failures.
package restclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"executioncore/internal/config"
	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
)

// Client is the core.IExchangeREST implementation.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         config.Secret
	secretKey      config.Secret
	rateLimiter    core.IRateLimiter
	circuitBreaker core.ICircuitBreaker
	pipeline       failsafe.Executor[[]byte]
	logger         core.ILogger
}

func New(cfg config.ExchangeConfig, rateLimiter core.IRateLimiter, circuitBreaker core.ICircuitBreaker, logger core.ILogger) *Client {
	retryPolicy := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(resp []byte, err error) bool {
			if err == nil {
				return false
			}
			return apperrors.IsRetryable(err)
		}).
		WithBackoff(200*time.Millisecond, 5*time.Second).
		WithMaxRetries(3).
		Build()

	return &Client{
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		secretKey:      cfg.SecretKey,
		rateLimiter:    rateLimiter,
		circuitBreaker: circuitBreaker,
		pipeline:       failsafe.With[[]byte](retryPolicy),
		logger:         logger,
	}
}

// sign implements the same HMAC-SHA256 query-string signature scheme as
// binancespot.SignRequest: timestamp + all params, signed with the secret
// key, appended as a `signature` parameter.
func (c *Client) sign(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return params
}

func (c *Client) call(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var result []byte
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		out, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[[]byte]) ([]byte, error) {
			return c.doRequest(ctx, method, path, params, signed)
		})
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	return result, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params = c.sign(params)
	}

	reqURL := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			reqURL += "?" + encoded
		}
	} else {
		body = bytes.NewBufferString(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", string(c.apiKey))
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExchangeTimeout, "exchange request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExchangeTimeout, "failed to read exchange response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, apperrors.Wrap(apperrors.CodeExchangeUnavailable, "exchange returned server error", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.CodeExchangeAPIError, fmt.Sprintf("exchange returned client error: status %d: %s", resp.StatusCode, respBody))
	}
	return respBody, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest, clientOrderID string) (string, error) {
	params := url.Values{
		"symbol":        {req.Symbol},
		"side":          {string(req.Side)},
		"type":          {string(req.Type)},
		"quantity":      {req.Quantity.String()},
		"newClientOrderId": {clientOrderID},
	}
	if req.LimitPrice != nil {
		params.Set("price", req.LimitPrice.String())
		params.Set("timeInForce", "GTC")
	}

	respBody, err := c.call(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return "", err
	}

	var result struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", apperrors.Wrap(apperrors.CodeExchangeAPIError, "failed to decode place order response", err)
	}
	return strconv.FormatInt(result.OrderID, 10), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	params := url.Values{"symbol": {symbol}, "orderId": {exchangeOrderID}}
	_, err := c.call(ctx, http.MethodDelete, "/api/v3/order", params, true)
	return err
}

func (c *Client) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (*core.ExchangeOrderSnapshot, error) {
	params := url.Values{"symbol": {symbol}, "orderId": {exchangeOrderID}}
	respBody, err := c.call(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID           int64  `json:"orderId"`
		Status            string `json:"status"`
		ExecutedQty       string `json:"executedQty"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExchangeAPIError, "failed to decode query order response", err)
	}

	filledQty, err := decimal.NewFromString(result.ExecutedQty)
	if err != nil {
		return nil, fmt.Errorf("parse executedQty: %w", err)
	}

	trades, err := c.ListOrderTrades(ctx, symbol, exchangeOrderID)
	if err != nil {
		return nil, err
	}

	return &core.ExchangeOrderSnapshot{
		ExchangeOrderID: strconv.FormatInt(result.OrderID, 10),
		Symbol:          symbol,
		Status:          result.Status,
		FilledQuantity:  filledQty,
		Trades:          trades,
	}, nil
}

func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]*core.ExchangeOrderSnapshot, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	respBody, err := c.call(ctx, http.MethodGet, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var results []struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExchangeAPIError, "failed to decode open orders response", err)
	}

	out := make([]*core.ExchangeOrderSnapshot, 0, len(results))
	for _, r := range results {
		filledQty, err := decimal.NewFromString(r.ExecutedQty)
		if err != nil {
			return nil, fmt.Errorf("parse executedQty: %w", err)
		}
		out = append(out, &core.ExchangeOrderSnapshot{
			ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
			Symbol:          r.Symbol,
			Status:          r.Status,
			FilledQuantity:  filledQty,
		})
	}
	return out, nil
}

func (c *Client) ListOrderTrades(ctx context.Context, symbol, exchangeOrderID string) ([]core.ExchangeTrade, error) {
	params := url.Values{"symbol": {symbol}, "orderId": {exchangeOrderID}}
	respBody, err := c.call(ctx, http.MethodGet, "/api/v3/myTrades", params, true)
	if err != nil {
		return nil, err
	}

	var results []struct {
		ID              int64  `json:"id"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
		Time            int64  `json:"time"`
	}
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeExchangeAPIError, "failed to decode trades response", err)
	}

	out := make([]core.ExchangeTrade, 0, len(results))
	for _, r := range results {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		qty, err := decimal.NewFromString(r.Qty)
		if err != nil {
			return nil, fmt.Errorf("parse qty: %w", err)
		}
		commission, err := decimal.NewFromString(r.Commission)
		if err != nil {
			return nil, fmt.Errorf("parse commission: %w", err)
		}
		out = append(out, core.ExchangeTrade{
			TradeID:         strconv.FormatInt(r.ID, 10),
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: r.CommissionAsset,
			Time:            time.UnixMilli(r.Time),
		})
	}
	return out, nil
}

func (c *Client) GetListenKey(ctx context.Context) (string, error) {
	respBody, err := c.call(ctx, http.MethodPost, "/api/v3/userDataStream", nil, false)
	if err != nil {
		return "", err
	}
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", apperrors.Wrap(apperrors.CodeExchangeAPIError, "failed to decode listen key response", err)
	}
	return result.ListenKey, nil
}

func (c *Client) KeepAliveListenKey(ctx context.Context, key string) error {
	params := url.Values{"listenKey": {key}}
	_, err := c.call(ctx, http.MethodPut, "/api/v3/userDataStream", params, false)
	return err
}

func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	respBody, err := c.call(ctx, http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return time.Time{}, err
	}
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.CodeExchangeAPIError, "failed to decode server time response", err)
	}
	return time.UnixMilli(result.ServerTime), nil
}

var _ core.IExchangeREST = (*Client)(nil)

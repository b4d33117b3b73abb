// Package broker provides the HTTP client for the external brokerage API and
// the types shared across the engine's broker boundary.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marion205/richesreach-broker/internal/models"
)

// APIError represents a broker API error with status code and response body.
// Receiving one means the broker evaluated the request and declined it, which
// is terminal for order submission; resubmitting could duplicate an order the
// broker already evaluated.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Detail)
}

// OrderRequest is the broker-facing order payload. For options the Symbol
// carries the encoded OCC contract in place of the underlying ticker.
type OrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// OrderResponse is the broker's view of an order.
type OrderResponse struct {
	ID             string  `json:"id"`
	ClientOrderID  string  `json:"client_order_id"`
	Symbol         string  `json:"symbol"`
	Status         string  `json:"status"`
	FilledQty      float64 `json:"filled_qty,string"`
	FilledAvgPrice float64 `json:"filled_avg_price,string"`
}

// AccountResponse is the broker's view of a brokerage account.
type AccountResponse struct {
	ID                    string  `json:"id"`
	Status                string  `json:"status"`
	BuyingPower           float64 `json:"buying_power,string"`
	Cash                  float64 `json:"cash,string"`
	Equity                float64 `json:"equity,string"`
	DayTradingBuyingPower float64 `json:"daytrading_buying_power,string"`
	PatternDayTrader      bool    `json:"pattern_day_trader"`
	DayTradeCount         int     `json:"daytrade_count"`
	TradingBlocked        bool    `json:"trading_blocked"`
	TransferBlocked       bool    `json:"transfers_blocked"`
}

// PositionResponse is one broker-side holding.
type PositionResponse struct {
	Symbol       string  `json:"symbol"`
	Qty          float64 `json:"qty,string"`
	MarketValue  float64 `json:"market_value,string"`
	CostBasis    float64 `json:"cost_basis,string"`
	UnrealizedPL float64 `json:"unrealized_pl,string"`
	CurrentPrice float64 `json:"current_price,string"`
}

// QuoteResponse carries the current reference price for a symbol.
type QuoteResponse struct {
	Symbol   string  `json:"symbol"`
	BidPrice float64 `json:"bp"`
	AskPrice float64 `json:"ap"`
}

// Mid returns the bid/ask midpoint, or whichever side is available.
func (q *QuoteResponse) Mid() float64 {
	switch {
	case q.BidPrice > 0 && q.AskPrice > 0:
		return (q.BidPrice + q.AskPrice) / 2
	case q.AskPrice > 0:
		return q.AskPrice
	default:
		return q.BidPrice
	}
}

// statusMap translates the broker's status vocabulary onto the local order
// state machine one-to-one.
var statusMap = map[string]models.OrderStatus{
	"new":              models.StatusPendingNew,
	"pending_new":      models.StatusPendingNew,
	"accepted":         models.StatusAccepted,
	"partially_filled": models.StatusPartiallyFilled,
	"filled":           models.StatusFilled,
	"rejected":         models.StatusRejected,
	"canceled":         models.StatusCanceled,
	"cancelled":        models.StatusCanceled,
	"expired":          models.StatusExpired,
	"done_for_day":     models.StatusDoneForDay,
	"stopped":          models.StatusStopped,
	"replaced":         models.StatusReplaced,
	"pending_cancel":   models.StatusPendingCancel,
	"pending_replace":  models.StatusPendingReplace,
}

// MapStatus converts a broker status string to the local OrderStatus.
// Unknown statuses map to ACCEPTED so a new broker vocabulary term never
// strands an order in a pre-submission state.
func MapStatus(brokerStatus string) models.OrderStatus {
	if status, ok := statusMap[strings.ToLower(brokerStatus)]; ok {
		return status
	}
	return models.StatusAccepted
}

// HTTPClient talks to the brokerage REST API.
type HTTPClient struct {
	client    *http.Client
	apiKey    string
	apiSecret string
	baseURL   string
	dataURL   string
}

const defaultTimeout = 10 * time.Second

// NewHTTPClient creates a broker client. baseURL and dataURL default to the
// paper-trading endpoints when empty.
func NewHTTPClient(apiKey, apiSecret, baseURL, dataURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://paper-api.alpaca.markets"
	}
	if dataURL == "" {
		dataURL = "https://data.alpaca.markets"
	}
	return &HTTPClient{
		client:    &http.Client{Timeout: defaultTimeout},
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		dataURL:   strings.TrimRight(dataURL, "/"),
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	if client != nil {
		c.client = client
	}
	return c
}

// CreateOrder submits an order to the broker.
func (c *HTTPClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.makeRequest(ctx, http.MethodPost, c.baseURL+"/v2/orders", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOrder fetches an order by its broker-assigned id.
func (c *HTTPClient) GetOrder(ctx context.Context, externalOrderID string) (*OrderResponse, error) {
	var resp OrderResponse
	endpoint := c.baseURL + "/v2/orders/" + url.PathEscape(externalOrderID)
	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder asks the broker to cancel a working order.
func (c *HTTPClient) CancelOrder(ctx context.Context, externalOrderID string) error {
	endpoint := c.baseURL + "/v2/orders/" + url.PathEscape(externalOrderID)
	return c.makeRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

// GetAccount fetches the current account snapshot.
func (c *HTTPClient) GetAccount(ctx context.Context) (*AccountResponse, error) {
	var resp AccountResponse
	if err := c.makeRequest(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPositions fetches all broker-side holdings.
func (c *HTTPClient) GetPositions(ctx context.Context) ([]PositionResponse, error) {
	var resp []PositionResponse
	if err := c.makeRequest(ctx, http.MethodGet, c.baseURL+"/v2/positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetQuote fetches the latest quote for a symbol from the market-data host.
func (c *HTTPClient) GetQuote(ctx context.Context, symbol string) (*QuoteResponse, error) {
	endpoint := c.dataURL + "/v2/stocks/" + url.PathEscape(symbol) + "/quotes/latest"
	var wrapper struct {
		Symbol string        `json:"symbol"`
		Quote  QuoteResponse `json:"quote"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &wrapper); err != nil {
		return nil, err
	}
	wrapper.Quote.Symbol = wrapper.Symbol
	return &wrapper.Quote, nil
}

func (c *HTTPClient) makeRequest(ctx context.Context, method, endpoint string, body, response any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Detail: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Detail: decodeErrorDetail(raw)}
	}

	if response == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// decodeErrorDetail pulls the human-readable message out of the broker's
// error object, falling back to the raw body.
func decodeErrorDetail(raw []byte) string {
	var errBody struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &errBody); err == nil {
		if errBody.Detail != "" {
			return errBody.Detail
		}
		if errBody.Message != "" {
			return errBody.Message
		}
	}
	return string(bytes.TrimSpace(raw))
}

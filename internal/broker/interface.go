package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// Client defines the interface for interacting with the brokerage.
type Client interface {
	// Order operations
	CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
	GetOrder(ctx context.Context, externalOrderID string) (*OrderResponse, error)
	CancelOrder(ctx context.Context, externalOrderID string) error

	// Account and position reads
	GetAccount(ctx context.Context) (*AccountResponse, error)
	GetPositions(ctx context.Context) ([]PositionResponse, error)

	// Market data
	GetQuote(ctx context.Context, symbol string) (*QuoteResponse, error)
}

// Ensure HTTPClient implements Client at compile time.
var _ Client = (*HTTPClient)(nil)

// IsBrokerRejection reports whether an error is an explicit broker decline
// (as opposed to a transport failure). 429 is excluded: the broker never
// evaluated the order, so a retry with the same client order id is safe.
func IsBrokerRejection(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status != 429
	}
	return false
}

// CircuitBreakerClient wraps a Client with circuit breaker functionality.
type CircuitBreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerClient creates a CircuitBreakerClient with sensible defaults.
func NewCircuitBreakerClient(client Client) *CircuitBreakerClient {
	return NewCircuitBreakerClientWithSettings(client, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerClientWithSettings creates a CircuitBreakerClient with
// custom settings.
func NewCircuitBreakerClientWithSettings(client Client, settings CircuitBreakerSettings) *CircuitBreakerClient {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// A broker rejection is a healthy round trip; only transport
			// failures should count toward opening the circuit.
			return err == nil || IsBrokerRejection(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

var _ Client = (*CircuitBreakerClient)(nil)

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CreateOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerClient) CreateOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	return execBreaker(c.breaker, func() (*OrderResponse, error) { return c.client.CreateOrder(ctx, req) })
}

// GetOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerClient) GetOrder(ctx context.Context, externalOrderID string) (*OrderResponse, error) {
	return execBreaker(c.breaker, func() (*OrderResponse, error) { return c.client.GetOrder(ctx, externalOrderID) })
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerClient) CancelOrder(ctx context.Context, externalOrderID string) error {
	_, err := execBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.client.CancelOrder(ctx, externalOrderID)
	})
	return err
}

// GetAccount wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerClient) GetAccount(ctx context.Context) (*AccountResponse, error) {
	return execBreaker(c.breaker, func() (*AccountResponse, error) { return c.client.GetAccount(ctx) })
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerClient) GetPositions(ctx context.Context) ([]PositionResponse, error) {
	return execBreaker(c.breaker, func() ([]PositionResponse, error) { return c.client.GetPositions(ctx) })
}

// GetQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerClient) GetQuote(ctx context.Context, symbol string) (*QuoteResponse, error) {
	return execBreaker(c.breaker, func() (*QuoteResponse, error) { return c.client.GetQuote(ctx, symbol) })
}

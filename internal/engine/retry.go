package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/marion205/richesreach-broker/internal/models"
)

// RetryConfig tunes the resubmission helper.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultRetryConfig is the default resubmission policy.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// SubmitWithRetry places an order and retries transient submission failures
// with jittered exponential backoff, always reusing the same client order id
// so the broker can deduplicate. Guardrail and broker rejections are returned
// immediately; only transport failures are retried.
func (e *Engine) SubmitWithRetry(ctx context.Context, intent OrderIntent, config ...RetryConfig) (*models.Order, error) {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	retryCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	order, err := e.SubmitOrder(retryCtx, intent)
	if err == nil || !IsTransient(err) {
		return order, err
	}

	lastErr := err
	backoff := cfg.InitialBackoff
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, cfg.MaxBackoff)
		case <-retryCtx.Done():
			return order, fmt.Errorf("submission timed out during backoff: %w", retryCtx.Err())
		}

		e.logger.Printf("Resubmit attempt %d/%d for order %s", attempt, cfg.MaxRetries, order.ClientOrderID)
		order, err = e.Resubmit(retryCtx, order.ClientOrderID)
		if err == nil || !IsTransient(err) {
			return order, err
		}
		lastErr = err
	}
	return order, fmt.Errorf("submission failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// SweeperConfig tunes the stuck-order sweeper.
type SweeperConfig struct {
	Interval time.Duration
	// MinAge is how long an order must sit in NEW without a broker id before
	// the sweeper picks it up, so in-flight submissions are left alone.
	MinAge time.Duration
}

// DefaultSweeperConfig is the default sweeper cadence.
var DefaultSweeperConfig = SweeperConfig{
	Interval: 1 * time.Minute,
	MinAge:   2 * time.Minute,
}

// RunSweeper periodically resubmits orders stranded in NEW by transient
// submission failures. Runs until the context is canceled.
func (e *Engine) RunSweeper(ctx context.Context, accountID string, config ...SweeperConfig) error {
	cfg := DefaultSweeperConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := e.SweepStuckOrders(ctx, accountID, cfg.MinAge); err != nil {
				e.logger.Printf("Stuck-order sweep failed: %v", err)
			} else if n > 0 {
				e.logger.Printf("Stuck-order sweep resubmitted %d order(s)", n)
			}
		}
	}
}

// SweepStuckOrders resubmits every order for the account that has sat in NEW
// without a broker id for at least minAge. Returns the number of orders
// successfully resubmitted; individual failures are logged and left for the
// next sweep.
func (e *Engine) SweepStuckOrders(ctx context.Context, accountID string, minAge time.Duration) (int, error) {
	orders, err := e.store.ListOrders(accountID)
	if err != nil {
		return 0, fmt.Errorf("listing orders: %w", err)
	}

	cutoff := e.now().UTC().Add(-minAge)
	resubmitted := 0
	for i := range orders {
		order := &orders[i]
		if order.Status != models.StatusNew || order.ExternalOrderID != "" {
			continue
		}
		if order.CreatedAt.After(cutoff) {
			continue
		}
		if _, err := e.Resubmit(ctx, order.ClientOrderID); err != nil {
			e.logger.Printf("Sweep resubmit of %s failed: %v", order.ClientOrderID, err)
			continue
		}
		resubmitted++
	}
	return resubmitted, nil
}

// nextBackoff grows the backoff by 1.5x, caps it, and adds up to 25% jitter.
func nextBackoff(current, max time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > max {
		backoff = max
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		if jitter, err := rand.Int(rand.Reader, big.NewInt(maxJitter)); err == nil {
			backoff += time.Duration(jitter.Int64())
		}
	}
	return backoff
}

// Package engine orchestrates order submission: guardrail evaluation, audit
// logging, local order records, and the broker round trip.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marion205/richesreach-broker/internal/broker"
	"github.com/marion205/richesreach-broker/internal/guardrail"
	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/risk"
	"github.com/marion205/richesreach-broker/internal/sizing"
	"github.com/marion205/richesreach-broker/internal/store"
)

// Config tunes engine behavior.
type Config struct {
	// SerializePerAccount turns the daily-notional soft limit into a hard one
	// by holding a per-account lock across guardrail evaluation and order
	// creation. Off by default; the soft limit is the documented trade-off.
	SerializePerAccount bool
	CallTimeout         time.Duration
}

// DefaultConfig is the default engine configuration.
var DefaultConfig = Config{
	SerializePerAccount: false,
	CallTimeout:         10 * time.Second,
}

// OrderIntent is a caller's request to place one order. ReferencePrice is
// optional; when absent for an unpriced order the engine asks the broker's
// market-data endpoint.
type OrderIntent struct {
	AccountID      string
	Symbol         string
	Side           models.OrderSide
	Type           models.OrderType
	TimeInForce    models.TimeInForce
	Quantity       float64
	LimitPrice     float64
	StopPrice      float64
	ReferencePrice float64
}

// MultiLegResult reports the outcome of a sequential multi-leg placement.
// FailedLeg is -1 when every leg succeeded; otherwise it is the index of the
// leg that failed, and Orders holds the legs placed before it, which stay
// live.
type MultiLegResult struct {
	Orders    []*models.Order
	FailedLeg int
}

// Engine wires the policy gate, the local mirror, and the broker together.
type Engine struct {
	store  store.Interface
	audit  store.AuditSink
	broker broker.Client
	policy *guardrail.Policy
	risk   *risk.Aggregator
	sizer  *sizing.Sizer
	logger *log.Logger
	config Config

	now func() time.Time

	accountMu sync.Mutex
	accounts  map[string]*sync.Mutex
}

// NewEngine creates an Engine. All dependencies are required except the
// logger, which defaults to stderr.
func NewEngine(
	st store.Interface,
	audit store.AuditSink,
	brokerClient broker.Client,
	policy *guardrail.Policy,
	aggregator *risk.Aggregator,
	logger *log.Logger,
	config ...Config,
) *Engine {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}

	if logger == nil {
		logger = log.New(os.Stderr, "engine: ", log.LstdFlags)
	}
	if st == nil {
		panic("engine.NewEngine: store must not be nil")
	}
	if audit == nil {
		panic("engine.NewEngine: audit sink must not be nil")
	}
	if brokerClient == nil {
		panic("engine.NewEngine: broker client must not be nil")
	}
	if policy == nil {
		panic("engine.NewEngine: policy must not be nil")
	}
	if aggregator == nil {
		panic("engine.NewEngine: risk aggregator must not be nil")
	}

	return &Engine{
		store:    st,
		audit:    audit,
		broker:   brokerClient,
		policy:   policy,
		risk:     aggregator,
		sizer:    sizing.NewSizer(),
		logger:   logger,
		config:   cfg,
		now:      time.Now,
		accounts: make(map[string]*sync.Mutex),
	}
}

// SubmitOrder runs the full placement path for one order: resolve notional,
// evaluate the guardrail, persist the decision, create the local order
// record, and hand it to the broker. The returned order carries the assigned
// client order id regardless of the broker outcome.
//
// Error contract: *GuardrailRejectedError (no order record, no broker call),
// *BrokerRejectedError (order recorded as REJECTED, do not retry), or
// *TransientSubmissionError (order recorded in NEW; Resubmit with the same
// client order id is safe).
func (e *Engine) SubmitOrder(ctx context.Context, intent OrderIntent) (*models.Order, error) {
	if err := validateIntent(&intent); err != nil {
		return nil, err
	}

	if e.config.SerializePerAccount {
		mu := e.accountLock(intent.AccountID)
		mu.Lock()
		defer mu.Unlock()
	}

	order, err := e.gateAndRecord(ctx, intent)
	if err != nil {
		return nil, err
	}

	if err := e.submit(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// gateAndRecord evaluates the guardrail, writes the audit decision, and on a
// pass creates the NEW order record. Rejections leave no order state behind.
func (e *Engine) gateAndRecord(ctx context.Context, intent OrderIntent) (*models.Order, error) {
	now := e.now()

	account, err := e.store.GetAccount(intent.AccountID)
	if err != nil && !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("loading account %s: %w", intent.AccountID, err)
	}

	dailyUsed, err := e.risk.DailyNotionalUsed(intent.AccountID, now)
	if err != nil {
		return nil, fmt.Errorf("computing daily notional: %w", err)
	}

	notional, priced := localNotional(&intent)
	proposal := guardrail.Proposal{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Type:     intent.Type,
		Quantity: intent.Quantity,
		Notional: notional,
	}

	result := e.policy.Evaluate(account, proposal, dailyUsed, now)
	if !priced && result.Allowed {
		// The price-free checks all passed; only now is the quote round trip
		// worth paying for. A request the policy rejects regardless of price
		// must never reach the network.
		notional, err = e.quoteNotional(ctx, &intent)
		if err != nil {
			return nil, err
		}
		proposal.Notional = notional
		result = e.policy.Evaluate(account, proposal, dailyUsed, now)
	}

	decision := guardrail.Decision(account, intent.AccountID, "place_order", proposal, result)
	if err := e.audit.RecordDecision(decision); err != nil {
		return nil, fmt.Errorf("recording guardrail decision: %w", err)
	}

	if !result.Allowed {
		guardrailRejections.WithLabelValues(result.Check).Inc()
		e.logger.Printf("Guardrail rejected %s %s %s: %s",
			intent.Side, intent.Symbol, intent.AccountID, result.Reason)
		return nil, &GuardrailRejectedError{Check: result.Check, Reason: result.Reason}
	}

	order := &models.Order{
		ClientOrderID: uuid.NewString(),
		AccountID:     intent.AccountID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Type:          intent.Type,
		TimeInForce:   intent.TimeInForce,
		Quantity:      intent.Quantity,
		Notional:      notional,
		LimitPrice:    intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		Status:        models.StatusNew,
		Guardrail:     models.GuardrailOutcome{Passed: true, Reason: result.Reason},
		CreatedAt:     now.UTC(),
	}
	if err := e.store.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("creating order record: %w", err)
	}
	if err := e.store.Save(); err != nil {
		e.logger.Printf("Failed to persist store after order create: %v", err)
	}
	return order, nil
}

// localNotional computes the order's dollar notional from the intent alone.
// Limit and stop-limit orders price off the limit, other intents off the
// reference price; ok is false when only a broker quote can price the order.
func localNotional(intent *OrderIntent) (notional float64, ok bool) {
	if intent.LimitPrice > 0 {
		return intent.Quantity * intent.LimitPrice, true
	}
	if intent.ReferencePrice > 0 {
		return intent.Quantity * intent.ReferencePrice, true
	}
	return 0, false
}

// quoteNotional prices an unpriced order off the broker's latest quote mid.
func (e *Engine) quoteNotional(ctx context.Context, intent *OrderIntent) (float64, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()
	quote, err := e.broker.GetQuote(quoteCtx, quoteSymbol(intent.Symbol))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", sizing.ErrPriceUnavailable, err)
	}
	price := quote.Mid()
	if price <= 0 {
		return 0, sizing.ErrPriceUnavailable
	}
	intent.ReferencePrice = price
	return intent.Quantity * price, nil
}

// quoteSymbol maps an order symbol to the quotable ticker: option contracts
// quote off their underlying.
func quoteSymbol(symbol string) string {
	if contract, err := models.DecodeContractSymbol(symbol); err == nil {
		return contract.Underlying
	}
	return symbol
}

// submit performs the broker round trip for an order in NEW. An explicit
// broker decline marks the order REJECTED and is never retried; a transport
// failure leaves the order in NEW for a later Resubmit with the same client
// order id.
func (e *Engine) submit(ctx context.Context, order *models.Order) error {
	req := buildOrderRequest(order)

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	ordersSubmitted.Inc()
	resp, err := e.broker.CreateOrder(callCtx, req)
	if err != nil {
		if broker.IsBrokerRejection(err) {
			brokerRejections.Inc()
			order.RejectionReason = err.Error()
			if terr := order.Transition(models.StatusRejected); terr != nil {
				e.logger.Printf("%v", terr)
			}
			if uerr := e.store.UpdateOrder(order); uerr != nil {
				e.logger.Printf("Failed to record broker rejection for %s: %v", order.ClientOrderID, uerr)
			}
			if serr := e.store.Save(); serr != nil {
				e.logger.Printf("Failed to persist store after rejection: %v", serr)
			}
			return &BrokerRejectedError{Reason: err.Error(), Err: err}
		}
		transientFailures.Inc()
		e.logger.Printf("Transient submission failure for %s: %v", order.ClientOrderID, err)
		return &TransientSubmissionError{Err: err}
	}

	ordersAccepted.Inc()
	if err := e.store.SetExternalOrderID(order.ClientOrderID, resp.ID); err != nil {
		return fmt.Errorf("recording external order id: %w", err)
	}
	order.ExternalOrderID = resp.ID
	order.SubmittedAt = e.now().UTC()

	if err := order.Transition(models.StatusPendingNew); err != nil {
		e.logger.Printf("%v", err)
	}
	mapped := broker.MapStatus(resp.Status)
	// Fill-carrying ack statuses only prove the order is live; the fills
	// themselves arrive via trade-update webhooks and advance the order there.
	if mapped == models.StatusFilled || mapped == models.StatusPartiallyFilled {
		mapped = models.StatusAccepted
	}
	if mapped != order.Status {
		if err := advanceOrder(order, mapped); err != nil {
			e.logger.Printf("%v", err)
		}
	}

	if err := e.store.UpdateOrder(order); err != nil {
		if errors.Is(err, store.ErrStaleOrderWrite) {
			// A webhook advanced the order while the broker call was in
			// flight; the stored state is newer than this copy.
			if current, gerr := e.store.GetOrder(order.ClientOrderID); gerr == nil {
				*order = *current
			}
			e.logger.Printf("Order %s advanced concurrently during submission, keeping stored state",
				order.ClientOrderID)
			return nil
		}
		return fmt.Errorf("updating order after broker ack: %w", err)
	}
	if err := e.store.Save(); err != nil {
		e.logger.Printf("Failed to persist store after broker ack: %v", err)
	}
	e.logger.Printf("Order %s submitted: broker id %s, status %s",
		order.ClientOrderID, order.ExternalOrderID, order.Status)
	return nil
}

// advanceOrder steps the order forward to the target status, passing through
// intermediate lifecycle states when the broker's ack skips them.
func advanceOrder(order *models.Order, target models.OrderStatus) error {
	for order.Status != target {
		if models.CanTransition(order.Status, target) {
			return order.Transition(target)
		}
		var next models.OrderStatus
		switch order.Status {
		case models.StatusNew:
			next = models.StatusPendingNew
		case models.StatusPendingNew:
			next = models.StatusAccepted
		default:
			return order.Transition(target)
		}
		if err := order.Transition(next); err != nil {
			return err
		}
	}
	return nil
}

// Resubmit retries the broker round trip for an order still in NEW after a
// transient failure. The client order id is unchanged, so the broker
// deduplicates if the earlier attempt actually landed.
func (e *Engine) Resubmit(ctx context.Context, clientOrderID string) (*models.Order, error) {
	order, err := e.store.GetOrder(clientOrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusNew {
		return order, fmt.Errorf("order %s is %s, not resubmittable", clientOrderID, order.Status)
	}
	if err := e.submit(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// SubmitMultiLeg places the legs of a spread or straddle sequentially. Each
// leg is guardrail-checked and submitted independently; when a leg fails,
// placement stops, earlier legs stay live, and the result names the failed
// leg.
func (e *Engine) SubmitMultiLeg(ctx context.Context, legs []OrderIntent) (*MultiLegResult, error) {
	result := &MultiLegResult{FailedLeg: -1}
	for i, leg := range legs {
		order, err := e.SubmitOrder(ctx, leg)
		if order != nil {
			result.Orders = append(result.Orders, order)
		}
		if err != nil {
			result.FailedLeg = i
			return result, fmt.Errorf("leg %d of %d: %w", i+1, len(legs), err)
		}
	}
	return result, nil
}

// CancelOrder asks the broker to cancel a working order. Canceling an order
// already in a terminal state is a success no-op. Cancels are control
// actions; they bypass the guardrail.
func (e *Engine) CancelOrder(ctx context.Context, clientOrderID string) error {
	order, err := e.store.GetOrder(clientOrderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		e.logger.Printf("Cancel of %s is a no-op: already %s", clientOrderID, order.Status)
		return nil
	}

	// Never submitted: nothing broker-side to cancel.
	if order.ExternalOrderID == "" {
		if err := order.Transition(models.StatusCanceled); err != nil {
			return err
		}
		if err := e.store.UpdateOrder(order); err != nil {
			return err
		}
		return e.store.Save()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()
	if err := e.broker.CancelOrder(callCtx, order.ExternalOrderID); err != nil {
		return fmt.Errorf("canceling order %s: %w", clientOrderID, err)
	}

	// The authoritative CANCELED arrives via webhook; PENDING_CANCEL just
	// marks the request in flight where the lifecycle allows it.
	if err := order.Transition(models.StatusPendingCancel); err == nil {
		if uerr := e.store.UpdateOrder(order); uerr != nil {
			e.logger.Printf("Failed to record pending cancel for %s: %v", clientOrderID, uerr)
		}
		if serr := e.store.Save(); serr != nil {
			e.logger.Printf("Failed to persist store after cancel request: %v", serr)
		}
	}
	return nil
}

// ExecuteSignal runs the auto-execution path: sizing gate, notional
// computation, then the regular guardrailed submission as a MARKET day order.
// dailyRealizedPL is today's realized profit and loss for the account,
// supplied by the analytics feed.
func (e *Engine) ExecuteSignal(ctx context.Context, accountID string, signal *models.Signal, dailyRealizedPL float64) (*models.Order, error) {
	account, err := e.store.GetAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", accountID, err)
	}

	if ok, reason := e.sizer.ShouldExecute(signal, account, dailyRealizedPL); !ok {
		e.logger.Printf("Signal for %s not executed: %s", signal.Symbol, reason)
		return nil, &GuardrailRejectedError{Check: "auto_execution", Reason: reason}
	}

	notional := e.sizer.ComputeSize(signal, account.Equity)
	shares, err := e.sizer.Shares(signal, notional)
	if err != nil {
		return nil, err
	}

	return e.SubmitOrder(ctx, OrderIntent{
		AccountID:      accountID,
		Symbol:         signal.Symbol,
		Side:           signal.Side,
		Type:           models.TypeMarket,
		TimeInForce:    models.TIFDay,
		Quantity:       float64(shares),
		ReferencePrice: signal.ReferencePrice,
	})
}

// PlaceStopLoss places a protective STOP sell for an existing holding.
// Goes through the regular guardrail path like any other order.
func (e *Engine) PlaceStopLoss(ctx context.Context, accountID, symbol string, quantity, stopPrice float64) (*models.Order, error) {
	return e.SubmitOrder(ctx, OrderIntent{
		AccountID:      accountID,
		Symbol:         symbol,
		Side:           models.SideSell,
		Type:           models.TypeStop,
		TimeInForce:    models.TIFGTC,
		Quantity:       quantity,
		StopPrice:      stopPrice,
		ReferencePrice: stopPrice,
	})
}

func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.accountMu.Lock()
	defer e.accountMu.Unlock()
	mu, ok := e.accounts[accountID]
	if !ok {
		mu = &sync.Mutex{}
		e.accounts[accountID] = mu
	}
	return mu
}

func validateIntent(intent *OrderIntent) error {
	if intent.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	intent.Symbol = strings.ToUpper(strings.TrimSpace(intent.Symbol))
	if intent.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !intent.Side.Valid() {
		return fmt.Errorf("invalid order side %q", intent.Side)
	}
	if !intent.Type.Valid() {
		return fmt.Errorf("invalid order type %q", intent.Type)
	}
	if intent.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", intent.Quantity)
	}
	if intent.TimeInForce == "" {
		intent.TimeInForce = models.TIFDay
	}
	return nil
}

// buildOrderRequest maps the local order onto the broker's wire payload. For
// options the symbol already carries the encoded contract.
func buildOrderRequest(order *models.Order) *broker.OrderRequest {
	req := &broker.OrderRequest{
		Symbol:        order.Symbol,
		Qty:           strconv.FormatFloat(order.Quantity, 'f', -1, 64),
		Side:          strings.ToLower(string(order.Side)),
		Type:          strings.ToLower(string(order.Type)),
		TimeInForce:   strings.ToLower(string(order.TimeInForce)),
		ClientOrderID: order.ClientOrderID,
	}
	if order.LimitPrice > 0 {
		req.LimitPrice = strconv.FormatFloat(order.LimitPrice, 'f', 2, 64)
	}
	if order.StopPrice > 0 {
		req.StopPrice = strconv.FormatFloat(order.StopPrice, 'f', 2, 64)
	}
	return req
}

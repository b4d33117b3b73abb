// Package models provides data structures and state management for brokerage
// orders, accounts, and guardrail decisions.
package models

import (
	"fmt"
	"time"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	// SideBuy represents a buy order
	SideBuy OrderSide = "BUY"
	// SideSell represents a sell order
	SideSell OrderSide = "SELL"
)

// Valid returns true if the OrderSide is one of the defined constants
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType is the execution style requested for an order.
type OrderType string

const (
	// TypeMarket executes at the current market price
	TypeMarket OrderType = "MARKET"
	// TypeLimit executes at the limit price or better
	TypeLimit OrderType = "LIMIT"
	// TypeStop becomes a market order once the stop price trades
	TypeStop OrderType = "STOP"
	// TypeStopLimit becomes a limit order once the stop price trades
	TypeStopLimit OrderType = "STOP_LIMIT"
	// TypeTrailingStop tracks the market with a trailing offset
	TypeTrailingStop OrderType = "TRAILING_STOP"
)

// Valid returns true if the OrderType is one of the defined constants
func (t OrderType) Valid() bool {
	switch t {
	case TypeMarket, TypeLimit, TypeStop, TypeStopLimit, TypeTrailingStop:
		return true
	default:
		return false
	}
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	// StatusNew is the initial state: guardrail passed, not yet submitted
	StatusNew OrderStatus = "NEW"
	// StatusPendingNew means the order was handed to the broker and is awaiting ack
	StatusPendingNew OrderStatus = "PENDING_NEW"
	// StatusAccepted means the broker acknowledged the order
	StatusAccepted OrderStatus = "ACCEPTED"
	// StatusPartiallyFilled means some quantity executed; re-entrant
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	// StatusFilled is terminal: the full quantity executed
	StatusFilled OrderStatus = "FILLED"
	// StatusRejected is terminal: the broker declined the order
	StatusRejected OrderStatus = "REJECTED"
	// StatusCanceled is terminal
	StatusCanceled OrderStatus = "CANCELED"
	// StatusExpired is terminal
	StatusExpired OrderStatus = "EXPIRED"
	// StatusDoneForDay is terminal
	StatusDoneForDay OrderStatus = "DONE_FOR_DAY"
	// StatusStopped is terminal
	StatusStopped OrderStatus = "STOPPED"
	// StatusReplaced is terminal: superseded by a replacement order
	StatusReplaced OrderStatus = "REPLACED"
	// StatusPendingCancel precedes CANCELED
	StatusPendingCancel OrderStatus = "PENDING_CANCEL"
	// StatusPendingReplace precedes REPLACED
	StatusPendingReplace OrderStatus = "PENDING_REPLACE"
)

// terminalStatuses are the states an order can never leave.
var terminalStatuses = map[OrderStatus]bool{
	StatusFilled:     true,
	StatusRejected:   true,
	StatusCanceled:   true,
	StatusExpired:    true,
	StatusDoneForDay: true,
	StatusStopped:    true,
	StatusReplaced:   true,
}

// IsTerminal returns true if the status is a terminal lifecycle state.
func (s OrderStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// StatusTransition defines a valid order status transition.
type StatusTransition struct {
	From        OrderStatus
	To          OrderStatus
	Description string
}

// ValidTransitions enumerates the allowed order lifecycle moves.
// Terminal reject/cancel/expire states are reachable from every non-terminal
// state, so only the forward path and transitional states are listed here;
// CanTransition fills in the rest.
var ValidTransitions = []StatusTransition{
	{StatusNew, StatusPendingNew, "Order handed to broker, awaiting ack"},
	{StatusPendingNew, StatusAccepted, "Broker acknowledged order"},
	{StatusAccepted, StatusPartiallyFilled, "First partial fill"},
	{StatusPartiallyFilled, StatusPartiallyFilled, "Additional partial fill"},
	{StatusAccepted, StatusFilled, "Complete fill"},
	{StatusPartiallyFilled, StatusFilled, "Final fill completes order"},
	{StatusAccepted, StatusPendingCancel, "Cancel requested"},
	{StatusPartiallyFilled, StatusPendingCancel, "Cancel requested on partial"},
	{StatusPendingCancel, StatusCanceled, "Broker confirmed cancel"},
	{StatusPendingCancel, StatusPartiallyFilled, "Partial fill raced the cancel"},
	{StatusPendingCancel, StatusFilled, "Fill raced the cancel"},
	{StatusAccepted, StatusPendingReplace, "Replace requested"},
	{StatusPendingReplace, StatusReplaced, "Broker confirmed replace"},
}

// CanTransition reports whether an order may move from one status to another.
// Any non-terminal state may move to a terminal reject/cancel/expire state;
// transitions out of a terminal state are never allowed.
func CanTransition(from, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	// Broker-side terminal outcomes can arrive from any non-terminal state.
	switch to {
	case StatusRejected, StatusCanceled, StatusExpired, StatusDoneForDay, StatusStopped:
		return true
	}
	return false
}

// lifecycleRank orders the forward happy-path statuses so out-of-order writes
// and stale notifications can be recognized.
var lifecycleRank = map[OrderStatus]int{
	StatusNew:             0,
	StatusPendingNew:      1,
	StatusAccepted:        2,
	StatusPartiallyFilled: 3,
	StatusFilled:          4,
}

// RegressesLifecycle reports whether a move from one status to another would
// walk the forward lifecycle backward. Statuses outside the forward path
// (pending cancel/replace, terminal reject states) never regress.
func RegressesLifecycle(from, to OrderStatus) bool {
	f, okFrom := lifecycleRank[from]
	t, okTo := lifecycleRank[to]
	return okFrom && okTo && t < f
}

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	// TIFDay expires at the end of the trading day
	TIFDay TimeInForce = "DAY"
	// TIFGTC stays working until canceled
	TIFGTC TimeInForce = "GTC"
	// TIFIOC fills immediately or cancels
	TIFIOC TimeInForce = "IOC"
	// TIFFOK fills completely and immediately or cancels
	TIFFOK TimeInForce = "FOK"
)

// Fill is a single partial-fill event appended to an order.
type Fill struct {
	ID        string    `json:"id,omitempty"` // broker-provided fill id, may be empty
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// Matches reports whether two fills describe the same execution. The broker
// fill id wins when both sides carry one; otherwise the (price, quantity,
// timestamp) tuple identifies the fill.
func (f Fill) Matches(other Fill) bool {
	if f.ID != "" && other.ID != "" {
		return f.ID == other.ID
	}
	return f.Price == other.Price &&
		f.Quantity == other.Quantity &&
		f.Timestamp.Equal(other.Timestamp)
}

// GuardrailOutcome records how the pre-submission policy gate ruled on an order.
type GuardrailOutcome struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Order is one row per client-generated trade intent. ClientOrderID is the
// idempotency key: assigned exactly once, never reused. ExternalOrderID is
// write-once after broker acceptance. Orders are never deleted.
type Order struct {
	ClientOrderID   string           `json:"client_order_id"`
	ExternalOrderID string           `json:"external_order_id,omitempty"`
	AccountID       string           `json:"account_id"`
	Symbol          string           `json:"symbol"` // underlying or OCC contract
	Side            OrderSide        `json:"side"`
	Type            OrderType        `json:"type"`
	TimeInForce     TimeInForce      `json:"time_in_force"`
	Quantity        float64          `json:"quantity"`
	Notional        float64          `json:"notional"`
	LimitPrice      float64          `json:"limit_price,omitempty"`
	StopPrice       float64          `json:"stop_price,omitempty"`
	Status          OrderStatus      `json:"status"`
	FilledQty       float64          `json:"filled_qty"`
	FilledAvgPrice  float64          `json:"filled_avg_price"`
	Fills           []Fill           `json:"fills"`
	Guardrail       GuardrailOutcome `json:"guardrail"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	SubmittedAt     time.Time        `json:"submitted_at,omitempty"`
	FilledAt        time.Time        `json:"filled_at,omitempty"`
}

// Transition moves the order to a new status, enforcing the lifecycle rules.
func (o *Order) Transition(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return &InvariantViolationError{
			ClientOrderID: o.ClientOrderID,
			From:          o.Status,
			To:            to,
		}
	}
	o.Status = to
	return nil
}

// HasFill returns true if an equivalent fill was already recorded.
func (o *Order) HasFill(f Fill) bool {
	for _, existing := range o.Fills {
		if existing.Matches(f) {
			return true
		}
	}
	return false
}

// InvariantViolationError reports an attempted transition that the order
// lifecycle forbids, most importantly any move out of a terminal state.
// It is logged and raised to operators, never silently applied.
type InvariantViolationError struct {
	ClientOrderID string
	From          OrderStatus
	To            OrderStatus
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: order %s cannot transition %s -> %s",
		e.ClientOrderID, e.From, e.To)
}

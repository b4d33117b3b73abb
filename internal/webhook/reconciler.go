// Package webhook receives broker callbacks and reconciles them into the
// local order and account mirror.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marion205/richesreach-broker/internal/broker"
	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/store"
)

// ErrInvalidSignature is returned when a webhook's HMAC does not verify.
// Nothing about the payload is trusted or applied.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrUnknownOrder is returned when a trade update references an external
// order id not tracked locally. The event is logged and dropped; the broker
// may reference orders placed by other systems.
var ErrUnknownOrder = errors.New("unknown order")

// TradeUpdate is the broker's trade-update callback body. The event-level
// fields describe one execution; the embedded order carries running totals.
type TradeUpdate struct {
	Event       string    `json:"event"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Price       float64   `json:"price,string,omitempty"`
	Qty         float64   `json:"qty,string,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Order       struct {
		ID             string  `json:"id"`
		ClientOrderID  string  `json:"client_order_id"`
		Status         string  `json:"status"`
		FilledQty      float64 `json:"filled_qty,string"`
		FilledAvgPrice float64 `json:"filled_avg_price,string"`
	} `json:"order"`
}

// AccountUpdate is the broker's account-update callback body.
type AccountUpdate struct {
	Event   string `json:"event"`
	Account struct {
		ID              string `json:"id"`
		Status          string `json:"status"`
		TradingBlocked  bool   `json:"trading_blocked"`
		TransferBlocked bool   `json:"transfers_blocked"`
	} `json:"account"`
}

// Reconciler applies verified webhook payloads to the local mirror. Events
// for different orders proceed fully in parallel; events for the same order
// serialize on a per-order lock so duplicate-fill detection always sees prior
// fills.
type Reconciler struct {
	store     store.Interface
	logger    *logrus.Logger
	secret    []byte
	accountID string

	mu       sync.Mutex
	orderMus map[string]*sync.Mutex
}

// NewReconciler creates a Reconciler. secret is the shared webhook HMAC key;
// accountID is the local account mirrored by account-update events.
func NewReconciler(st store.Interface, logger *logrus.Logger, secret, accountID string) *Reconciler {
	if st == nil {
		panic("webhook.NewReconciler: store must not be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{
		store:     st,
		logger:    logger,
		secret:    []byte(secret),
		accountID: accountID,
		orderMus:  make(map[string]*sync.Mutex),
	}
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw body against
// the signature header value, in constant time. A "sha256=" prefix on the
// header is accepted.
func (r *Reconciler) VerifySignature(body []byte, signature string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// ApplyTradeUpdate reconciles one trade-update event. Returns ErrUnknownOrder
// when the external order id is not tracked, a *models.InvariantViolationError
// when the event would mutate a terminal order (logged, never applied), and
// nil for applied events and harmless duplicates.
func (r *Reconciler) ApplyTradeUpdate(update *TradeUpdate) error {
	mu := r.orderLock(update.Order.ID)
	mu.Lock()
	defer mu.Unlock()

	order, err := r.store.GetOrderByExternalID(update.Order.ID)
	if err != nil {
		unknownOrders.Inc()
		r.logger.WithFields(logrus.Fields{
			"external_order_id": update.Order.ID,
			"event":             update.Event,
		}).Warn("Trade update for untracked order, dropping")
		return fmt.Errorf("%w: %s", ErrUnknownOrder, update.Order.ID)
	}

	fill, hasFill := fillFromUpdate(update)
	if hasFill && order.HasFill(fill) {
		duplicateEvents.Inc()
		r.logger.WithFields(logrus.Fields{
			"client_order_id": order.ClientOrderID,
			"fill_id":         fill.ID,
		}).Debug("Duplicate fill, no-op")
		return nil
	}

	target := broker.MapStatus(update.Order.Status)
	if order.Status.IsTerminal() {
		if target == order.Status && !hasFill {
			// Replayed terminal notification, harmless.
			return nil
		}
		invariantViolations.Inc()
		violation := &models.InvariantViolationError{
			ClientOrderID: order.ClientOrderID,
			From:          order.Status,
			To:            target,
		}
		r.logger.WithFields(logrus.Fields{
			"client_order_id": order.ClientOrderID,
			"from":            order.Status,
			"to":              target,
			"event":           update.Event,
		}).Error("Invariant violation: webhook attempted to mutate terminal order")
		return violation
	}

	if hasFill {
		order.Fills = append(order.Fills, fill)
	}
	if update.Order.FilledQty > 0 {
		order.FilledQty = update.Order.FilledQty
	}
	if update.Order.FilledAvgPrice > 0 {
		order.FilledAvgPrice = update.Order.FilledAvgPrice
	}

	if err := r.advance(order, target); err != nil {
		var violation *models.InvariantViolationError
		if errors.As(err, &violation) {
			invariantViolations.Inc()
			r.logger.WithError(err).Error("Invariant violation applying trade update")
			return err
		}
		return err
	}
	if order.Status == models.StatusFilled && order.FilledAt.IsZero() {
		order.FilledAt = update.Timestamp.UTC()
		if order.FilledAt.IsZero() {
			order.FilledAt = time.Now().UTC()
		}
	}

	if err := r.store.UpdateOrder(order); err != nil {
		return fmt.Errorf("updating order %s: %w", order.ClientOrderID, err)
	}
	if err := r.store.Save(); err != nil {
		r.logger.WithError(err).Warn("Failed to persist store after trade update")
	}

	eventsApplied.WithLabelValues(update.Event).Inc()
	r.logger.WithFields(logrus.Fields{
		"client_order_id": order.ClientOrderID,
		"event":           update.Event,
		"status":          order.Status,
		"filled_qty":      order.FilledQty,
	}).Info("Trade update applied")
	return nil
}

// advance moves the order toward the target status, stepping through the
// forward lifecycle when the broker's notification skips intermediate states
// (an immediate fill can arrive before the ack, for example). A notification
// for a state the order has already passed is dropped as stale.
func (r *Reconciler) advance(order *models.Order, target models.OrderStatus) error {
	if order.Status == target {
		// Re-entrant partial fill: no transition, the appended fill is the event.
		return nil
	}
	if models.RegressesLifecycle(order.Status, target) {
		return nil
	}

	for order.Status != target {
		if models.CanTransition(order.Status, target) {
			return order.Transition(target)
		}
		var next models.OrderStatus
		switch {
		case order.Status == models.StatusNew:
			next = models.StatusPendingNew
		case order.Status == models.StatusPendingNew:
			next = models.StatusAccepted
		case order.Status == models.StatusAccepted && target == models.StatusReplaced:
			next = models.StatusPendingReplace
		default:
			return &models.InvariantViolationError{
				ClientOrderID: order.ClientOrderID,
				From:          order.Status,
				To:            target,
			}
		}
		if err := order.Transition(next); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAccountUpdate mirrors an account-update event onto the local account.
func (r *Reconciler) ApplyAccountUpdate(update *AccountUpdate) error {
	account, err := r.store.GetAccount(r.accountID)
	if err != nil {
		return fmt.Errorf("loading account %s: %w", r.accountID, err)
	}
	if account.ExternalAccountID != "" && update.Account.ID != "" &&
		account.ExternalAccountID != update.Account.ID {
		r.logger.WithFields(logrus.Fields{
			"expected": account.ExternalAccountID,
			"got":      update.Account.ID,
		}).Warn("Account update for unknown external account, dropping")
		return nil
	}

	account.TradingBlocked = update.Account.TradingBlocked
	account.TransferBlocked = update.Account.TransferBlocked
	account.KYCStatus = mapAccountStatus(update.Account.Status, account.KYCStatus)
	account.UpdatedAt = time.Now().UTC()

	if err := r.store.PutAccount(account); err != nil {
		return fmt.Errorf("saving account %s: %w", r.accountID, err)
	}
	if err := r.store.Save(); err != nil {
		r.logger.WithError(err).Warn("Failed to persist store after account update")
	}

	eventsApplied.WithLabelValues(update.Event).Inc()
	r.logger.WithFields(logrus.Fields{
		"account_id":      r.accountID,
		"kyc_status":      account.KYCStatus,
		"trading_blocked": account.TradingBlocked,
	}).Info("Account update applied")
	return nil
}

func (r *Reconciler) orderLock(externalOrderID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.orderMus[externalOrderID]
	if !ok {
		mu = &sync.Mutex{}
		r.orderMus[externalOrderID] = mu
	}
	return mu
}

// fillFromUpdate extracts the fill this event describes, if any. Fills are
// identified by the broker's execution id when present, otherwise by the
// (price, quantity, timestamp) tuple.
func fillFromUpdate(update *TradeUpdate) (models.Fill, bool) {
	switch update.Event {
	case "fill", "partial_fill":
	default:
		return models.Fill{}, false
	}
	if update.Qty <= 0 {
		return models.Fill{}, false
	}
	return models.Fill{
		ID:        update.ExecutionID,
		Price:     update.Price,
		Quantity:  update.Qty,
		Timestamp: update.Timestamp.UTC(),
	}, true
}

// mapAccountStatus translates the broker's account status vocabulary onto the
// local KYC lifecycle, keeping the current value for unknown statuses.
func mapAccountStatus(brokerStatus string, current models.KYCStatus) models.KYCStatus {
	switch strings.ToUpper(brokerStatus) {
	case "ACTIVE":
		return models.KYCApproved
	case "ONBOARDING":
		return models.KYCNotStarted
	case "SUBMITTED", "SUBMISSION_FAILED":
		return models.KYCSubmitted
	case "APPROVAL_PENDING", "ACCOUNT_UPDATED":
		return models.KYCApprovalPending
	case "ACTION_REQUIRED":
		return models.KYCInfoRequired
	case "REJECTED":
		return models.KYCRejected
	default:
		return current
	}
}

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/store"
)

const (
	testSecret    = "webhook-secret"
	testAccountID = "acct-1"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewReconciler(st, logger, testSecret, testAccountID), st
}

// seedOrder puts an order in the store with an external id, advanced to the
// given status.
func seedOrder(t *testing.T, st *store.MockStore, externalID string, status models.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		ClientOrderID: "c-" + externalID,
		AccountID:     testAccountID,
		Symbol:        "AAPL",
		Side:          models.SideBuy,
		Type:          models.TypeLimit,
		TimeInForce:   models.TIFDay,
		Quantity:      10,
		Notional:      1_500,
		LimitPrice:    150,
		Status:        models.StatusNew,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, st.CreateOrder(order))
	require.NoError(t, st.SetExternalOrderID(order.ClientOrderID, externalID))
	order.ExternalOrderID = externalID

	path := []models.OrderStatus{
		models.StatusPendingNew, models.StatusAccepted,
		models.StatusPartiallyFilled, models.StatusFilled,
	}
	for _, next := range path {
		if order.Status == status {
			break
		}
		require.NoError(t, order.Transition(next))
	}
	require.Equal(t, status, order.Status)
	require.NoError(t, st.UpdateOrder(order))
	return order
}

func tradeUpdate(externalID, event, status string, qty, price float64, execID string) *TradeUpdate {
	u := &TradeUpdate{
		Event:       event,
		ExecutionID: execID,
		Price:       price,
		Qty:         qty,
		Timestamp:   time.Now().UTC(),
	}
	u.Order.ID = externalID
	u.Order.Status = status
	return u
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	r, _ := newTestReconciler(t)
	body := []byte(`{"event":"fill"}`)

	assert.True(t, r.VerifySignature(body, sign(testSecret, body)))
	assert.True(t, r.VerifySignature(body, "sha256="+sign(testSecret, body)))
	assert.False(t, r.VerifySignature(body, sign("wrong-secret", body)))
	assert.False(t, r.VerifySignature(body, "not-hex!"))
	assert.False(t, r.VerifySignature(body, ""))
	assert.False(t, r.VerifySignature([]byte(`tampered`), sign(testSecret, body)))
}

func TestApplyTradeUpdate_UnknownOrder(t *testing.T) {
	r, _ := newTestReconciler(t)

	err := r.ApplyTradeUpdate(tradeUpdate("ext-missing", "fill", "filled", 10, 150, "e1"))
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestApplyTradeUpdate_FillProgression(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	partial := tradeUpdate("ext-1", "partial_fill", "partially_filled", 4, 150.10, "e1")
	partial.Order.FilledQty = 4
	partial.Order.FilledAvgPrice = 150.10
	require.NoError(t, r.ApplyTradeUpdate(partial))

	got, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyFilled, got.Status)
	assert.Equal(t, 4.0, got.FilledQty)
	require.Len(t, got.Fills, 1)
	assert.Equal(t, "e1", got.Fills[0].ID)

	final := tradeUpdate("ext-1", "fill", "filled", 6, 150.25, "e2")
	final.Order.FilledQty = 10
	final.Order.FilledAvgPrice = 150.19
	require.NoError(t, r.ApplyTradeUpdate(final))

	got, err = st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
	assert.Equal(t, 10.0, got.FilledQty)
	assert.InDelta(t, 150.19, got.FilledAvgPrice, 0.001)
	assert.Len(t, got.Fills, 2)
	assert.False(t, got.FilledAt.IsZero())
}

func TestApplyTradeUpdate_DuplicateFillIsNoOp(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	update := tradeUpdate("ext-1", "fill", "filled", 10, 150.25, "e1")
	update.Order.FilledQty = 10
	update.Order.FilledAvgPrice = 150.25
	require.NoError(t, r.ApplyTradeUpdate(update))

	// Exact replay: order is now FILLED, but the known fill makes it a no-op.
	require.NoError(t, r.ApplyTradeUpdate(update))

	got, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
	assert.Len(t, got.Fills, 1, "replayed fill must not be recorded twice")
	assert.Equal(t, 10.0, got.FilledQty)
}

func TestApplyTradeUpdate_DuplicateByTuple(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	// No execution id: dedup falls back to (price, qty, timestamp).
	update := tradeUpdate("ext-1", "partial_fill", "partially_filled", 4, 150.10, "")
	update.Order.FilledQty = 4
	require.NoError(t, r.ApplyTradeUpdate(update))
	require.NoError(t, r.ApplyTradeUpdate(update))

	got, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Len(t, got.Fills, 1)
}

func TestApplyTradeUpdate_NewFillOnTerminalOrder(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusFilled)

	update := tradeUpdate("ext-1", "fill", "filled", 5, 151, "e-late")
	err := r.ApplyTradeUpdate(update)

	var violation *models.InvariantViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, order.ClientOrderID, violation.ClientOrderID)

	got, gerr := st.GetOrder(order.ClientOrderID)
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFilled, got.Status)
	assert.Empty(t, got.Fills, "terminal orders are never mutated")
}

func TestApplyTradeUpdate_ReplayedTerminalNotification(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	got, _ := st.GetOrder(order.ClientOrderID)
	require.NoError(t, got.Transition(models.StatusCanceled))
	require.NoError(t, st.UpdateOrder(got))

	// The broker redelivers the canceled notification; harmless.
	err := r.ApplyTradeUpdate(tradeUpdate("ext-1", "canceled", "canceled", 0, 0, ""))
	assert.NoError(t, err)
}

func TestApplyTradeUpdate_ImmediateFillStepsLifecycle(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusPendingNew)

	// Fill arrives before the accepted ack; the order steps through ACCEPTED.
	update := tradeUpdate("ext-1", "fill", "filled", 10, 150, "e1")
	update.Order.FilledQty = 10
	require.NoError(t, r.ApplyTradeUpdate(update))

	got, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
}

func TestApplyTradeUpdate_StaleEventDropped(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	// A delayed "new" notification arrives after the ack; dropped as stale.
	require.NoError(t, r.ApplyTradeUpdate(tradeUpdate("ext-1", "new", "new", 0, 0, "")))

	got, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
}

func TestApplyTradeUpdate_FillRacesCancel(t *testing.T) {
	r, st := newTestReconciler(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	got, _ := st.GetOrder(order.ClientOrderID)
	require.NoError(t, got.Transition(models.StatusPendingCancel))
	require.NoError(t, st.UpdateOrder(got))

	update := tradeUpdate("ext-1", "fill", "filled", 10, 150, "e1")
	update.Order.FilledQty = 10
	require.NoError(t, r.ApplyTradeUpdate(update))

	final, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, final.Status)
}

func TestApplyAccountUpdate(t *testing.T) {
	r, st := newTestReconciler(t)
	require.NoError(t, st.PutAccount(&models.Account{
		ID:        testAccountID,
		KYCStatus: models.KYCApproved,
	}))

	update := &AccountUpdate{Event: "account_updated"}
	update.Account.Status = "ACTIVE"
	update.Account.TradingBlocked = true
	require.NoError(t, r.ApplyAccountUpdate(update))

	account, err := st.GetAccount(testAccountID)
	require.NoError(t, err)
	assert.True(t, account.TradingBlocked)
	assert.Equal(t, models.KYCApproved, account.KYCStatus)
	assert.False(t, account.UpdatedAt.IsZero())
}

func TestApplyAccountUpdate_StatusMapping(t *testing.T) {
	tests := []struct {
		brokerStatus string
		want         models.KYCStatus
	}{
		{"ACTIVE", models.KYCApproved},
		{"ONBOARDING", models.KYCNotStarted},
		{"SUBMITTED", models.KYCSubmitted},
		{"APPROVAL_PENDING", models.KYCApprovalPending},
		{"ACTION_REQUIRED", models.KYCInfoRequired},
		{"REJECTED", models.KYCRejected},
		{"SOMETHING_NEW", models.KYCApproved}, // unknown keeps current
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapAccountStatus(tt.brokerStatus, models.KYCApproved),
			"status %q", tt.brokerStatus)
	}
}

func TestApplyAccountUpdate_ForeignExternalAccountDropped(t *testing.T) {
	r, st := newTestReconciler(t)
	require.NoError(t, st.PutAccount(&models.Account{
		ID:                testAccountID,
		ExternalAccountID: "ext-acct-1",
		KYCStatus:         models.KYCApproved,
	}))

	update := &AccountUpdate{Event: "account_updated"}
	update.Account.ID = "ext-acct-other"
	update.Account.TradingBlocked = true
	require.NoError(t, r.ApplyAccountUpdate(update))

	account, err := st.GetAccount(testAccountID)
	require.NoError(t, err)
	assert.False(t, account.TradingBlocked, "update for another account must not apply")
}

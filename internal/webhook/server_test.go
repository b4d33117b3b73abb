package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	reconciler := NewReconciler(st, logger, testSecret, testAccountID)
	return NewServer(Config{Port: 0}, reconciler, logger), st
}

func postSigned(t *testing.T, handler http.Handler, path string, payload any, secret string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(secret, body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestTradeUpdateEndpoint_BadSignature(t *testing.T) {
	srv, st := newTestServer(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	update := tradeUpdate("ext-1", "fill", "filled", 10, 150, "e1")
	rec := postSigned(t, srv.Router(), "/webhooks/trade-updates", update, "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	got, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status, "unverified payloads must not be applied")
}

func TestTradeUpdateEndpoint_UnknownOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	update := tradeUpdate("ext-missing", "fill", "filled", 10, 150, "e1")
	rec := postSigned(t, srv.Router(), "/webhooks/trade-updates", update, testSecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTradeUpdateEndpoint_Applied(t *testing.T) {
	srv, st := newTestServer(t)
	order := seedOrder(t, st, "ext-1", models.StatusAccepted)

	update := tradeUpdate("ext-1", "fill", "filled", 10, 150.25, "e1")
	update.Order.FilledQty = 10
	update.Order.FilledAvgPrice = 150.25
	rec := postSigned(t, srv.Router(), "/webhooks/trade-updates", update, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := st.GetOrder(order.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
}

func TestTradeUpdateEndpoint_InvariantViolationGets200(t *testing.T) {
	srv, st := newTestServer(t)
	seedOrder(t, st, "ext-1", models.StatusFilled)

	// A late fill on a terminal order is dropped; a 200 stops redelivery.
	update := tradeUpdate("ext-1", "fill", "filled", 5, 151, "e-late")
	rec := postSigned(t, srv.Router(), "/webhooks/trade-updates", update, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTradeUpdateEndpoint_MalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{not json`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/trade-updates", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(testSecret, body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountUpdateEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.PutAccount(&models.Account{
		ID:        testAccountID,
		KYCStatus: models.KYCApproved,
	}))

	update := &AccountUpdate{Event: "account_updated"}
	update.Account.Status = "ACTIVE"
	update.Account.TradingBlocked = true
	rec := postSigned(t, srv.Router(), "/webhooks/account-updates", update, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	account, err := st.GetAccount(testAccountID)
	require.NoError(t, err)
	assert.True(t, account.TradingBlocked)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

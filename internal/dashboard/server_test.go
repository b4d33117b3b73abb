package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/risk"
	"github.com/marion205/richesreach-broker/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MockStore, *store.MockAuditLog) {
	t.Helper()
	st := store.NewMockStore()
	audit := store.NewMockAuditLog()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	srv := NewServer(Config{
		Port:      0,
		AuthToken: "secret-token",
		AccountID: "acct-1",
	}, st, audit, risk.NewAggregator(st), logger)
	return srv, st, audit
}

func get(handler http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, get(srv.Router(), "/api/orders", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(srv.Router(), "/api/orders", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(srv.Router(), "/api/orders", "secret-token").Code)

	// Query token works too, and health is exempt.
	assert.Equal(t, http.StatusOK, get(srv.Router(), "/api/orders?token=secret-token", "").Code)
	assert.Equal(t, http.StatusOK, get(srv.Router(), "/health", "").Code)
}

func TestGetOrders_NewestFirst(t *testing.T) {
	srv, st, _ := newTestServer(t)

	older := &models.Order{
		ClientOrderID: "c-1", AccountID: "acct-1", Symbol: "AAPL",
		Side: models.SideBuy, Type: models.TypeLimit, Status: models.StatusNew,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := &models.Order{
		ClientOrderID: "c-2", AccountID: "acct-1", Symbol: "MSFT",
		Side: models.SideBuy, Type: models.TypeLimit, Status: models.StatusNew,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateOrder(older))
	require.NoError(t, st.CreateOrder(newer))

	rec := get(srv.Router(), "/api/orders", "secret-token")
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 2)
	assert.Equal(t, "c-2", orders[0].ClientOrderID)
}

func TestGetOrder(t *testing.T) {
	srv, st, _ := newTestServer(t)
	require.NoError(t, st.CreateOrder(&models.Order{
		ClientOrderID: "c-1", AccountID: "acct-1", Symbol: "AAPL",
		Side: models.SideBuy, Type: models.TypeLimit, Status: models.StatusNew,
		CreatedAt: time.Now().UTC(),
	}))

	rec := get(srv.Router(), "/api/orders/c-1", "secret-token")
	require.Equal(t, http.StatusOK, rec.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "AAPL", order.Symbol)

	assert.Equal(t, http.StatusNotFound, get(srv.Router(), "/api/orders/missing", "secret-token").Code)
}

func TestGetRisk(t *testing.T) {
	srv, st, _ := newTestServer(t)
	require.NoError(t, st.UpsertPosition(&models.Position{
		AccountID: "acct-1", Symbol: "AAPL", Quantity: 10, MarketValue: 1_500,
	}))

	rec := get(srv.Router(), "/api/risk", "secret-token")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary risk.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "acct-1", summary.AccountID)
	assert.Equal(t, 1, summary.ActivePositions)
	assert.InDelta(t, 1_500, summary.TotalExposure, 0.001)
}

func TestGetDecisions(t *testing.T) {
	srv, _, audit := newTestServer(t)
	require.NoError(t, audit.RecordDecision(&models.GuardrailDecision{
		AccountID: "acct-1", Action: "place_order", Symbol: "AAPL",
		Allowed: true, Reason: "passed all guardrail checks",
	}))

	rec := get(srv.Router(), "/api/decisions?limit=10", "secret-token")
	require.Equal(t, http.StatusOK, rec.Code)

	var decisions []models.GuardrailDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decisions))
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Allowed)
}

package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/store"
)

const accountID = "acct-1"

func seedOrder(t *testing.T, st *store.MockStore, id string, status models.OrderStatus, notional float64, createdAt time.Time) {
	t.Helper()
	require.NoError(t, st.CreateOrder(&models.Order{
		ClientOrderID: id,
		AccountID:     accountID,
		Symbol:        "AAPL",
		Side:          models.SideBuy,
		Type:          models.TypeLimit,
		Quantity:      1,
		Notional:      notional,
		Status:        status,
		CreatedAt:     createdAt,
	}))
}

func TestDailyNotionalUsed(t *testing.T) {
	st := store.NewMockStore()
	now := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	seedOrder(t, st, "o1", models.StatusFilled, 10_000, midnight.Add(time.Hour))
	seedOrder(t, st, "o2", models.StatusPartiallyFilled, 5_000, midnight.Add(2*time.Hour))
	// Not counted: non-fill statuses and yesterday's fills.
	seedOrder(t, st, "o3", models.StatusAccepted, 7_000, midnight.Add(3*time.Hour))
	seedOrder(t, st, "o4", models.StatusRejected, 9_000, midnight.Add(4*time.Hour))
	seedOrder(t, st, "o5", models.StatusFilled, 20_000, midnight.Add(-2*time.Hour))

	used, err := NewAggregator(st).DailyNotionalUsed(accountID, now)
	require.NoError(t, err)
	assert.InDelta(t, 15_000, used, 0.001)
}

func TestDailyNotionalUsed_EmptyAccount(t *testing.T) {
	used, err := NewAggregator(store.NewMockStore()).DailyNotionalUsed(accountID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestSummary(t *testing.T) {
	st := store.NewMockStore()
	now := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)

	seedOrder(t, st, "o1", models.StatusFilled, 12_000, now.Add(-time.Hour))

	require.NoError(t, st.UpsertPosition(&models.Position{
		AccountID: accountID, Symbol: "AAPL", Quantity: 10, MarketValue: 1_500,
	}))
	require.NoError(t, st.UpsertPosition(&models.Position{
		AccountID: accountID, Symbol: "JPM", Quantity: -5, MarketValue: -800,
	}))
	require.NoError(t, st.UpsertPosition(&models.Position{
		AccountID: accountID, Symbol: "XOM", Quantity: 0, MarketValue: 0,
	}))

	summary, err := NewAggregator(st).Summary(accountID, now)
	require.NoError(t, err)

	assert.Equal(t, accountID, summary.AccountID)
	assert.InDelta(t, 12_000, summary.DailyNotionalUsed, 0.001)
	assert.Equal(t, 2, summary.ActivePositions, "flat positions are not active")
	assert.InDelta(t, 2_300, summary.TotalExposure, 0.001)
	assert.InDelta(t, 1_500, summary.SectorExposure["Technology"], 0.001)
	assert.InDelta(t, 800, summary.SectorExposure["Financials"], 0.001)
}

func TestSummary_OptionExposureUsesUnderlyingSector(t *testing.T) {
	st := store.NewMockStore()
	require.NoError(t, st.UpsertPosition(&models.Position{
		AccountID: accountID, Symbol: "AAPL241220C00150000", Quantity: 2, MarketValue: 600,
	}))

	summary, err := NewAggregator(st).Summary(accountID, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 600, summary.SectorExposure["Technology"], 0.001)
}

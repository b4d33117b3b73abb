package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marion205/richesreach-broker/internal/models"
)

func autoAccount() *models.Account {
	return &models.Account{
		ID:               "acct-1",
		KYCStatus:        models.KYCApproved,
		Equity:           100_000,
		AutoTradeEnabled: true,
	}
}

func signal(confidence, kelly, price float64) *models.Signal {
	return &models.Signal{
		Symbol:         "AAPL",
		Side:           models.SideBuy,
		Confidence:     confidence,
		KellyFraction:  kelly,
		ReferencePrice: price,
	}
}

func TestShouldExecute(t *testing.T) {
	sizer := NewSizer()

	t.Run("allowed", func(t *testing.T) {
		ok, reason := sizer.ShouldExecute(signal(0.85, 0, 100), autoAccount(), 0)
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("low confidence", func(t *testing.T) {
		ok, reason := sizer.ShouldExecute(signal(0.79, 0, 100), autoAccount(), 0)
		assert.False(t, ok)
		assert.Contains(t, reason, "confidence")
	})

	t.Run("confidence at threshold passes", func(t *testing.T) {
		ok, _ := sizer.ShouldExecute(signal(0.80, 0, 100), autoAccount(), 0)
		assert.True(t, ok)
	})

	t.Run("daily loss breach", func(t *testing.T) {
		// -5% of $100k is -$5,000; one dollar worse trips the gate.
		ok, reason := sizer.ShouldExecute(signal(0.9, 0, 100), autoAccount(), -5_001)
		assert.False(t, ok)
		assert.Contains(t, reason, "loss")

		ok, _ = sizer.ShouldExecute(signal(0.9, 0, 100), autoAccount(), -5_000)
		assert.True(t, ok, "exactly at the loss limit still executes")
	})

	t.Run("auto-trading disabled", func(t *testing.T) {
		account := autoAccount()
		account.AutoTradeEnabled = false
		ok, reason := sizer.ShouldExecute(signal(0.9, 0, 100), account, 0)
		assert.False(t, ok)
		assert.Contains(t, reason, "disabled")
	})
}

func TestComputeSize(t *testing.T) {
	sizer := NewSizer()

	t.Run("default fraction without kelly", func(t *testing.T) {
		notional := sizer.ComputeSize(signal(0.9, 0, 100), 100_000)
		assert.InDelta(t, 2_000, notional, 0.001)
	})

	t.Run("half kelly", func(t *testing.T) {
		notional := sizer.ComputeSize(signal(0.9, 0.10, 100), 100_000)
		assert.InDelta(t, 5_000, notional, 0.001)
	})

	t.Run("capped at 10 percent of equity", func(t *testing.T) {
		notional := sizer.ComputeSize(signal(0.9, 0.80, 100), 100_000)
		assert.InDelta(t, 10_000, notional, 0.001)
	})
}

// Worked example: $50k equity, Kelly 0.30, reference price $100. Half-Kelly
// is 15% of equity ($7,500), capped to 10% ($5,000), so 50 shares.
func TestSizing_WorkedExample(t *testing.T) {
	sizer := NewSizer()
	sig := signal(0.9, 0.30, 100)

	notional := sizer.ComputeSize(sig, 50_000)
	assert.InDelta(t, 5_000, notional, 0.001)

	shares, err := sizer.Shares(sig, notional)
	require.NoError(t, err)
	assert.Equal(t, 50, shares)
}

func TestShares_Errors(t *testing.T) {
	sizer := NewSizer()

	t.Run("missing reference price", func(t *testing.T) {
		_, err := sizer.Shares(signal(0.9, 0, 0), 5_000)
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})

	t.Run("position too small", func(t *testing.T) {
		_, err := sizer.Shares(signal(0.9, 0, 5_000), 2_000)
		assert.ErrorIs(t, err, ErrPositionTooSmall)
	})

	t.Run("floors fractional shares", func(t *testing.T) {
		shares, err := sizer.Shares(signal(0.9, 0, 300), 1_000)
		require.NoError(t, err)
		assert.Equal(t, 3, shares)
	})
}

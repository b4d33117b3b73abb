package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"new to pending_new", StatusNew, StatusPendingNew, true},
		{"pending_new to accepted", StatusPendingNew, StatusAccepted, true},
		{"accepted to partial", StatusAccepted, StatusPartiallyFilled, true},
		{"partial re-entrant", StatusPartiallyFilled, StatusPartiallyFilled, true},
		{"accepted to filled", StatusAccepted, StatusFilled, true},
		{"partial to filled", StatusPartiallyFilled, StatusFilled, true},
		{"new skips to accepted", StatusNew, StatusAccepted, false},
		{"pending_new to filled", StatusPendingNew, StatusFilled, false},
		{"accepted back to new", StatusAccepted, StatusNew, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_TerminalReachableFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []OrderStatus{
		StatusNew, StatusPendingNew, StatusAccepted, StatusPartiallyFilled,
		StatusPendingCancel, StatusPendingReplace,
	}
	brokerTerminal := []OrderStatus{
		StatusRejected, StatusCanceled, StatusExpired, StatusDoneForDay, StatusStopped,
	}

	for _, from := range nonTerminal {
		for _, to := range brokerTerminal {
			assert.True(t, CanTransition(from, to), "%s -> %s should be allowed", from, to)
		}
	}
}

func TestCanTransition_NeverOutOfTerminal(t *testing.T) {
	terminal := []OrderStatus{
		StatusFilled, StatusRejected, StatusCanceled, StatusExpired,
		StatusDoneForDay, StatusStopped, StatusReplaced,
	}
	targets := []OrderStatus{
		StatusNew, StatusPendingNew, StatusAccepted, StatusPartiallyFilled,
		StatusFilled, StatusCanceled, StatusRejected,
	}

	for _, from := range terminal {
		assert.True(t, from.IsTerminal())
		for _, to := range targets {
			assert.False(t, CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestCanTransition_FillRacesCancel(t *testing.T) {
	assert.True(t, CanTransition(StatusPendingCancel, StatusFilled))
	assert.True(t, CanTransition(StatusPendingCancel, StatusPartiallyFilled))
	assert.True(t, CanTransition(StatusPendingCancel, StatusCanceled))
}

func TestRegressesLifecycle(t *testing.T) {
	assert.True(t, RegressesLifecycle(StatusFilled, StatusAccepted))
	assert.True(t, RegressesLifecycle(StatusPartiallyFilled, StatusPendingNew))
	assert.True(t, RegressesLifecycle(StatusAccepted, StatusNew))

	assert.False(t, RegressesLifecycle(StatusNew, StatusFilled))
	assert.False(t, RegressesLifecycle(StatusAccepted, StatusAccepted))

	// Statuses off the forward path never regress.
	assert.False(t, RegressesLifecycle(StatusAccepted, StatusPendingCancel))
	assert.False(t, RegressesLifecycle(StatusPendingCancel, StatusCanceled))
	assert.False(t, RegressesLifecycle(StatusAccepted, StatusRejected))
}

func TestOrderTransition_InvariantViolation(t *testing.T) {
	order := &Order{ClientOrderID: "abc", Status: StatusFilled}

	err := order.Transition(StatusPartiallyFilled)
	require.Error(t, err)

	var violation *InvariantViolationError
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "abc", violation.ClientOrderID)
	assert.Equal(t, StatusFilled, violation.From)
	assert.Equal(t, StatusPartiallyFilled, violation.To)
	assert.Equal(t, StatusFilled, order.Status, "status must be unchanged after a rejected transition")
}

func TestFillMatches(t *testing.T) {
	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	t.Run("broker fill id wins", func(t *testing.T) {
		a := Fill{ID: "exec-1", Price: 100, Quantity: 5, Timestamp: ts}
		b := Fill{ID: "exec-1", Price: 101, Quantity: 6, Timestamp: ts.Add(time.Minute)}
		assert.True(t, a.Matches(b))
	})

	t.Run("tuple fallback without ids", func(t *testing.T) {
		a := Fill{Price: 100, Quantity: 5, Timestamp: ts}
		b := Fill{Price: 100, Quantity: 5, Timestamp: ts}
		c := Fill{Price: 100, Quantity: 5, Timestamp: ts.Add(time.Second)}
		assert.True(t, a.Matches(b))
		assert.False(t, a.Matches(c))
	})

	t.Run("one-sided id falls back to tuple", func(t *testing.T) {
		a := Fill{ID: "exec-1", Price: 100, Quantity: 5, Timestamp: ts}
		b := Fill{Price: 100, Quantity: 5, Timestamp: ts}
		assert.True(t, a.Matches(b))
	})
}

func TestOrderHasFill(t *testing.T) {
	ts := time.Now().UTC()
	order := &Order{Fills: []Fill{{ID: "exec-1", Price: 100, Quantity: 5, Timestamp: ts}}}

	assert.True(t, order.HasFill(Fill{ID: "exec-1"}))
	assert.False(t, order.HasFill(Fill{ID: "exec-2", Price: 100, Quantity: 5, Timestamp: ts.Add(time.Minute)}))
}

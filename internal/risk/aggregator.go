// Package risk computes read-side rollups over stored orders and positions.
// Everything here is derived on demand; nothing is cached or mutated.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/marion205/richesreach-broker/internal/guardrail"
	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/store"
)

// Summary is one point-in-time risk rollup for an account.
type Summary struct {
	AccountID         string             `json:"account_id"`
	DailyNotionalUsed float64            `json:"daily_notional_used"`
	ActivePositions   int                `json:"active_positions"`
	TotalExposure     float64            `json:"total_exposure"`
	SectorExposure    map[string]float64 `json:"sector_exposure"`
	AsOf              time.Time          `json:"as_of"`
}

// Aggregator recomputes rollups from the store. A read path with no side
// effects; consulted by the daily-notional guardrail check and served
// read-only on the dashboard.
type Aggregator struct {
	store store.Interface
}

// NewAggregator creates an Aggregator over the given store.
func NewAggregator(s store.Interface) *Aggregator {
	if s == nil {
		panic("risk.NewAggregator: store must not be nil")
	}
	return &Aggregator{store: s}
}

// DailyNotionalUsed sums the notional of the account's FILLED and
// PARTIALLY_FILLED orders created on or after local midnight of now.
func (a *Aggregator) DailyNotionalUsed(accountID string, now time.Time) (float64, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	orders, err := a.store.ListOrdersSince(accountID, midnight)
	if err != nil {
		return 0, fmt.Errorf("listing orders for daily notional: %w", err)
	}

	var used float64
	for i := range orders {
		switch orders[i].Status {
		case models.StatusFilled, models.StatusPartiallyFilled:
			used += orders[i].Notional
		}
	}
	return used, nil
}

// Summary computes the full rollup: daily notional used, active position
// count, total exposure, and per-sector exposure over the cached positions.
func (a *Aggregator) Summary(accountID string, now time.Time) (*Summary, error) {
	used, err := a.DailyNotionalUsed(accountID, now)
	if err != nil {
		return nil, err
	}

	positions, err := a.store.ListPositions(accountID)
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}

	summary := &Summary{
		AccountID:         accountID,
		DailyNotionalUsed: used,
		SectorExposure:    make(map[string]float64),
		AsOf:              now.UTC(),
	}
	for i := range positions {
		pos := &positions[i]
		if pos.Quantity == 0 {
			continue
		}
		exposure := math.Abs(pos.MarketValue)
		summary.ActivePositions++
		summary.TotalExposure += exposure
		summary.SectorExposure[sectorForPosition(pos)] += exposure
	}
	return summary, nil
}

// sectorForPosition resolves a position's sector, unwrapping option contracts
// to their underlying first.
func sectorForPosition(pos *models.Position) string {
	symbol := pos.Symbol
	if contract, err := models.DecodeContractSymbol(symbol); err == nil {
		symbol = contract.Underlying
	}
	return guardrail.SectorOf(symbol)
}

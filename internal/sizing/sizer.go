// Package sizing decides whether and how large to place system-initiated
// orders. Manual orders never pass through here.
package sizing

import (
	"errors"
	"fmt"
	"math"

	"github.com/marion205/richesreach-broker/internal/models"
)

// ErrPriceUnavailable is returned when no reference price is available to
// translate a notional into shares.
var ErrPriceUnavailable = errors.New("reference price unavailable")

// ErrPositionTooSmall is returned when the computed notional buys zero whole
// shares at the reference price.
var ErrPositionTooSmall = errors.New("position too small")

// Sizing parameters. Conservative by construction: Kelly recommendations are
// always halved, and nothing ever sizes past a tenth of equity.
const (
	MinConfidence        = 0.8
	KellyHaircut         = 0.5
	DefaultRiskFraction  = 0.02
	MaxEquityFraction    = 0.10
	MaxDailyLossFraction = 0.05
)

// Sizer gates and sizes auto-executed signals. The zero value uses the
// package defaults.
type Sizer struct{}

// NewSizer creates a Sizer.
func NewSizer() *Sizer {
	return &Sizer{}
}

// ShouldExecute decides whether a signal may be auto-executed at all.
// dailyRealizedPL is today's realized profit and loss for the account,
// negative for a loss.
func (s *Sizer) ShouldExecute(signal *models.Signal, account *models.Account, dailyRealizedPL float64) (bool, string) {
	if signal.Confidence < MinConfidence {
		return false, fmt.Sprintf("signal confidence %.2f below threshold %.2f", signal.Confidence, MinConfidence)
	}
	if account.Equity > 0 && dailyRealizedPL < -MaxDailyLossFraction*account.Equity {
		return false, fmt.Sprintf("daily realized loss $%.2f exceeds %.0f%% of equity",
			-dailyRealizedPL, MaxDailyLossFraction*100)
	}
	if !account.AutoTradeEnabled {
		return false, "auto-trading is disabled for this account"
	}
	return true, ""
}

// ComputeSize returns the dollar notional to deploy for a signal: half the
// recommended Kelly fraction of equity when one is supplied, otherwise the
// default risk fraction, capped at MaxEquityFraction of equity either way.
func (s *Sizer) ComputeSize(signal *models.Signal, equity float64) float64 {
	fraction := DefaultRiskFraction
	if signal.KellyFraction > 0 {
		fraction = signal.KellyFraction * KellyHaircut
	}
	if fraction > MaxEquityFraction {
		fraction = MaxEquityFraction
	}
	return fraction * equity
}

// Shares converts a notional into whole shares at the signal's reference
// price. Returns ErrPriceUnavailable when no price is known and
// ErrPositionTooSmall when the notional buys zero shares.
func (s *Sizer) Shares(signal *models.Signal, notional float64) (int, error) {
	if signal.ReferencePrice <= 0 {
		return 0, ErrPriceUnavailable
	}
	shares := int(math.Floor(notional / signal.ReferencePrice))
	if shares <= 0 {
		return 0, ErrPositionTooSmall
	}
	return shares, nil
}

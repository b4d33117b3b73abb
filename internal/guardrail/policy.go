// Package guardrail implements the pure pre-submission policy gate. Evaluate
// has no network or database access; every input it needs is passed in.
package guardrail

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone data so Eastern Time resolves on minimal containers

	"github.com/marion205/richesreach-broker/internal/models"
)

// Default notional ceilings, overridable via Policy fields.
const (
	DefaultMaxPerOrderNotional = 10_000.0
	DefaultMaxDailyNotional    = 50_000.0

	// maxDayTrades is the PDT ceiling: a flagged pattern day trader with this
	// many day trades already used may not open new orders.
	maxDayTrades = 3
)

// Check names, in evaluation order. Cheapest and most decisive first so a
// rejected request never reaches the network.
const (
	CheckAccountApproved  = "account_approved"
	CheckTradingAllowed   = "trading_allowed"
	CheckSymbolWhitelist  = "symbol_whitelisted"
	CheckPerOrderNotional = "per_order_notional"
	CheckDailyNotional    = "daily_notional"
	CheckMarketHours      = "market_hours"
	CheckPDTLimit         = "pdt_limit"
)

// Proposal is the subset of an order the policy needs to rule on.
type Proposal struct {
	Symbol   string
	Side     models.OrderSide
	Type     models.OrderType
	Quantity float64
	Notional float64
}

// Result is the outcome of one policy evaluation. Checks holds every check
// that ran, in evaluation order semantics: all true except possibly the last.
type Result struct {
	Allowed bool
	Check   string // failing check name, empty when allowed
	Reason  string
	Checks  map[string]bool
}

// Policy evaluates proposed orders against account state and recent activity.
// The zero value is not usable; construct with NewPolicy.
type Policy struct {
	MaxPerOrderNotional float64
	MaxDailyNotional    float64
	whitelist           map[string]bool
	location            *time.Location
}

// NewPolicy creates a Policy with the default ceilings and symbol whitelist.
func NewPolicy() *Policy {
	return NewPolicyWithLimits(DefaultMaxPerOrderNotional, DefaultMaxDailyNotional, nil)
}

// NewPolicyWithLimits creates a Policy with custom ceilings. A nil or empty
// whitelist falls back to the curated default set.
func NewPolicyWithLimits(maxPerOrder, maxDaily float64, whitelist []string) *Policy {
	set := make(map[string]bool)
	if len(whitelist) == 0 {
		whitelist = DefaultWhitelist
	}
	for _, symbol := range whitelist {
		set[normalizeSymbol(symbol)] = true
	}

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic("guardrail.NewPolicyWithLimits: loading America/New_York: " + err.Error())
	}

	return &Policy{
		MaxPerOrderNotional: maxPerOrder,
		MaxDailyNotional:    maxDaily,
		whitelist:           set,
		location:            loc,
	}
}

// IsWhitelisted reports whether the symbol may be traded. Option contracts
// are checked against their underlying. Symbols compare case-insensitively.
func (p *Policy) IsWhitelisted(symbol string) bool {
	symbol = normalizeSymbol(symbol)
	if contract, err := models.DecodeContractSymbol(symbol); err == nil {
		return p.whitelist[contract.Underlying]
	}
	return p.whitelist[symbol]
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Evaluate rules on a proposed order. It is a pure function over its inputs:
// the account snapshot, the proposal, the account's daily notional already
// used, and the evaluation time.
func (p *Policy) Evaluate(account *models.Account, proposed Proposal, dailyNotionalUsed float64, now time.Time) Result {
	checks := make(map[string]bool)

	fail := func(check, reason string) Result {
		checks[check] = false
		return Result{Allowed: false, Check: check, Reason: reason, Checks: checks}
	}
	pass := func(check string) {
		checks[check] = true
	}

	if account == nil {
		return fail(CheckAccountApproved, "no broker account on file")
	}
	if account.KYCStatus != models.KYCApproved {
		return fail(CheckAccountApproved,
			fmt.Sprintf("account not approved for trading (status: %s)", account.KYCStatus))
	}
	pass(CheckAccountApproved)

	if account.TradingBlocked {
		return fail(CheckTradingAllowed, "trading is blocked for this account")
	}
	pass(CheckTradingAllowed)

	if !p.IsWhitelisted(proposed.Symbol) {
		return fail(CheckSymbolWhitelist,
			fmt.Sprintf("symbol %s is not available for trading", proposed.Symbol))
	}
	pass(CheckSymbolWhitelist)

	if proposed.Notional > p.MaxPerOrderNotional {
		return fail(CheckPerOrderNotional,
			fmt.Sprintf("order notional $%.2f exceeds maximum per-order limit $%.2f",
				proposed.Notional, p.MaxPerOrderNotional))
	}
	pass(CheckPerOrderNotional)

	if dailyNotionalUsed+proposed.Notional > p.MaxDailyNotional {
		return fail(CheckDailyNotional,
			fmt.Sprintf("order notional $%.2f would exceed daily limit $%.2f (used: $%.2f)",
				proposed.Notional, p.MaxDailyNotional, dailyNotionalUsed))
	}
	pass(CheckDailyNotional)

	if proposed.Type == models.TypeMarket && !p.MarketOpen(now) {
		return fail(CheckMarketHours, "market orders are allowed only during regular trading hours")
	}
	pass(CheckMarketHours)

	if account.PatternDayTrader && account.DayTradeCount >= maxDayTrades {
		return fail(CheckPDTLimit,
			fmt.Sprintf("pattern day trader with %d day trades; new orders blocked", account.DayTradeCount))
	}
	pass(CheckPDTLimit)

	return Result{Allowed: true, Reason: "passed all guardrail checks", Checks: checks}
}

// MarketOpen reports whether now falls within regular trading hours:
// 09:30-16:00 US Eastern, Monday-Friday. Exchange holidays are deliberately
// ignored; the broker rejects orders on holidays anyway.
func (p *Policy) MarketOpen(now time.Time) bool {
	et := now.In(p.location)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, p.location)
	close := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, p.location)
	return !et.Before(open) && et.Before(close)
}

// Decision builds the append-only audit record for one evaluation.
func Decision(account *models.Account, accountID, action string, proposed Proposal, result Result) *models.GuardrailDecision {
	context := make(map[string]string)
	if account != nil {
		context["kyc_status"] = string(account.KYCStatus)
		context["trading_blocked"] = strconv.FormatBool(account.TradingBlocked)
		context["pattern_day_trader"] = strconv.FormatBool(account.PatternDayTrader)
		context["day_trade_count"] = strconv.Itoa(account.DayTradeCount)
		context["equity"] = strconv.FormatFloat(account.Equity, 'f', 2, 64)
	}
	return &models.GuardrailDecision{
		AccountID:      accountID,
		Action:         action,
		Symbol:         proposed.Symbol,
		Notional:       proposed.Notional,
		Allowed:        result.Allowed,
		Reason:         result.Reason,
		Checks:         result.Checks,
		AccountContext: context,
		CreatedAt:      time.Now().UTC(),
	}
}

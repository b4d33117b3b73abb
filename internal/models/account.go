package models

import "time"

// KYCStatus tracks identity-verification progress for a brokerage account.
type KYCStatus string

const (
	KYCNotStarted      KYCStatus = "NOT_STARTED"
	KYCSubmitted       KYCStatus = "SUBMITTED"
	KYCApprovalPending KYCStatus = "APPROVAL_PENDING"
	KYCApproved        KYCStatus = "APPROVED"
	KYCRejected        KYCStatus = "REJECTED"
	KYCInfoRequired    KYCStatus = "INFO_REQUIRED"
)

// Account mirrors broker-side account state, one per user. Orders may be
// created only when KYC is APPROVED and trading is not blocked. Refreshed by
// periodic broker sync and by account-update webhooks.
type Account struct {
	ID                    string    `json:"id"`
	ExternalAccountID     string    `json:"external_account_id,omitempty"` // nullable until provisioned
	KYCStatus             KYCStatus `json:"kyc_status"`
	BuyingPower           float64   `json:"buying_power"`
	Cash                  float64   `json:"cash"`
	Equity                float64   `json:"equity"`
	DayTradingBuyingPower float64   `json:"day_trading_buying_power"`
	PatternDayTrader      bool      `json:"pattern_day_trader"`
	DayTradeCount         int       `json:"day_trade_count"`
	TradingBlocked        bool      `json:"trading_blocked"`
	TransferBlocked       bool      `json:"transfer_blocked"`
	AutoTradeEnabled      bool      `json:"auto_trade_enabled"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CanTrade returns true when the account is eligible to create orders.
func (a *Account) CanTrade() bool {
	return a.KYCStatus == KYCApproved && !a.TradingBlocked
}

// Position is a cached, eventually-consistent mirror of a broker-side holding,
// keyed by (account, symbol). Never authoritative; superseded by a fresh
// broker read whenever precision matters.
type Position struct {
	AccountID    string    `json:"account_id"`
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	MarketValue  float64   `json:"market_value"`
	CostBasis    float64   `json:"cost_basis"`
	UnrealizedPL float64   `json:"unrealized_pl"`
	CurrentPrice float64   `json:"current_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GuardrailDecision is the append-only audit record of one policy evaluation.
// Written before any order state is created or broker call is made; never
// updated afterward.
type GuardrailDecision struct {
	ID             int64             `json:"id,omitempty"`
	AccountID      string            `json:"account_id"`
	Action         string            `json:"action"`
	Symbol         string            `json:"symbol"`
	Notional       float64           `json:"notional"`
	Allowed        bool              `json:"allowed"`
	Reason         string            `json:"reason"`
	Checks         map[string]bool   `json:"checks"`
	AccountContext map[string]string `json:"account_context"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Signal is a system-generated trade recommendation considered for
// auto-execution. Confidence is in [0,1]; KellyFraction is the recommended
// risk fraction of equity, zero when the model supplied none.
type Signal struct {
	Symbol         string    `json:"symbol"`
	Side           OrderSide `json:"side"`
	Confidence     float64   `json:"confidence"`
	KellyFraction  float64   `json:"kelly_fraction,omitempty"`
	ReferencePrice float64   `json:"reference_price"`
	GeneratedAt    time.Time `json:"generated_at"`
}

package engine

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/marion205/richesreach-broker/internal/broker"
	"github.com/marion205/richesreach-broker/internal/models"
	"github.com/marion205/richesreach-broker/internal/store"
)

// RefresherConfig tunes the periodic broker sync.
type RefresherConfig struct {
	Interval    time.Duration
	CallTimeout time.Duration
}

// DefaultRefresherConfig is the default sync cadence.
var DefaultRefresherConfig = RefresherConfig{
	Interval:    30 * time.Second,
	CallTimeout: 10 * time.Second,
}

// Refresher periodically mirrors broker-side account and position state into
// the local store. The mirror is eventually consistent and never
// authoritative; anything needing precision re-reads the broker directly.
type Refresher struct {
	broker    broker.Client
	store     store.Interface
	logger    *log.Logger
	accountID string
	config    RefresherConfig
}

// NewRefresher creates a Refresher syncing one account.
func NewRefresher(
	brokerClient broker.Client,
	st store.Interface,
	logger *log.Logger,
	accountID string,
	config ...RefresherConfig,
) *Refresher {
	cfg := DefaultRefresherConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefresherConfig.Interval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultRefresherConfig.CallTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "refresher: ", log.LstdFlags)
	}
	if brokerClient == nil {
		panic("engine.NewRefresher: broker client must not be nil")
	}
	if st == nil {
		panic("engine.NewRefresher: store must not be nil")
	}

	return &Refresher{
		broker:    brokerClient,
		store:     st,
		logger:    logger,
		accountID: accountID,
		config:    cfg,
	}
}

// Run syncs immediately and then on every tick until the context ends.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.RefreshOnce(ctx); err != nil {
		r.logger.Printf("Initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Printf("Refresh failed: %v", err)
			}
		}
	}
}

// RefreshOnce performs one account + position sync.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	if err := r.refreshAccount(ctx); err != nil {
		return err
	}
	return r.refreshPositions(ctx)
}

func (r *Refresher) refreshAccount(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	resp, err := r.broker.GetAccount(callCtx)
	if err != nil {
		return err
	}

	account, err := r.store.GetAccount(r.accountID)
	if err != nil {
		account = &models.Account{ID: r.accountID}
	}
	account.ExternalAccountID = resp.ID
	account.KYCStatus = mapAccountStatus(resp.Status, account.KYCStatus)
	account.BuyingPower = resp.BuyingPower
	account.Cash = resp.Cash
	account.Equity = resp.Equity
	account.DayTradingBuyingPower = resp.DayTradingBuyingPower
	account.PatternDayTrader = resp.PatternDayTrader
	account.DayTradeCount = resp.DayTradeCount
	account.TradingBlocked = resp.TradingBlocked
	account.TransferBlocked = resp.TransferBlocked
	account.UpdatedAt = time.Now().UTC()

	if err := r.store.PutAccount(account); err != nil {
		return err
	}
	return r.store.Save()
}

func (r *Refresher) refreshPositions(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	brokerPositions, err := r.broker.GetPositions(callCtx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	positions := make([]models.Position, 0, len(brokerPositions))
	for _, bp := range brokerPositions {
		positions = append(positions, models.Position{
			AccountID:    r.accountID,
			Symbol:       bp.Symbol,
			Quantity:     bp.Qty,
			MarketValue:  bp.MarketValue,
			CostBasis:    bp.CostBasis,
			UnrealizedPL: bp.UnrealizedPL,
			CurrentPrice: bp.CurrentPrice,
			UpdatedAt:    now,
		})
	}

	if err := r.store.ReplacePositions(r.accountID, positions); err != nil {
		return err
	}
	return r.store.Save()
}

// mapAccountStatus translates the broker's account status vocabulary onto the
// local KYC lifecycle, keeping the current value for unknown statuses.
func mapAccountStatus(brokerStatus string, current models.KYCStatus) models.KYCStatus {
	switch strings.ToUpper(brokerStatus) {
	case "ACTIVE":
		return models.KYCApproved
	case "ONBOARDING":
		return models.KYCNotStarted
	case "SUBMITTED", "SUBMISSION_FAILED":
		return models.KYCSubmitted
	case "APPROVAL_PENDING", "ACCOUNT_UPDATED":
		return models.KYCApprovalPending
	case "ACTION_REQUIRED":
		return models.KYCInfoRequired
	case "REJECTED":
		return models.KYCRejected
	default:
		return current
	}
}

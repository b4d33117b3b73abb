// Package store provides persistence for the local order/position/account
// mirror and the append-only guardrail decision audit log.
package store

import (
	"time"

	"github.com/marion205/richesreach-broker/internal/models"
)

// Interface defines the contract for the local order mirror.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call these methods from multiple
// goroutines.
//
// The provided JSONStore implementation uses sync.RWMutex to serialize access,
// ensuring all Interface methods are protected for concurrent readers and
// writers.
type Interface interface {
	// Account state
	GetAccount(accountID string) (*models.Account, error)
	PutAccount(account *models.Account) error

	// Order lifecycle. CreateOrder fails with ErrDuplicateClientOrderID when
	// the client order id was already assigned; SetExternalOrderID fails with
	// ErrExternalIDConflict if a different external id was already recorded.
	CreateOrder(order *models.Order) error
	GetOrder(clientOrderID string) (*models.Order, error)
	GetOrderByExternalID(externalOrderID string) (*models.Order, error)
	UpdateOrder(order *models.Order) error
	SetExternalOrderID(clientOrderID, externalOrderID string) error
	ListOrders(accountID string) ([]models.Order, error)
	ListOrdersSince(accountID string, since time.Time) ([]models.Order, error)

	// Position cache
	GetPosition(accountID, symbol string) (*models.Position, error)
	UpsertPosition(pos *models.Position) error
	ListPositions(accountID string) ([]models.Position, error)
	ReplacePositions(accountID string, positions []models.Position) error

	// Data persistence
	Save() error
	Load() error
}

// AuditSink records guardrail decisions. Records are append-only and retained
// indefinitely for compliance audit.
type AuditSink interface {
	RecordDecision(decision *models.GuardrailDecision) error
	ListDecisions(accountID string, since time.Time, limit int) ([]models.GuardrailDecision, error)
	Close() error
}

// NewStore creates a new mirror store implementation (currently JSON-based).
func NewStore(filepath string) (Interface, error) {
	return NewJSONStore(filepath)
}

// Ensure implementations satisfy their interfaces
var _ Interface = (*JSONStore)(nil)
var _ Interface = (*MockStore)(nil)
var _ AuditSink = (*SQLiteAuditLog)(nil)

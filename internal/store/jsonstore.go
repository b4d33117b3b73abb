package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/marion205/richesreach-broker/internal/models"
)

// JSONStore persists the local mirror as a single JSON file. Writes go to a
// temp file followed by an atomic rename so a crash never leaves a truncated
// mirror on disk.
type JSONStore struct {
	mu       sync.RWMutex
	filepath string
	data     *storeData
}

type storeData struct {
	Accounts    map[string]*models.Account             `json:"accounts"`
	Orders      map[string]*models.Order               `json:"orders"`       // keyed by client order id
	ExternalIDs map[string]string                      `json:"external_ids"` // external id -> client order id
	Positions   map[string]map[string]*models.Position `json:"positions"`    // account id -> symbol -> position
	LastUpdated time.Time                              `json:"last_updated"`
}

func newStoreData() *storeData {
	return &storeData{
		Accounts:    make(map[string]*models.Account),
		Orders:      make(map[string]*models.Order),
		ExternalIDs: make(map[string]string),
		Positions:   make(map[string]map[string]*models.Position),
	}
}

// NewJSONStore creates a JSONStore backed by the given file, loading any
// existing data.
func NewJSONStore(filepath string) (*JSONStore, error) {
	s := &JSONStore{
		filepath: filepath,
		data:     newStoreData(),
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading store: %w", err)
		}
	}

	return s, nil
}

// Load reads the mirror from disk, replacing in-memory state.
func (s *JSONStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	data := newStoreData()
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	// Maps may be nil after decoding an older file
	if data.Accounts == nil {
		data.Accounts = make(map[string]*models.Account)
	}
	if data.Orders == nil {
		data.Orders = make(map[string]*models.Order)
	}
	if data.ExternalIDs == nil {
		data.ExternalIDs = make(map[string]string)
	}
	if data.Positions == nil {
		data.Positions = make(map[string]map[string]*models.Position)
	}
	s.data = data

	return nil
}

// Save writes the mirror to disk atomically.
func (s *JSONStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStore) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filepath)
}

// GetAccount returns a copy of the account with the given id.
func (s *JSONStore) GetAccount(accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.data.Accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

// PutAccount inserts or replaces the account record.
func (s *JSONStore) PutAccount(account *models.Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account must have an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *account
	copied.UpdatedAt = time.Now().UTC()
	s.data.Accounts[account.ID] = &copied

	return s.saveLocked()
}

// CreateOrder records a new order. The client order id must not already exist.
func (s *JSONStore) CreateOrder(order *models.Order) error {
	if order == nil || order.ClientOrderID == "" {
		return fmt.Errorf("order must have a client order id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Orders[order.ClientOrderID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClientOrderID, order.ClientOrderID)
	}

	copied := cloneOrder(order)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	s.data.Orders[order.ClientOrderID] = copied
	if copied.ExternalOrderID != "" {
		s.data.ExternalIDs[copied.ExternalOrderID] = copied.ClientOrderID
	}

	return s.saveLocked()
}

// GetOrder returns a copy of the order with the given client order id.
func (s *JSONStore) GetOrder(clientOrderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.data.Orders[clientOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetOrderByExternalID looks up an order by the broker-assigned id.
func (s *JSONStore) GetOrderByExternalID(externalOrderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientID, ok := s.data.ExternalIDs[externalOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	order, ok := s.data.Orders[clientID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// UpdateOrder replaces the stored order. The external id, once set, cannot
// change, and a write that would move the order backward in its lifecycle is
// rejected: the writer was holding a copy that a webhook has since advanced.
func (s *JSONStore) UpdateOrder(order *models.Order) error {
	if order == nil || order.ClientOrderID == "" {
		return fmt.Errorf("order must have a client order id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.Orders[order.ClientOrderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ClientOrderID)
	}
	if existing.ExternalOrderID != "" && order.ExternalOrderID != existing.ExternalOrderID {
		return fmt.Errorf("%w: order %s has %s", ErrExternalIDConflict,
			order.ClientOrderID, existing.ExternalOrderID)
	}
	if existing.Status != order.Status &&
		(existing.Status.IsTerminal() || models.RegressesLifecycle(existing.Status, order.Status)) {
		return fmt.Errorf("%w: order %s is already %s", ErrStaleOrderWrite,
			order.ClientOrderID, existing.Status)
	}

	copied := cloneOrder(order)
	s.data.Orders[order.ClientOrderID] = copied
	if copied.ExternalOrderID != "" {
		s.data.ExternalIDs[copied.ExternalOrderID] = copied.ClientOrderID
	}

	return s.saveLocked()
}

// SetExternalOrderID records the broker-assigned order id, write-once.
func (s *JSONStore) SetExternalOrderID(clientOrderID, externalOrderID string) error {
	if externalOrderID == "" {
		return fmt.Errorf("external order id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.data.Orders[clientOrderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, clientOrderID)
	}
	if order.ExternalOrderID != "" && order.ExternalOrderID != externalOrderID {
		return fmt.Errorf("%w: order %s has %s", ErrExternalIDConflict,
			clientOrderID, order.ExternalOrderID)
	}

	order.ExternalOrderID = externalOrderID
	s.data.ExternalIDs[externalOrderID] = clientOrderID

	return s.saveLocked()
}

// ListOrders returns copies of all orders for an account, oldest first.
func (s *JSONStore) ListOrders(accountID string) ([]models.Order, error) {
	return s.ListOrdersSince(accountID, time.Time{})
}

// ListOrdersSince returns copies of the account's orders created at or after
// the given time, oldest first.
func (s *JSONStore) ListOrdersSince(accountID string, since time.Time) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []models.Order
	for _, order := range s.data.Orders {
		if order.AccountID != accountID {
			continue
		}
		if !since.IsZero() && order.CreatedAt.Before(since) {
			continue
		}
		orders = append(orders, *cloneOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// GetPosition returns the cached position for (account, symbol).
func (s *JSONStore) GetPosition(accountID, symbol string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySymbol, ok := s.data.Positions[accountID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	pos, ok := bySymbol[symbol]
	if !ok {
		return nil, ErrPositionNotFound
	}
	copied := *pos
	return &copied, nil
}

// UpsertPosition inserts or replaces one cached position.
func (s *JSONStore) UpsertPosition(pos *models.Position) error {
	if pos == nil || pos.AccountID == "" || pos.Symbol == "" {
		return fmt.Errorf("position must have account id and symbol")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Positions[pos.AccountID] == nil {
		s.data.Positions[pos.AccountID] = make(map[string]*models.Position)
	}
	copied := *pos
	copied.UpdatedAt = time.Now().UTC()
	s.data.Positions[pos.AccountID][pos.Symbol] = &copied

	return s.saveLocked()
}

// ListPositions returns copies of all cached positions for an account.
func (s *JSONStore) ListPositions(accountID string) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []models.Position
	for _, pos := range s.data.Positions[accountID] {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

// ReplacePositions swaps the whole position cache for an account, used by the
// periodic broker sync.
func (s *JSONStore) ReplacePositions(accountID string, positions []models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySymbol := make(map[string]*models.Position, len(positions))
	now := time.Now().UTC()
	for i := range positions {
		copied := positions[i]
		copied.AccountID = accountID
		copied.UpdatedAt = now
		bySymbol[copied.Symbol] = &copied
	}
	s.data.Positions[accountID] = bySymbol

	return s.saveLocked()
}

func cloneOrder(order *models.Order) *models.Order {
	copied := *order
	if order.Fills != nil {
		copied.Fills = make([]models.Fill, len(order.Fills))
		copy(copied.Fills, order.Fills)
	}
	return &copied
}

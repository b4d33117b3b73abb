package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/marion205/richesreach-broker/internal/models"
)

// MockStore implements Interface in memory for testing.
type MockStore struct {
	mu          sync.RWMutex
	accounts    map[string]*models.Account
	orders      map[string]*models.Order
	externalIDs map[string]string
	positions   map[string]map[string]*models.Position

	saveErr       error
	saveCallCount int
}

// NewMockStore creates an empty in-memory store for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		accounts:    make(map[string]*models.Account),
		orders:      make(map[string]*models.Order),
		externalIDs: make(map[string]string),
		positions:   make(map[string]map[string]*models.Position),
	}
}

// SetSaveError makes subsequent Save calls fail with err.
func (m *MockStore) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// SaveCallCount reports how many times Save was invoked.
func (m *MockStore) SaveCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveCallCount
}

func (m *MockStore) GetAccount(accountID string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *MockStore) PutAccount(account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *account
	m.accounts[account.ID] = &copied
	return nil
}

func (m *MockStore) CreateOrder(order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ClientOrderID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClientOrderID, order.ClientOrderID)
	}
	copied := cloneOrder(order)
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	m.orders[order.ClientOrderID] = copied
	if copied.ExternalOrderID != "" {
		m.externalIDs[copied.ExternalOrderID] = copied.ClientOrderID
	}
	return nil
}

func (m *MockStore) GetOrder(clientOrderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[clientOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (m *MockStore) GetOrderByExternalID(externalOrderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clientID, ok := m.externalIDs[externalOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(m.orders[clientID]), nil
}

func (m *MockStore) UpdateOrder(order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.orders[order.ClientOrderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ClientOrderID)
	}
	if existing.ExternalOrderID != "" && order.ExternalOrderID != existing.ExternalOrderID {
		return fmt.Errorf("%w: order %s", ErrExternalIDConflict, order.ClientOrderID)
	}
	if existing.Status != order.Status &&
		(existing.Status.IsTerminal() || models.RegressesLifecycle(existing.Status, order.Status)) {
		return fmt.Errorf("%w: order %s is already %s", ErrStaleOrderWrite,
			order.ClientOrderID, existing.Status)
	}
	copied := cloneOrder(order)
	m.orders[order.ClientOrderID] = copied
	if copied.ExternalOrderID != "" {
		m.externalIDs[copied.ExternalOrderID] = copied.ClientOrderID
	}
	return nil
}

func (m *MockStore) SetExternalOrderID(clientOrderID, externalOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[clientOrderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, clientOrderID)
	}
	if order.ExternalOrderID != "" && order.ExternalOrderID != externalOrderID {
		return fmt.Errorf("%w: order %s", ErrExternalIDConflict, clientOrderID)
	}
	order.ExternalOrderID = externalOrderID
	m.externalIDs[externalOrderID] = clientOrderID
	return nil
}

func (m *MockStore) ListOrders(accountID string) ([]models.Order, error) {
	return m.ListOrdersSince(accountID, time.Time{})
}

func (m *MockStore) ListOrdersSince(accountID string, since time.Time) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var orders []models.Order
	for _, order := range m.orders {
		if order.AccountID != accountID {
			continue
		}
		if !since.IsZero() && order.CreatedAt.Before(since) {
			continue
		}
		orders = append(orders, *cloneOrder(order))
	}
	return orders, nil
}

func (m *MockStore) GetPosition(accountID, symbol string) (*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[accountID][symbol]
	if !ok {
		return nil, ErrPositionNotFound
	}
	copied := *pos
	return &copied, nil
}

func (m *MockStore) UpsertPosition(pos *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positions[pos.AccountID] == nil {
		m.positions[pos.AccountID] = make(map[string]*models.Position)
	}
	copied := *pos
	m.positions[pos.AccountID][pos.Symbol] = &copied
	return nil
}

func (m *MockStore) ListPositions(accountID string) ([]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var positions []models.Position
	for _, pos := range m.positions[accountID] {
		positions = append(positions, *pos)
	}
	return positions, nil
}

func (m *MockStore) ReplacePositions(accountID string, positions []models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol := make(map[string]*models.Position, len(positions))
	for i := range positions {
		copied := positions[i]
		copied.AccountID = accountID
		bySymbol[copied.Symbol] = &copied
	}
	m.positions[accountID] = bySymbol
	return nil
}

func (m *MockStore) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveErr
}

func (m *MockStore) Load() error { return nil }

// MockAuditLog implements AuditSink in memory for testing.
type MockAuditLog struct {
	mu        sync.Mutex
	decisions []models.GuardrailDecision
}

// NewMockAuditLog creates an empty in-memory audit sink.
func NewMockAuditLog() *MockAuditLog {
	return &MockAuditLog{}
}

func (m *MockAuditLog) RecordDecision(decision *models.GuardrailDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	decision.ID = int64(len(m.decisions) + 1)
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}
	m.decisions = append(m.decisions, *decision)
	return nil
}

func (m *MockAuditLog) ListDecisions(accountID string, since time.Time, limit int) ([]models.GuardrailDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GuardrailDecision
	for i := len(m.decisions) - 1; i >= 0; i-- {
		d := m.decisions[i]
		if d.AccountID != accountID || d.CreatedAt.Before(since) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockAuditLog) Close() error { return nil }

// Decisions returns all recorded decisions, oldest first.
func (m *MockAuditLog) Decisions() []models.GuardrailDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.GuardrailDecision, len(m.decisions))
	copy(out, m.decisions)
	return out
}

var _ AuditSink = (*MockAuditLog)(nil)

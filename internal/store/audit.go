package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/marion205/richesreach-broker/internal/models"
)

// SQLiteAuditLog is the append-only guardrail decision log, backed by SQLite.
// Decisions are never updated after insertion and are retained indefinitely
// for compliance audit.
type SQLiteAuditLog struct {
	db *sql.DB
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS guardrail_decisions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id      TEXT NOT NULL,
	action          TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	notional        REAL NOT NULL,
	allowed         INTEGER NOT NULL,
	reason          TEXT NOT NULL,
	checks          TEXT NOT NULL DEFAULT '{}',
	account_context TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS guardrail_decisions_account
	ON guardrail_decisions(account_id, created_at);
`

// NewSQLiteAuditLog opens (or creates) the audit database at dbPath.
func NewSQLiteAuditLog(dbPath string) (*SQLiteAuditLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &SQLiteAuditLog{db: db}, nil
}

// Close closes the underlying database connection.
func (a *SQLiteAuditLog) Close() error {
	return a.db.Close()
}

// RecordDecision appends one guardrail decision. The decision's ID is set on
// success.
func (a *SQLiteAuditLog) RecordDecision(decision *models.GuardrailDecision) error {
	if decision == nil {
		return fmt.Errorf("decision must not be nil")
	}

	checks, err := json.Marshal(decision.Checks)
	if err != nil {
		return fmt.Errorf("encoding checks: %w", err)
	}
	context, err := json.Marshal(decision.AccountContext)
	if err != nil {
		return fmt.Errorf("encoding account context: %w", err)
	}

	createdAt := decision.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
		decision.CreatedAt = createdAt
	}

	res, err := a.db.Exec(
		`INSERT INTO guardrail_decisions
			(account_id, action, symbol, notional, allowed, reason, checks, account_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		decision.AccountID, decision.Action, decision.Symbol, decision.Notional,
		decision.Allowed, decision.Reason, string(checks), string(context), createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting decision: %w", err)
	}

	id, err := res.LastInsertId()
	if err == nil {
		decision.ID = id
	}
	return nil
}

// ListDecisions returns decisions for an account created at or after since,
// newest first, up to limit rows (limit <= 0 means no cap).
func (a *SQLiteAuditLog) ListDecisions(accountID string, since time.Time, limit int) ([]models.GuardrailDecision, error) {
	query := `SELECT id, account_id, action, symbol, notional, allowed, reason, checks, account_context, created_at
		FROM guardrail_decisions
		WHERE account_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC`
	args := []any{accountID, since}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []models.GuardrailDecision
	for rows.Next() {
		var d models.GuardrailDecision
		var checks, context string
		if err := rows.Scan(&d.ID, &d.AccountID, &d.Action, &d.Symbol, &d.Notional,
			&d.Allowed, &d.Reason, &checks, &context, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		if err := json.Unmarshal([]byte(checks), &d.Checks); err != nil {
			return nil, fmt.Errorf("decoding checks: %w", err)
		}
		if err := json.Unmarshal([]byte(context), &d.AccountContext); err != nil {
			return nil, fmt.Errorf("decoding account context: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

package store

import "errors"

// ErrOrderNotFound is returned when no order matches the requested id
var ErrOrderNotFound = errors.New("order not found")

// ErrAccountNotFound is returned when no account matches the requested id
var ErrAccountNotFound = errors.New("account not found")

// ErrPositionNotFound is returned when no cached position matches (account, symbol)
var ErrPositionNotFound = errors.New("position not found")

// ErrDuplicateClientOrderID is returned when a client order id is reused.
// Client order ids are idempotency keys: assigned exactly once, never reused.
var ErrDuplicateClientOrderID = errors.New("client order id already exists")

// ErrExternalIDConflict is returned when an order's external id would change
// after being set. External order ids are write-once.
var ErrExternalIDConflict = errors.New("external order id already set")

// ErrStaleOrderWrite is returned when an update would move an order backward
// in its lifecycle, usually because a webhook advanced the order while the
// writer held an older copy. The stored order is the newer truth.
var ErrStaleOrderWrite = errors.New("stale order write")

package store

import (
	"context"
	"database/sql"
	"errors"
)

// DBTX is the subset of database/sql methods the stores use. Both *sql.DB
// and *sql.Tx satisfy it, so a store can be rebound to a transaction with
// WithTx and used inside a workflow's atomic scope.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Sentinel errors surfaced by conditional updates. A conditional update
// matching no row is the authoritative rejection; there is no separate
// pre-check that could race. The engine wraps these with domain context.
var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOutOfStock          = errors.New("out of stock")
	ErrStatusConflict      = errors.New("status conflict")
)

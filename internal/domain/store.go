package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string // audit queries only; empty matches every event
}

// LedgerStore persists positions and their trades. Every mutation goes
// through WithTx: the callback's writes are committed together when it
// returns nil and rolled back entirely when it returns an error.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error
	GetPosition(ctx context.Context, id string) (Position, error)
	ListOpenPositions(ctx context.Context, assetPair string) ([]Position, error)
	GetOpeningTrade(ctx context.Context, positionID string) (OpeningTrade, error)
	ListClosingTrades(ctx context.Context, positionID string) ([]ClosingTrade, error)
}

// LedgerTx is the set of reads and writes available inside one ledger
// transaction.
type LedgerTx interface {
	InsertPosition(ctx context.Context, p Position) error
	InsertOpeningTrade(ctx context.Context, t OpeningTrade) error
	InsertClosingTrade(ctx context.Context, t ClosingTrade) error

	// GetPositionForUpdate loads a position and holds it against concurrent
	// writers until the transaction ends.
	GetPositionForUpdate(ctx context.Context, id string) (Position, error)

	// OldestOpenPosition returns the earliest-opened position on assetPair
	// and side that still has leftover quantity, or ErrNotFound.
	OldestOpenPosition(ctx context.Context, assetPair string, side PositionSide) (Position, error)

	OpeningTradeFor(ctx context.Context, positionID string) (OpeningTrade, error)

	// UpdatePosition writes p if the stored version still equals p.Version
	// and bumps the stored version. A mismatch returns ErrConflict.
	UpdatePosition(ctx context.Context, p Position) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

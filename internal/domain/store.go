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
}

// LedgerStore persists one strategy's ledger: a positions document that is
// replaced wholesale on every save, and an append-only trade history.
type LedgerStore interface {
	LoadPositions(ctx context.Context, strategy string) (map[string]Position, error)
	SavePositions(ctx context.Context, strategy string, positions map[string]Position) error
	LoadTrades(ctx context.Context, strategy string) ([]TradeRecord, error)
	AppendTrade(ctx context.Context, strategy string, rec TradeRecord) error
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

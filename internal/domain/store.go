package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries. Event is a
// prefix match used by the audit log only.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Event  string
}

// MarketStore is the read side of the off-chain metadata store. The client
// never owns its schema; Upsert exists for seeding and tests.
type MarketStore interface {
	GetMetadata(ctx context.Context, slug string) (MarketMetadata, error)
	GetContracts(ctx context.Context, marketID string) (Contracts, error)
	List(ctx context.Context) ([]Market, error)
	Upsert(ctx context.Context, market Market) error
}

// ExecutionStore journals every open/close outcome.
type ExecutionStore interface {
	Record(ctx context.Context, res ExecutionResult) error
	ListByUser(ctx context.Context, user string, opts ListOpts) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionResult, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

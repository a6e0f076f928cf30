package domain

import (
	"context"
	"time"
)

// ListOpts controls pagination for record listings.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// ReplicationStore owns ReplicationRecord durability. Admit must be a single
// atomic check-and-insert so that the stream and polling producers racing on
// the same source trade ID yield exactly one Accepted.
type ReplicationStore interface {
	Admit(ctx context.Context, ev TradeEvent) (AdmissionResult, error)
	Complete(ctx context.Context, sourceTradeID string, out Outcome) error
	Get(ctx context.Context, sourceTradeID string) (ReplicationRecord, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ReplicationRecord, error)
	CountByStatus(ctx context.Context) (map[ReplicationStatus]int64, error)
}

// CursorStore persists per-symbol polling resume points. Owned exclusively by
// the polling reconciler.
type CursorStore interface {
	Get(ctx context.Context, symbol string) (Cursor, error)
	Put(ctx context.Context, symbol string, lastEventTimeMs int64) error
}

// PositionStore persists reconciled position snapshots.
type PositionStore interface {
	ReplaceAll(ctx context.Context, account AccountRole, snaps []PositionSnapshot) error
	List(ctx context.Context, account AccountRole) ([]PositionSnapshot, error)
}

// SettingStore is a durable key/value capability for small bits of state
// (e.g. the monitoring start time recorded on first run).
type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	CompareAndInsert(ctx context.Context, key, value string) (bool, error)
}

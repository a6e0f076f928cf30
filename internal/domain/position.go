package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountRole distinguishes the two mirrored accounts.
type AccountRole string

const (
	AccountSource AccountRole = "source"
	AccountTarget AccountRole = "target"
)

// PositionSnapshot is one open position on one account at sync time. The set
// of snapshots for an account is replaced wholesale on every sync pass; a
// symbol whose size has gone to zero simply disappears from the next set.
type PositionSnapshot struct {
	Account       AccountRole
	Symbol        string
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnl decimal.Decimal
	UpdatedAt     time.Time
}

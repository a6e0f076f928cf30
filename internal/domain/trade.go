package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a fill or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeEvent is a fill notification observed on the source account. The
// venue-assigned trade ID is the canonical deduplication key for both the
// stream and the polling producers.
type TradeEvent struct {
	SourceTradeID string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Price         *decimal.Decimal // absent for aggregate polled records
	EventTime     time.Time        // source-venue clock
}

// EventTimeMillis returns the fill time as epoch milliseconds, the unit the
// venue reports and the cursors persist.
func (e TradeEvent) EventTimeMillis() int64 {
	return e.EventTime.UnixMilli()
}

// Cursor is a per-symbol resume point for history polling.
type Cursor struct {
	Symbol          string
	LastEventTimeMs int64
	UpdatedAt       time.Time
}

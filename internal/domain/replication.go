package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReplicationStatus tracks the lifecycle of one mirrored trade.
type ReplicationStatus string

const (
	ReplicationPending ReplicationStatus = "pending"
	ReplicationSuccess ReplicationStatus = "success"
	ReplicationFailed  ReplicationStatus = "failed"
)

// AdmissionResult is the outcome of the atomic check-and-insert that decides
// whether a TradeEvent has been seen before.
type AdmissionResult int

const (
	Accepted AdmissionResult = iota
	AlreadyProcessed
)

// ReplicationRecord is the audit trail for one TradeEvent: created pending
// the instant the event is admitted, moved to exactly one terminal state,
// never deleted.
type ReplicationRecord struct {
	SourceTradeID string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	TargetOrderID string // set on success only
	Status        ReplicationStatus
	ErrorDetail   string // set on failure only
	AttemptCount  int
	EventTime     time.Time
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Outcome carries the terminal result the executor hands to Complete.
type Outcome struct {
	Status        ReplicationStatus
	TargetOrderID string
	ErrorDetail   string
	AttemptCount  int
}

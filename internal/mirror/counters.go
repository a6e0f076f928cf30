package mirror

import "sync/atomic"

// Counters track engine activity since start. All fields are safe for
// concurrent use.
type Counters struct {
	EventsSeen atomic.Int64
	Admitted   atomic.Int64
	Duplicates atomic.Int64
	Replicated atomic.Int64
	Failed     atomic.Int64
	PollCycles atomic.Int64
}

// CounterSnapshot is a point-in-time copy of the counters, suitable for JSON
// encoding.
type CounterSnapshot struct {
	EventsSeen int64 `json:"events_seen"`
	Admitted   int64 `json:"admitted"`
	Duplicates int64 `json:"duplicates"`
	Replicated int64 `json:"replicated"`
	Failed     int64 `json:"failed"`
	PollCycles int64 `json:"poll_cycles"`
	Reconnects int64 `json:"reconnects"`
}

// Snapshot copies the current counter values. Reconnects is supplied by the
// caller since the stream client owns that count.
func (c *Counters) Snapshot(reconnects int64) CounterSnapshot {
	return CounterSnapshot{
		EventsSeen: c.EventsSeen.Load(),
		Admitted:   c.Admitted.Load(),
		Duplicates: c.Duplicates.Load(),
		Replicated: c.Replicated.Load(),
		Failed:     c.Failed.Load(),
		PollCycles: c.PollCycles.Load(),
		Reconnects: reconnects,
	}
}

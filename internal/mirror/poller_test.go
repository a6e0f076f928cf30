package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/platform/binance"
)

type memCursors struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: make(map[string]int64)}
}

func (c *memCursors) Get(ctx context.Context, symbol string) (domain.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.cursors[symbol]
	if !ok {
		return domain.Cursor{}, domain.ErrNotFound
	}
	return domain.Cursor{Symbol: symbol, LastEventTimeMs: ms}, nil
}

func (c *memCursors) Put(ctx context.Context, symbol string, lastEventTimeMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.cursors[symbol]; !ok || lastEventTimeMs > cur {
		c.cursors[symbol] = lastEventTimeMs
	}
	return nil
}

type fakeTrades struct {
	mu      sync.Mutex
	trades  map[string][]binance.AccountTrade
	fetches []int64 // startTime of each AccountTrades call
	err     error
}

func (f *fakeTrades) AccountTrades(ctx context.Context, symbol string, startTime int64, limit int) ([]binance.AccountTrade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, startTime)
	if f.err != nil {
		return nil, f.err
	}
	var out []binance.AccountTrade
	for _, t := range f.trades[symbol] {
		if t.Time >= startTime {
			out = append(out, t)
		}
	}
	return out, nil
}

type collectSink struct {
	mu  sync.Mutex
	evs []domain.TradeEvent
}

func (s *collectSink) Submit(ctx context.Context, ev domain.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func histTrade(id int64, timeMs int64) binance.AccountTrade {
	return binance.AccountTrade{
		ID:     id,
		Symbol: "BTCUSDT",
		Side:   "BUY",
		Price:  decimal.RequireFromString("50000"),
		Qty:    decimal.RequireFromString("0.01"),
		Time:   timeMs,
	}
}

func newTestPoller(source TradeSource, cursors domain.CursorStore, sink FillSink, nowMs int64) *Poller {
	p := NewPoller(source, cursors, sink, &Counters{}, PollerConfig{
		Symbols:       []string{"BTCUSDT"},
		Interval:      time.Hour,
		SymbolTimeout: time.Second,
	}, testLogger())
	p.now = func() time.Time { return time.UnixMilli(nowMs) }
	return p
}

func TestPollerInitializesCursorWithoutBackfill(t *testing.T) {
	cursors := newMemCursors()
	source := &fakeTrades{trades: map[string][]binance.AccountTrade{
		"BTCUSDT": {histTrade(1, 500), histTrade(2, 900)},
	}}
	sink := &collectSink{}
	p := newTestPoller(source, cursors, sink, 1000)

	p.pollAll(context.Background())

	// First sight records now as the cursor and fetches nothing.
	assert.Empty(t, source.fetches)
	assert.Empty(t, sink.evs)
	cur, err := cursors.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cur.LastEventTimeMs)

	// The next pass only sees trades at or past the boundary.
	source.trades["BTCUSDT"] = append(source.trades["BTCUSDT"], histTrade(3, 1500))
	p.pollAll(context.Background())

	require.Len(t, sink.evs, 1)
	assert.Equal(t, "3", sink.evs[0].SourceTradeID)
}

func TestPollerInitializesCursorAtDeploymentStart(t *testing.T) {
	cursors := newMemCursors()
	source := &fakeTrades{trades: map[string][]binance.AccountTrade{
		"BTCUSDT": {histTrade(1, 500), histTrade(2, 900)},
	}}
	sink := &collectSink{}
	p := NewPoller(source, cursors, sink, &Counters{}, PollerConfig{
		Symbols:       []string{"BTCUSDT"},
		Interval:      time.Hour,
		SymbolTimeout: time.Second,
		StartTime:     time.UnixMilli(800),
	}, testLogger())
	p.now = func() time.Time { return time.UnixMilli(1000) }

	p.pollAll(context.Background())

	// A symbol first seen after a restart anchors at the recorded deployment
	// start, not at process start, so the restart gap is covered.
	cur, err := cursors.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(800), cur.LastEventTimeMs)

	p.pollAll(context.Background())

	require.Len(t, sink.evs, 1)
	assert.Equal(t, "2", sink.evs[0].SourceTradeID, "trade inside the gap is mirrored, pre-deployment trade is not")
}

func TestPollerAdvancesCursorAfterForwarding(t *testing.T) {
	cursors := newMemCursors()
	require.NoError(t, cursors.Put(context.Background(), "BTCUSDT", 1000))

	source := &fakeTrades{trades: map[string][]binance.AccountTrade{
		"BTCUSDT": {histTrade(10, 1100), histTrade(11, 1300), histTrade(12, 1200)},
	}}
	sink := &collectSink{}
	p := newTestPoller(source, cursors, sink, 2000)

	p.pollAll(context.Background())

	require.Len(t, sink.evs, 3)
	// Forwarded in event-time order even though the venue returned trade 12
	// after trade 11.
	assert.Equal(t, "10", sink.evs[0].SourceTradeID)
	assert.Equal(t, "12", sink.evs[1].SourceTradeID)
	assert.Equal(t, "11", sink.evs[2].SourceTradeID)
	cur, err := cursors.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1300), cur.LastEventTimeMs, "cursor moves to the max observed event time")

	// Nothing new: cursor stays put and nothing is re-forwarded beyond the
	// overlap the admission layer absorbs.
	p.pollAll(context.Background())
	cur, _ = cursors.Get(context.Background(), "BTCUSDT")
	assert.Equal(t, int64(1300), cur.LastEventTimeMs)
}

type failingSink struct {
	acceptFirst int
	seen        int
}

func (s *failingSink) Submit(ctx context.Context, ev domain.TradeEvent) error {
	s.seen++
	if s.seen > s.acceptFirst {
		return context.DeadlineExceeded
	}
	return nil
}

// The cursor must not move past a trade that was never durably admitted: a
// mid-batch forwarding failure leaves the cursor where it was, and the next
// cycle replays the whole batch.
func TestPollerKeepsCursorWhenForwardingFails(t *testing.T) {
	cursors := newMemCursors()
	require.NoError(t, cursors.Put(context.Background(), "BTCUSDT", 1000))

	source := &fakeTrades{trades: map[string][]binance.AccountTrade{
		"BTCUSDT": {histTrade(10, 1100), histTrade(11, 1200)},
	}}
	sink := &failingSink{acceptFirst: 1}
	p := newTestPoller(source, cursors, sink, 2000)

	p.pollAll(context.Background())

	cur, err := cursors.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cur.LastEventTimeMs)
}

func TestPollerKeepsCursorOnFetchError(t *testing.T) {
	cursors := newMemCursors()
	require.NoError(t, cursors.Put(context.Background(), "BTCUSDT", 1000))

	source := &fakeTrades{err: context.DeadlineExceeded}
	sink := &collectSink{}
	p := newTestPoller(source, cursors, sink, 2000)

	p.pollAll(context.Background())

	assert.Empty(t, sink.evs)
	cur, err := cursors.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cur.LastEventTimeMs)
}

func TestPollerEventCarriesTradeFields(t *testing.T) {
	cursors := newMemCursors()
	require.NoError(t, cursors.Put(context.Background(), "BTCUSDT", 1000))

	source := &fakeTrades{trades: map[string][]binance.AccountTrade{
		"BTCUSDT": {histTrade(42, 1500)},
	}}
	sink := &collectSink{}
	p := newTestPoller(source, cursors, sink, 2000)

	p.pollAll(context.Background())

	require.Len(t, sink.evs, 1)
	ev := sink.evs[0]
	assert.Equal(t, "42", ev.SourceTradeID)
	assert.Equal(t, "BTCUSDT", ev.Symbol)
	assert.Equal(t, domain.SideBuy, ev.Side)
	require.NotNil(t, ev.Price)
	assert.True(t, ev.Price.Equal(decimal.RequireFromString("50000")))
	assert.Equal(t, int64(1500), ev.EventTime.UnixMilli())
}

package binance

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvolkov/tradecopier/internal/domain"
)

const filledUpdate = `{
	"e": "ORDER_TRADE_UPDATE",
	"E": 1700000001000,
	"o": {
		"s": "BTCUSDT",
		"S": "BUY",
		"q": "0.020",
		"ap": "43210.50",
		"x": "TRADE",
		"X": "FILLED",
		"i": 8886774,
		"l": "0.010",
		"L": "43211.00",
		"t": 12345,
		"T": 1700000000999
	}
}`

func TestHandleMessageForwardsTradeExecution(t *testing.T) {
	w := NewWSClient("wss://example.test")

	var got []domain.TradeEvent
	w.OnFill(func(_ context.Context, ev domain.TradeEvent) { got = append(got, ev) })

	w.handleMessage(context.Background(), []byte(filledUpdate))

	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, "12345", ev.SourceTradeID)
	assert.Equal(t, "BTCUSDT", ev.Symbol)
	assert.Equal(t, domain.SideBuy, ev.Side)
	assert.True(t, ev.Quantity.Equal(decimal.RequireFromString("0.01")),
		"quantity is this execution's fill, not the order total")
	require.NotNil(t, ev.Price)
	assert.True(t, ev.Price.Equal(decimal.RequireFromString("43211")))
	assert.Equal(t, int64(1700000000999), ev.EventTime.UnixMilli())
}

// An order filled across two venue trades must yield two events with per-fill
// quantities, matching what the history endpoint reports trade by trade.
// Summing the order quantity into the final event would double-count once the
// poller catches the earlier trades.
func TestHandleMessageEmitsOneEventPerVenueTrade(t *testing.T) {
	w := NewWSClient("wss://example.test")

	var got []domain.TradeEvent
	w.OnFill(func(_ context.Context, ev domain.TradeEvent) { got = append(got, ev) })

	w.handleMessage(context.Background(), []byte(`{"e":"ORDER_TRADE_UPDATE","E":1,"o":{
		"s":"BTCUSDT","S":"BUY","q":"0.02","x":"TRADE","X":"PARTIALLY_FILLED",
		"l":"0.01","L":"60000","t":1001,"T":1000}}`))
	w.handleMessage(context.Background(), []byte(`{"e":"ORDER_TRADE_UPDATE","E":2,"o":{
		"s":"BTCUSDT","S":"BUY","q":"0.02","x":"TRADE","X":"FILLED",
		"l":"0.01","L":"60001","t":1002,"T":1001}}`))

	require.Len(t, got, 2)
	assert.Equal(t, "1001", got[0].SourceTradeID)
	assert.Equal(t, "1002", got[1].SourceTradeID)
	assert.True(t, got[0].Quantity.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, got[1].Quantity.Equal(decimal.RequireFromString("0.01")))
}

func TestHandleMessageDropsNonTrades(t *testing.T) {
	w := NewWSClient("wss://example.test")

	calls := 0
	w.OnFill(func(context.Context, domain.TradeEvent) { calls++ })

	// Order placement: execution type NEW, no venue trade yet.
	w.handleMessage(context.Background(), []byte(`{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"BTCUSDT","S":"BUY","x":"NEW","X":"NEW","t":0,"T":1}}`))
	// Cancel: no trade ID.
	w.handleMessage(context.Background(), []byte(`{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"BTCUSDT","S":"BUY","x":"CANCELED","X":"CANCELED","t":0,"T":1}}`))
	// Unrelated event type.
	w.handleMessage(context.Background(), []byte(`{"e":"ACCOUNT_UPDATE","E":1}`))
	// Garbage.
	w.handleMessage(context.Background(), []byte(`not json`))

	assert.Zero(t, calls)
}

func TestFillFromUpdateFallsBackToEnvelopeTime(t *testing.T) {
	var u orderTradeUpdate
	u.EventTime = 1700000002000
	u.Order.Symbol = "ETHUSDT"
	u.Order.Side = "SELL"
	u.Order.ExecType = "TRADE"
	u.Order.OrderStatus = "FILLED"
	u.Order.TradeID = 77
	u.Order.TradeTime = 0

	ev, ok := fillFromUpdate(u)
	require.True(t, ok)
	assert.Equal(t, int64(1700000002000), ev.EventTime.UnixMilli())
}

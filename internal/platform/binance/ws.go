package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pvolkov/tradecopier/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// FillHandler is called for every trade execution decoded off the stream.
// The context is the session's: it is cancelled when Listen returns, so a
// handler blocked on a downstream queue cannot wedge the read loop past
// shutdown.
type FillHandler func(ctx context.Context, ev domain.TradeEvent)

// WSClient reads the user-data stream for one account and forwards trade
// executions to a registered handler. It performs a single session per Listen
// call: connection faults are returned to the caller, which owns the
// reconnect policy.
type WSClient struct {
	wsURL  string
	onFill FillHandler
}

// NewWSClient creates a stream client for the given WebSocket root, e.g.
// "wss://fstream.binance.com".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{wsURL: wsURL}
}

// OnFill registers the handler invoked for each trade execution. Must be set
// before Listen.
func (w *WSClient) OnFill(h FillHandler) {
	w.onFill = h
}

// Listen dials the user-data stream for listenKey and blocks dispatching
// messages until the connection faults or ctx is cancelled. It always returns
// a non-nil error: ctx.Err() on cancellation, a transport error otherwise.
func (w *WSClient) Listen(ctx context.Context, listenKey string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL+"/ws/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w: %v", domain.ErrTransport, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when ctx is cancelled so the blocked read returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = conn.Close()
		case <-stop:
		}
	}()

	go w.pingLoop(conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance/ws: read: %w: %v", domain.ErrTransport, err)
		}
		w.handleMessage(ctx, message)
	}
}

// pingLoop keeps the connection alive until the session ends.
func (w *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes one raw stream message. Only trade executions become
// TradeEvents; everything else (order placements, cancels, account-balance
// pushes) is dropped at this layer.
func (w *WSClient) handleMessage(ctx context.Context, raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}

	if envelope.EventType != "ORDER_TRADE_UPDATE" {
		return
	}

	var update orderTradeUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return
	}

	ev, ok := fillFromUpdate(update)
	if !ok {
		return
	}

	if w.onFill != nil {
		w.onFill(ctx, ev)
	}
}

// fillFromUpdate normalizes an ORDER_TRADE_UPDATE into a TradeEvent. Every
// execution of type TRADE is one venue trade, carrying that execution's own
// quantity and price; an order filled across several trades yields one event
// per trade. This is the exact granularity the history endpoint reports, so
// the stream and polling producers emit identical admission facts keyed by
// the venue-assigned trade ID.
func fillFromUpdate(u orderTradeUpdate) (domain.TradeEvent, bool) {
	o := u.Order
	if o.ExecType != "TRADE" || o.TradeID == 0 {
		return domain.TradeEvent{}, false
	}

	price := o.LastFilledPrice
	ev := domain.TradeEvent{
		SourceTradeID: strconv.FormatInt(o.TradeID, 10),
		Symbol:        o.Symbol,
		Side:          domain.Side(o.Side),
		Quantity:      o.LastFilledQty,
		Price:         &price,
		EventTime:     time.UnixMilli(o.TradeTime),
	}
	if ev.EventTime.UnixMilli() == 0 {
		ev.EventTime = time.UnixMilli(u.EventTime)
	}
	return ev, true
}

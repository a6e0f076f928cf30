package binance

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// serverTimeResponse is the payload of GET /fapi/v1/time.
type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// AccountTrade is one fill from GET /fapi/v1/userTrades.
type AccountTrade struct {
	ID       int64           `json:"id"`
	OrderID  int64           `json:"orderId"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Qty      decimal.Decimal `json:"qty"`
	QuoteQty decimal.Decimal `json:"quoteQty"`
	Time     int64           `json:"time"` // epoch ms, venue clock
}

// TradeID returns the venue-assigned trade identifier in its canonical
// string form, matching the websocket stream's representation.
func (t AccountTrade) TradeID() string {
	return strconv.FormatInt(t.ID, 10)
}

// OrderAck is the venue's acknowledgement of POST /fapi/v1/order.
type OrderAck struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

// PositionRisk is one entry from GET /fapi/v2/positionRisk. PositionAmt is
// signed: positive for long, negative for short.
type PositionRisk struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnRealizedProfit decimal.Decimal `json:"unRealizedProfit"`
}

// listenKeyResponse is the payload of POST /fapi/v1/listenKey.
type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// apiError is the venue's error body, e.g. {"code":-2019,"msg":"Margin is insufficient."}.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// wsEnvelope is the outer frame of a user-data stream message. EventType
// discriminates; EventTime is epoch ms on the venue clock.
type wsEnvelope struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

// orderTradeUpdate is the ORDER_TRADE_UPDATE user-data event. Field names
// follow the venue's single-letter wire format.
type orderTradeUpdate struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol          string          `json:"s"`
		Side            string          `json:"S"`
		OrderQty        decimal.Decimal `json:"q"`
		AvgPrice        decimal.Decimal `json:"ap"`
		ExecType        string          `json:"x"` // execution type, "TRADE" for fills
		OrderStatus     string          `json:"X"` // "FILLED", "PARTIALLY_FILLED", ...
		OrderID         int64           `json:"i"`
		LastFilledQty   decimal.Decimal `json:"l"` // quantity of this execution only
		LastFilledPrice decimal.Decimal `json:"L"` // price of this execution only
		TradeID         int64           `json:"t"` // venue-assigned trade ID
		TradeTime       int64           `json:"T"`
	} `json:"o"`
}

package kalshi

import "github.com/goccy/go-json"

// envelope is the outer frame of every Kalshi websocket message.
type envelope struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  uint64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type command struct {
	ID     int64         `json:"id"`
	Cmd    string        `json:"cmd"`
	Params commandParams `json:"params"`
}

type commandParams struct {
	Channels     []string `json:"channels,omitempty"`
	MarketTicker string   `json:"market_ticker,omitempty"`
	SIDs         []int64  `json:"sids,omitempty"`
}

type subscribedMsg struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

type errorMsg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// snapshotMsg levels are [price_cents, qty] pairs of resting bids.
type snapshotMsg struct {
	MarketTicker string     `json:"market_ticker"`
	Yes          [][2]int64 `json:"yes"`
	No           [][2]int64 `json:"no"`
}

type deltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"`
}

type tickerMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	YesBid       int64  `json:"yes_bid"`
	YesAsk       int64  `json:"yes_ask"`
	Ts           int64  `json:"ts"` // unix seconds
}

type lifecycleMsg struct {
	MarketTicker string `json:"market_ticker"`
	EventTicker  string `json:"event_ticker"`
	EventType    string `json:"event_type"`
}

// Market is the subset of GET /markets fields the engine uses.
type Market struct {
	Ticker      string   `json:"ticker"`
	EventTicker string   `json:"event_ticker"`
	Status      string   `json:"status"`
	FloorStrike *float64 `json:"floor_strike"`
	CapStrike   *float64 `json:"cap_strike"`
	YesBid      int      `json:"yes_bid"`
	YesAsk      int      `json:"yes_ask"`
}

type marketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

type marketResponse struct {
	Market Market `json:"market"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"` // cents
}

// OrderRequest is the body of POST /portfolio/orders.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
	PostOnly      bool   `json:"post_only,omitempty"`
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Order is the venue's view of one order.
type Order struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Status         string `json:"status"` // resting, canceled, executed, pending
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
	FillCount      int    `json:"fill_count"`
	RemainingCount int    `json:"remaining_count"`
}

type orderResponse struct {
	Order Order `json:"order"`
}


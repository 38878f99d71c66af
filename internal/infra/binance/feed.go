package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/goccy/go-json"

	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
	"kalshi_go/pkg/quant"
)

// tradeEvent is a raw @trade stream payload.
// Every key needs its own field: "E" and "T" would otherwise fold onto "e" and "t".
type tradeEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"` // ms
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"` // ms
	Maker     bool   `json:"m"`
	Ignore    bool   `json:"M"`
}

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type streamResponse struct {
	ID    int64 `json:"id"`
	Error *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// FeedHandler decodes Binance trade streams. The server pings every few minutes; gorilla answers
// those and FeedConnection counts them as heartbeats.
type FeedHandler struct {
	url   string
	inbox chan<- event.Event
	id    atomic.Int64
}

// NewFeedHandler creates a handler for the raw stream endpoint (wss://stream.binance.com:9443/ws).
func NewFeedHandler(url string, inbox chan<- event.Event) *FeedHandler {
	return &FeedHandler{url: url, inbox: inbox}
}

func (h *FeedHandler) Venue() infra.Venue           { return infra.VenueBinance }
func (h *FeedHandler) URL() string                  { return h.url }
func (h *FeedHandler) Header() (http.Header, error) { return nil, nil }
func (h *FeedHandler) OnDisconnect()                {}

func (h *FeedHandler) OnConnect(context.Context, infra.FeedWriter) error { return nil }

// Subscribe requests <symbol>@trade for each symbol.
func (h *FeedHandler) Subscribe(w infra.FeedWriter, symbols []string) error {
	return w.WriteJSON(streamRequest{Method: "SUBSCRIBE", Params: streams(symbols), ID: h.id.Add(1)})
}

func (h *FeedHandler) Unsubscribe(w infra.FeedWriter, symbols []string) error {
	return w.WriteJSON(streamRequest{Method: "UNSUBSCRIBE", Params: streams(symbols), ID: h.id.Add(1)})
}

func (h *FeedHandler) OnPing(ctx context.Context, w infra.FeedWriter) error {
	return w.Ping()
}

// OnMessage decodes one frame.
func (h *FeedHandler) OnMessage(ctx context.Context, raw []byte) error {
	var t tradeEvent
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("%w: binance: %v", infra.ErrMalformed, err)
	}
	if t.Event != "trade" {
		var resp streamResponse
		if json.Unmarshal(raw, &resp) == nil && resp.Error != nil {
			return fmt.Errorf("%w: binance %d: %s", infra.ErrUpstreamRejected, resp.Error.Code, resp.Error.Msg)
		}
		return nil
	}

	price, err := quant.ParsePrice(t.Price)
	if err != nil {
		return fmt.Errorf("%w: binance %s: %v", infra.ErrMalformed, t.Symbol, err)
	}
	ts := quant.Now()
	if t.TradeTime > 0 {
		ts = quant.TimeStamp(t.TradeTime * 1000)
	}
	infra.EmitQuote(h.inbox, infra.VenueBinance, strings.ToLower(t.Symbol), price, ts)
	return nil
}

func streams(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToLower(s)+"@trade")
	}
	return out
}

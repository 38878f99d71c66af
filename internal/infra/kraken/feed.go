package kraken

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
	"kalshi_go/pkg/quant"
)

type request struct {
	Method string        `json:"method"`
	Params requestParams `json:"params"`
}

type requestParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

// message is a v2 channel message or a method acknowledgement.
type message struct {
	Channel string       `json:"channel"`
	Type    string       `json:"type"`
	Data    []tickerData `json:"data"`

	Method  string `json:"method"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

type tickerData struct {
	Symbol string          `json:"symbol"`
	Last   decimal.Decimal `json:"last"`
}

// FeedHandler decodes the Kraken v2 ticker channel. Kraken sends a heartbeat message every second
// once any subscription is active.
type FeedHandler struct {
	url   string
	inbox chan<- event.Event
	now   func() time.Time
}

// NewFeedHandler creates a handler for wss://ws.kraken.com/v2.
func NewFeedHandler(url string, inbox chan<- event.Event) *FeedHandler {
	return &FeedHandler{url: url, inbox: inbox, now: time.Now}
}

func (h *FeedHandler) Venue() infra.Venue           { return infra.VenueKraken }
func (h *FeedHandler) URL() string                  { return h.url }
func (h *FeedHandler) Header() (http.Header, error) { return nil, nil }
func (h *FeedHandler) OnDisconnect()                {}

func (h *FeedHandler) OnConnect(context.Context, infra.FeedWriter) error { return nil }

func (h *FeedHandler) Subscribe(w infra.FeedWriter, symbols []string) error {
	return w.WriteJSON(request{Method: "subscribe", Params: requestParams{Channel: "ticker", Symbol: symbols}})
}

func (h *FeedHandler) Unsubscribe(w infra.FeedWriter, symbols []string) error {
	return w.WriteJSON(request{Method: "unsubscribe", Params: requestParams{Channel: "ticker", Symbol: symbols}})
}

// OnPing uses the application-level ping Kraken documents for v2.
func (h *FeedHandler) OnPing(ctx context.Context, w infra.FeedWriter) error {
	return w.WriteJSON(map[string]string{"method": "ping"})
}

// OnMessage decodes one frame.
func (h *FeedHandler) OnMessage(ctx context.Context, raw []byte) error {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%w: kraken: %v", infra.ErrMalformed, err)
	}
	if m.Success != nil && !*m.Success {
		return fmt.Errorf("%w: kraken %s: %s", infra.ErrUpstreamRejected, m.Method, m.Error)
	}

	if m.Channel != "ticker" {
		// heartbeat, status, pong
		return nil
	}
	ts := quant.FromTime(h.now())
	for _, d := range m.Data {
		if !d.Last.IsPositive() {
			return fmt.Errorf("%w: kraken %s last=%s", infra.ErrMalformed, d.Symbol, d.Last)
		}
		infra.EmitQuote(h.inbox, infra.VenueKraken, d.Symbol, d.Last, ts)
	}
	return nil
}

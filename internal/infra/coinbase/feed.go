package coinbase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
	"kalshi_go/pkg/quant"
)

// message covers ticker, heartbeat, subscriptions and error frames.
type message struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// FeedHandler decodes the Coinbase Exchange ticker channel.
type FeedHandler struct {
	url   string
	inbox chan<- event.Event
}

// NewFeedHandler creates a handler pushing quotes into inbox.
func NewFeedHandler(url string, inbox chan<- event.Event) *FeedHandler {
	return &FeedHandler{url: url, inbox: inbox}
}

func (h *FeedHandler) Venue() infra.Venue           { return infra.VenueCoinbase }
func (h *FeedHandler) URL() string                  { return h.url }
func (h *FeedHandler) Header() (http.Header, error) { return nil, nil }
func (h *FeedHandler) OnDisconnect()                {}

func (h *FeedHandler) OnConnect(context.Context, infra.FeedWriter) error { return nil }

// Subscribe requests ticker and heartbeat channels for the products.
func (h *FeedHandler) Subscribe(w infra.FeedWriter, products []string) error {
	return w.WriteJSON(subscribeRequest{Type: "subscribe", ProductIDs: products, Channels: []string{"ticker", "heartbeat"}})
}

func (h *FeedHandler) Unsubscribe(w infra.FeedWriter, products []string) error {
	return w.WriteJSON(subscribeRequest{Type: "unsubscribe", ProductIDs: products, Channels: []string{"ticker", "heartbeat"}})
}

// OnPing sends a protocol ping. The heartbeat channel also keeps the session alive.
func (h *FeedHandler) OnPing(ctx context.Context, w infra.FeedWriter) error {
	return w.Ping()
}

// OnMessage decodes one frame.
func (h *FeedHandler) OnMessage(ctx context.Context, raw []byte) error {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%w: coinbase: %v", infra.ErrMalformed, err)
	}

	switch m.Type {
	case "ticker":
		price, err := quant.ParsePrice(m.Price)
		if err != nil {
			return fmt.Errorf("%w: coinbase %s: %v", infra.ErrMalformed, m.ProductID, err)
		}
		ts := quant.Now()
		if t, err := time.Parse(time.RFC3339Nano, m.Time); err == nil {
			ts = quant.FromTime(t)
		}
		infra.EmitQuote(h.inbox, infra.VenueCoinbase, m.ProductID, price, ts)
		return nil
	case "error":
		return fmt.Errorf("%w: coinbase: %s %s", infra.ErrUpstreamRejected, m.Message, m.Reason)
	default:
		// heartbeat, subscriptions
		return nil
	}
}

package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/goccy/go-json"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
	"kalshi_go/pkg/quant"
)

// Channels subscribed per market. Each market gets its own subscription so book sequence numbers are per instrument.
var marketChannels = []string{"orderbook_delta", "ticker"}

const lifecycleChannel = "market_lifecycle_v2"

// FeedHandler decodes the Kalshi market data websocket into engine events.
type FeedHandler struct {
	wsURL  string
	signer *Signer
	inbox  chan<- event.Event

	mu      sync.Mutex
	nextID  int64
	pending map[int64]string   // command id -> ticker
	sids    map[string][]int64 // ticker -> sids
	owners  map[int64]string   // sid -> ticker; "" once unsubscribed
}

// NewFeedHandler creates a handler. signer may be nil for unauthenticated endpoints.
func NewFeedHandler(wsURL string, signer *Signer, inbox chan<- event.Event) *FeedHandler {
	return &FeedHandler{
		wsURL:   wsURL,
		signer:  signer,
		inbox:   inbox,
		pending: make(map[int64]string),
		sids:    make(map[string][]int64),
		owners:  make(map[int64]string),
	}
}

func (h *FeedHandler) Venue() infra.Venue { return infra.VenueKalshi }
func (h *FeedHandler) URL() string        { return h.wsURL }

// Header signs GET + the websocket path.
func (h *FeedHandler) Header() (http.Header, error) {
	if h.signer == nil {
		return nil, nil
	}
	u, err := url.Parse(h.wsURL)
	if err != nil {
		return nil, err
	}
	return h.signer.Headers(http.MethodGet, u.Path)
}

// OnConnect subscribes to market lifecycle events.
func (h *FeedHandler) OnConnect(ctx context.Context, w infra.FeedWriter) error {
	return w.WriteJSON(command{ID: h.id(""), Cmd: "subscribe", Params: commandParams{Channels: []string{lifecycleChannel}}})
}

// Subscribe sends one subscribe command per ticker.
func (h *FeedHandler) Subscribe(w infra.FeedWriter, tickers []string) error {
	for _, t := range tickers {
		cmd := command{ID: h.id(t), Cmd: "subscribe", Params: commandParams{Channels: marketChannels, MarketTicker: t}}
		if err := w.WriteJSON(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe drops the subscriptions of tickers whose sids are known.
func (h *FeedHandler) Unsubscribe(w infra.FeedWriter, tickers []string) error {
	h.mu.Lock()
	var sids []int64
	for _, t := range tickers {
		sids = append(sids, h.sids[t]...)
		for _, sid := range h.sids[t] {
			h.owners[sid] = ""
		}
		delete(h.sids, t)
	}
	h.mu.Unlock()

	if len(sids) == 0 {
		return nil
	}
	return w.WriteJSON(command{ID: h.id(""), Cmd: "unsubscribe", Params: commandParams{SIDs: sids}})
}

// OnPing sends a protocol ping.
func (h *FeedHandler) OnPing(ctx context.Context, w infra.FeedWriter) error {
	return w.Ping()
}

// OnDisconnect forgets every sid; the next session gets new ones.
func (h *FeedHandler) OnDisconnect() {
	h.mu.Lock()
	h.pending = make(map[int64]string)
	h.sids = make(map[string][]int64)
	h.owners = make(map[int64]string)
	h.mu.Unlock()
}

// OnMessage decodes one frame and forwards book, ticker and lifecycle events.
func (h *FeedHandler) OnMessage(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: kalshi envelope: %v", infra.ErrMalformed, err)
	}

	switch env.Type {
	case "orderbook_snapshot":
		var m snapshotMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil || m.MarketTicker == "" {
			return malformed(env.Type, err)
		}
		if h.stale(env.SID, m.MarketTicker) {
			return nil
		}
		ev := &event.BookSnapshotEvent{
			Ticker: m.MarketTicker,
			Seq:    env.Seq,
			Yes:    levels(m.Yes),
			No:     levels(m.No),
		}
		ev.Ts = quant.Now()
		return h.push(ctx, ev, true)

	case "orderbook_delta":
		var m deltaMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil || m.MarketTicker == "" {
			return malformed(env.Type, err)
		}
		if h.stale(env.SID, m.MarketTicker) {
			return nil
		}
		side, err := domain.ParseSide(m.Side)
		if err != nil {
			return malformed(env.Type, err)
		}
		ev := &event.BookDeltaEvent{
			Ticker:      m.MarketTicker,
			Seq:         env.Seq,
			Side:        side,
			Price:       quant.Cents(m.Price),
			Qty:         int(m.Delta),
			Incremental: true,
		}
		ev.Ts = quant.Now()
		return h.push(ctx, ev, true)

	case "ticker", "ticker_v2":
		var m tickerMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil || m.MarketTicker == "" {
			return malformed(env.Type, err)
		}
		if h.stale(env.SID, m.MarketTicker) {
			return nil
		}
		ev := &event.TickerEvent{Ticker: m.MarketTicker, YesBid: quant.Cents(m.YesBid), YesAsk: quant.Cents(m.YesAsk)}
		ev.Ts = quant.Now()
		return h.push(ctx, ev, false)

	case lifecycleChannel:
		var m lifecycleMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil || m.MarketTicker == "" {
			return malformed(env.Type, err)
		}
		kind, ok := lifecycleKind(m.EventType)
		if !ok {
			return nil
		}
		ev := &event.LifecycleEvent{Ticker: m.MarketTicker, EventTicker: m.EventTicker, Kind: kind}
		ev.Ts = quant.Now()
		return h.push(ctx, ev, true)

	case "subscribed":
		var m subscribedMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return malformed(env.Type, err)
		}
		h.bind(env.ID, m.SID)
		return nil

	case "error":
		var m errorMsg
		json.Unmarshal(env.Msg, &m)
		return fmt.Errorf("%w: kalshi ws error %d: %s", infra.ErrUpstreamRejected, m.Code, m.Msg)

	default:
		// unsubscribed, ok, and channels we do not consume
		return nil
	}
}

// SIDs returns the known subscription ids of a ticker.
func (h *FeedHandler) SIDs(ticker string) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.sids[ticker]...)
}

func (h *FeedHandler) id(ticker string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	if ticker != "" {
		h.pending[h.nextID] = ticker
	}
	return h.nextID
}

// stale reports frames from a sid that was unsubscribed or belongs to another market.
// Sids not bound yet pass.
func (h *FeedHandler) stale(sid int64, ticker string) bool {
	if sid == 0 {
		return false
	}
	h.mu.Lock()
	owner, ok := h.owners[sid]
	h.mu.Unlock()
	return ok && owner != ticker
}

// bind attaches a sid to the ticker of the command that created it. Both channels of a market answer the same id.
func (h *FeedHandler) bind(cmdID, sid int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.pending[cmdID]
	if !ok {
		return
	}
	h.sids[t] = append(h.sids[t], sid)
	h.owners[sid] = t
	if len(h.sids[t]) >= len(marketChannels) {
		delete(h.pending, cmdID)
	}
}

// push delivers ev to the engine. Book and lifecycle events wait for room; ticker summaries are dropped when full.
func (h *FeedHandler) push(ctx context.Context, ev event.Event, mustDeliver bool) error {
	if !mustDeliver {
		select {
		case h.inbox <- ev:
		default:
		}
		return nil
	}
	select {
	case h.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func levels(raw [][2]int64) []event.Level {
	out := make([]event.Level, 0, len(raw))
	for _, l := range raw {
		out = append(out, event.Level{Price: quant.Cents(l[0]), Qty: int(l[1])})
	}
	return out
}

func lifecycleKind(t string) (event.LifecycleKind, bool) {
	switch t {
	case "created", "activated":
		return event.LifecycleActivated, true
	case "deactivated":
		return event.LifecycleDeactivated, true
	case "determined", "settled":
		return event.LifecycleSettled, true
	}
	return "", false
}

func malformed(typ string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: kalshi %s without market_ticker", infra.ErrMalformed, typ)
	}
	slog.Debug("Kalshi decode failed", slog.String("type", typ), slog.Any("error", err))
	return fmt.Errorf("%w: kalshi %s: %v", infra.ErrMalformed, typ, err)
}

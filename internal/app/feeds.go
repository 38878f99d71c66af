package app

import (
	"fmt"
	"log/slog"

	"kalshi_go/internal/api"
	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/infra/binance"
	"kalshi_go/internal/infra/coinbase"
	"kalshi_go/internal/infra/kalshi"
	"kalshi_go/internal/infra/kraken"
)

// NewFeedHandler builds the handler of one venue. The venue set is closed.
func NewFeedHandler(v infra.Venue, cfg *infra.Config, signer *kalshi.Signer, inbox chan<- event.Event) (infra.FeedHandler, error) {
	switch v {
	case infra.VenueKalshi:
		ws, _ := cfg.KalshiEndpoints()
		return kalshi.NewFeedHandler(ws, signer, inbox), nil
	case infra.VenueCoinbase:
		return coinbase.NewFeedHandler(cfg.Spot.Coinbase.WSURL, inbox), nil
	case infra.VenueBinance:
		return binance.NewFeedHandler(cfg.Spot.Binance.WSURL, inbox), nil
	case infra.VenueKraken:
		return kraken.NewFeedHandler(cfg.Spot.Kraken.WSURL, inbox), nil
	}
	return nil, fmt.Errorf("%w: unknown venue %q", infra.ErrInvalidConfig, v)
}

// FeedConfig returns the connection timings of venue v.
func FeedConfig(cfg *infra.Config, v infra.Venue) infra.FeedConfig {
	fc := infra.FeedConfig{
		HeartbeatInterval: cfg.Feed.Heartbeat(),
		HandshakeTimeout:  cfg.Feed.HandshakeTimeout(),
		WriteTimeout:      cfg.Feed.WriteTimeout(),
	}
	if v == infra.VenueKalshi {
		fc.MaxSession = cfg.Kalshi.MaxSession()
		fc.MaxAuthFailures = cfg.Kalshi.MaxAuthFailures
	}
	return fc
}

// SpotFeeds builds a connection per enabled spot venue, already subscribed to its symbol.
func SpotFeeds(cfg *infra.Config, inbox chan<- event.Event, metrics *infra.Metrics) ([]*infra.FeedConnection, error) {
	var out []*infra.FeedConnection
	for _, v := range infra.Venues {
		if !v.IsSpot() {
			continue
		}
		vc, _ := cfg.Spot.Venue(v)
		if !vc.Enabled {
			slog.Info("Spot venue disabled", slog.String("venue", string(v)))
			continue
		}
		h, err := NewFeedHandler(v, cfg, nil, inbox)
		if err != nil {
			return nil, err
		}
		conn := infra.NewFeedConnection(h, FeedConfig(cfg, v), metrics)
		if err := conn.Subscribe(vc.Symbol); err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, nil
}

// buildFeeds creates the Kalshi feed plus the enabled spot feeds. State changes reach the
// engine ordered with book events.
func (b *Bootstrap) buildFeeds() ([]*infra.FeedConnection, error) {
	inbox := b.Engine.Inbox()

	if b.Signer == nil {
		slog.Warn("⚠️ Kalshi feed is unsigned; the venue may reject the handshake")
	}
	h, err := NewFeedHandler(infra.VenueKalshi, b.Config, b.Signer, inbox)
	if err != nil {
		return nil, err
	}
	kalshiFeed := infra.NewFeedConnection(h, FeedConfig(b.Config, infra.VenueKalshi), b.Metrics)
	b.Engine.SetSubscriber(kalshiFeed)

	spot, err := SpotFeeds(b.Config, inbox, b.Metrics)
	if err != nil {
		return nil, err
	}

	feeds := append([]*infra.FeedConnection{kalshiFeed}, spot...)
	for _, f := range feeds {
		f.OnState = b.onFeedState
	}
	return feeds, nil
}

func (b *Bootstrap) onFeedState(v infra.Venue, s infra.FeedState) {
	slog.Info("Feed state", slog.String("venue", string(v)), slog.String("state", s.String()))
	b.Engine.OnFeedState(v, s)
}

func (b *Bootstrap) feedStatuses() []api.FeedStatus {
	return FeedStatuses(b.Feeds)
}

// FeedStatuses reports every connection for the ops API.
func FeedStatuses(feeds []*infra.FeedConnection) []api.FeedStatus {
	out := make([]api.FeedStatus, 0, len(feeds))
	for _, f := range feeds {
		st := f.State()
		out = append(out, api.FeedStatus{
			Venue:         string(f.Venue()),
			State:         st.String(),
			Live:          st.Live() && !f.Halted(),
			Halted:        f.Halted(),
			LastHeartbeat: f.LastHeartbeat(),
			Subscriptions: len(f.Subscriptions()),
		})
	}
	return out
}

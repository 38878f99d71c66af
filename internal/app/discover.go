package app

import (
	"context"
	"fmt"
	"log/slog"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/infra/kalshi"
)

// MarketLister lists the markets of a series.
type MarketLister interface {
	Markets(ctx context.Context, series, status string) ([]kalshi.Market, error)
}

// Tracker accepts markets before the engine starts.
type Tracker interface {
	Track(info domain.MarketInfo, binary bool)
}

// DiscoverSeries tracks every open market of each series as a binary contract.
// Later listings arrive through lifecycle events.
func DiscoverSeries(ctx context.Context, markets MarketLister, series []string, t Tracker) (int, error) {
	var n int
	for _, s := range series {
		list, err := markets.Markets(ctx, s, "open")
		if err != nil {
			return n, fmt.Errorf("discover %s: %w", s, err)
		}
		for _, m := range list {
			t.Track(domain.MarketInfo{
				Ticker:      m.Ticker,
				EventTicker: m.EventTicker,
				Status:      domain.MarketActive,
			}, true)
			n++
		}
		slog.Debug("Series discovered", slog.String("series", s), slog.Int("markets", len(list)))
	}
	return n, nil
}

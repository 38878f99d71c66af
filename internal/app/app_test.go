package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/infra/kalshi"
	"kalshi_go/pkg/quant"
)

func ptr(v float64) *float64 { return &v }

func TestConfigTranslation(t *testing.T) {
	cfg := infra.DefaultConfig()
	cfg.Spot.Kraken.Enabled = false
	cfg.Kalshi.Events = []infra.EventConfig{{
		EventTicker: "KXHIGHNY-26OCT16",
		Brackets: []infra.BracketConfig{
			{Ticker: "KXHIGHNY-26OCT16-B60", High: ptr(60)},
			{Ticker: "KXHIGHNY-26OCT16-T60", Low: ptr(60)},
		},
	}}

	agg := AggregatorConfig(cfg)
	assert.Equal(t, map[string]float64{"coinbase": 0.30, "binance": 0.25}, agg.Weights)
	assert.Equal(t, 5*time.Second, agg.StaleAfter)

	sc := SignalConfig(cfg)
	assert.Equal(t, 15*time.Minute, sc.MomentumLookback)
	assert.Equal(t, 0.05, sc.EdgeThreshold)
	assert.Equal(t, 0.01, sc.MinProb)

	rc := RiskConfig(cfg)
	assert.True(t, rc.MaxPositionDollars.Equal(decimal.NewFromInt(50)))
	assert.True(t, rc.MaxPortfolioDollars.Equal(decimal.NewFromInt(500)))

	ec := SchedulerConfig(cfg)
	assert.Equal(t, quant.Cents(99), ec.MaxPrice)
	assert.Equal(t, 10*time.Minute, ec.Cooldown)
	assert.True(t, ec.Bankroll.Equal(decimal.NewFromInt(500)))

	eng := EngineConfig(cfg)
	assert.Equal(t, 2*time.Second, eng.EvalInterval)
	assert.Equal(t, 30*time.Minute, eng.HistorySpan)
	require.Len(t, eng.Events["KXHIGHNY-26OCT16"], 2)
	assert.Nil(t, eng.Events["KXHIGHNY-26OCT16"][0].Low)
	assert.Equal(t, 60.0, *eng.Events["KXHIGHNY-26OCT16"][0].High)
}

type fakeLister struct {
	markets map[string][]kalshi.Market
	err     error
}

func (f fakeLister) Markets(_ context.Context, series, status string) ([]kalshi.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.markets[series], nil
}

type trackRecorder struct{ tracked []domain.MarketInfo }

func (r *trackRecorder) Track(info domain.MarketInfo, binary bool) {
	if binary {
		r.tracked = append(r.tracked, info)
	}
}

func TestDiscoverSeries(t *testing.T) {
	lister := fakeLister{markets: map[string][]kalshi.Market{
		"KXBTCD": {
			{Ticker: "KXBTCD-26OCT1617-T67000", EventTicker: "KXBTCD-26OCT1617", Status: "active"},
			{Ticker: "KXBTCD-26OCT1617-T67500", EventTicker: "KXBTCD-26OCT1617", Status: "active"},
		},
	}}
	rec := &trackRecorder{}

	n, err := DiscoverSeries(context.Background(), lister, []string{"KXBTCD", "KXETHD"}, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, rec.tracked, 2)
	assert.Equal(t, domain.MarketActive, rec.tracked[0].Status)
	assert.Equal(t, "KXBTCD-26OCT1617", rec.tracked[1].EventTicker)

	boom := errors.New("boom")
	_, err = DiscoverSeries(context.Background(), fakeLister{err: boom}, []string{"KXBTCD"}, rec)
	assert.ErrorIs(t, err, boom)
}

func TestNewFeedHandler(t *testing.T) {
	cfg := infra.DefaultConfig()
	inbox := make(chan event.Event, 1)

	for _, v := range infra.Venues {
		h, err := NewFeedHandler(v, cfg, nil, inbox)
		require.NoError(t, err, v)
		assert.Equal(t, v, h.Venue())
	}

	_, err := NewFeedHandler(infra.Venue("BITSTAMP"), cfg, nil, inbox)
	assert.ErrorIs(t, err, infra.ErrInvalidConfig)
}

func TestFeedConfig(t *testing.T) {
	cfg := infra.DefaultConfig()
	cfg.Kalshi.MaxSessionSec = 3600
	cfg.Kalshi.MaxAuthFailures = 5

	k := FeedConfig(cfg, infra.VenueKalshi)
	assert.Equal(t, time.Hour, k.MaxSession)
	assert.Equal(t, 5, k.MaxAuthFailures)
	assert.Equal(t, 30*time.Second, k.HeartbeatInterval)

	c := FeedConfig(cfg, infra.VenueCoinbase)
	assert.Zero(t, c.MaxSession)
	assert.Zero(t, c.MaxAuthFailures)
}

func TestSpotFeeds(t *testing.T) {
	cfg := infra.DefaultConfig()
	cfg.Spot.Binance.Enabled = false

	feeds, err := SpotFeeds(cfg, make(chan event.Event, 1), nil)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, infra.VenueCoinbase, feeds[0].Venue())
	assert.Equal(t, []string{"BTC-USD"}, feeds[0].Subscriptions())
	assert.Equal(t, infra.VenueKraken, feeds[1].Venue())

	statuses := FeedStatuses(feeds)
	require.Len(t, statuses, 2)
	assert.Equal(t, "KRAKEN", statuses[1].Venue)
	assert.False(t, statuses[1].Live)
	assert.Equal(t, 1, statuses[1].Subscriptions)
}

package app

import (
	"time"

	"github.com/shopspring/decimal"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/domain"
	"kalshi_go/internal/engine"
	"kalshi_go/internal/execution"
	"kalshi_go/internal/infra"
	"kalshi_go/internal/risk"
	"kalshi_go/internal/signal"
	"kalshi_go/pkg/quant"
)

// AggregatorConfig maps the enabled spot venues onto aggregator weights.
func AggregatorConfig(cfg *infra.Config) aggregator.Config {
	return aggregator.Config{
		Weights:               cfg.Spot.Weights(),
		StaleAfter:            cfg.Aggregator.StaleAfter(),
		SingleSourceAgreement: cfg.Aggregator.SingleSourceAgreement,
		DispersionFreeBps:     cfg.Aggregator.DispersionFreeBps,
		DispersionZeroBps:     cfg.Aggregator.DispersionZeroBps,
	}
}

func SignalConfig(cfg *infra.Config) signal.Config {
	sc := signal.DefaultConfig()
	sc.EdgeThreshold = cfg.Signal.EdgeThreshold
	sc.ConfidenceThreshold = cfg.Signal.ConfidenceThreshold
	sc.TargetQty = cfg.Signal.TargetQty
	sc.MomentumLookback = time.Duration(cfg.Signal.MomentumLookbackMin) * time.Minute
	sc.MomentumDivisorBps = cfg.Signal.MomentumDivisorBps
	sc.MaxShift = cfg.Signal.MaxShift
	sc.FullSampleCount = cfg.Signal.FullSampleCount
	return sc
}

func RiskConfig(cfg *infra.Config) risk.Config {
	return risk.Config{
		KellyScale:             cfg.Trading.KellyScale,
		MaxPositionDollars:     decimal.NewFromFloat(cfg.Trading.MaxPositionDollars),
		MaxPortfolioDollars:    decimal.NewFromFloat(cfg.Trading.MaxPortfolioDollars),
		DefaultFillProbability: cfg.Trading.DefaultFillProbability,
	}
}

func SchedulerConfig(cfg *infra.Config) execution.Config {
	e := cfg.Execution
	return execution.Config{
		MaxOrdersPerCycle:   e.MaxOrdersPerCycle,
		Cooldown:            e.Cooldown(),
		MinPrice:            quant.Cents(e.MinPriceCents),
		MaxPrice:            quant.Cents(e.MaxPriceCents),
		QueueDepthThreshold: e.QueueDepthThreshold,
		QueueCheckInterval:  e.QueueCheck(),
		RepriceMax:          e.RepriceMax,
		RepriceWindow:       e.RepriceWindow(),
		RepriceCooldown:     e.RepriceCooldown(),
		EdgeDecayAlertBps:   e.EdgeDecayAlertBps,
		Bankroll:            decimal.NewFromFloat(cfg.Trading.Bankroll),
		CallTimeout:         e.CallTimeout(),
	}
}

// EngineConfig collects the tracked markets. Brackets keep their configured bounds.
func EngineConfig(cfg *infra.Config) engine.Config {
	events := make(map[string][]domain.MarketInfo, len(cfg.Kalshi.Events))
	for _, ev := range cfg.Kalshi.Events {
		for _, b := range ev.Brackets {
			events[ev.EventTicker] = append(events[ev.EventTicker], domain.MarketInfo{
				Ticker:      b.Ticker,
				EventTicker: ev.EventTicker,
				Low:         b.Low,
				High:        b.High,
			})
		}
	}
	return engine.Config{
		EvalInterval:   cfg.Signal.EvalInterval(),
		BinaryMarkets:  cfg.Kalshi.BinaryMarkets,
		TrackSeries:    cfg.Kalshi.TrackSeries,
		Events:         events,
		HistorySpan:    time.Duration(cfg.Aggregator.HistoryMinutes) * time.Minute,
		HistoryRes:     time.Second,
		MinArbProfitCt: cfg.Arbitrage.MinNetProfitCents,
	}
}

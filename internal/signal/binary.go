package signal

import (
	"time"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/domain"
	"kalshi_go/pkg/quant"
	"kalshi_go/pkg/safe"
)

// BinaryModel is the momentum-calibrated probability of the "up" outcome.
type BinaryModel struct {
	Prob        float64
	Confidence  float64
	MomentumBps float64
	Anchor      float64
	Latest      float64
}

// Binary derives the up probability from the fused fair value and its momentum over the lookback.
// Without an anchor old enough, momentum is zero and the model sits at 0.5.
func (e *Engine) Binary(latest aggregator.Estimate, hist *aggregator.History, now time.Time) (BinaryModel, bool) {
	if !latest.Valid() {
		return BinaryModel{}, false
	}
	fair := latest.Value.InexactFloat64()
	anchor := aggregator.Sample{Value: fair, Confidence: latest.Confidence}
	if hist != nil {
		if s, ok := hist.At(now.Add(-e.cfg.MomentumLookback)); ok && s.Value > 0 {
			anchor = s
		}
	}

	momentum := quant.ToBps(fair/anchor.Value - 1)
	shift := safe.Clamp(momentum/e.cfg.MomentumDivisorBps, -e.cfg.MaxShift, e.cfg.MaxShift)
	return BinaryModel{
		Prob:        safe.Clamp(0.5+shift, e.cfg.MinProb, e.cfg.MaxProb),
		Confidence:  safe.Clamp01((latest.Confidence + anchor.Confidence) / 2),
		MomentumBps: momentum,
		Anchor:      anchor.Value,
		Latest:      fair,
	}, true
}

// EvaluateBinary produces signals for every tracked up/down market.
func (e *Engine) EvaluateBinary(tickers []string, latest aggregator.Estimate, hist *aggregator.History, books BookReader, now time.Time) []domain.Signal {
	model, ok := e.Binary(latest, hist, now)
	if !ok {
		return nil
	}
	out := make([]domain.Signal, 0, len(tickers))
	for _, t := range tickers {
		book, ok := books.Snapshot(t)
		if !ok {
			continue
		}
		sig, ok := e.Assess(t, domain.ModeBinary, model.Prob, model.Confidence, book, now)
		if !ok {
			continue
		}
		out = append(out, sig)
	}
	return out
}

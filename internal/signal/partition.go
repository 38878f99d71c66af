package signal

import (
	"math"
	"time"

	"kalshi_go/internal/domain"
)

// BracketProbabilities returns, per bracket ticker, the fraction of draws in [low, high).
// For exhaustive, non-overlapping brackets the values sum to 1.
func BracketProbabilities(draws []float64, brackets []domain.MarketInfo) map[string]float64 {
	out := make(map[string]float64, len(brackets))
	if len(draws) == 0 {
		return out
	}
	for _, b := range brackets {
		hits := 0
		for _, v := range draws {
			if b.Contains(v) {
				hits++
			}
		}
		out[b.Ticker] = float64(hits) / float64(len(draws))
	}
	return out
}

// partitionConfidence scales with ensemble size and with edge relative to three thresholds.
func (e *Engine) partitionConfidence(samples int, edge float64) float64 {
	full := e.cfg.FullSampleCount
	if full <= 0 {
		full = 1
	}
	sampleStrength := math.Min(1, float64(samples)/float64(full))
	edgeStrength := math.Min(1, math.Abs(edge)/math.Max(e.cfg.EdgeThreshold*3, 1e-4))
	return sampleStrength * edgeStrength
}

// EvaluatePartition produces signals for every bracket of one partitioned event.
func (e *Engine) EvaluatePartition(eventTicker string, draws []float64, brackets []domain.MarketInfo, books BookReader, now time.Time) []domain.Signal {
	probs := BracketProbabilities(draws, brackets)
	if len(probs) == 0 {
		return nil
	}
	out := make([]domain.Signal, 0, len(brackets))
	for _, b := range brackets {
		book, ok := books.Snapshot(b.Ticker)
		if !ok {
			continue
		}
		sig, ok := e.Evaluate(b.Ticker, domain.ModePartition, probs[b.Ticker], book, now)
		if !ok {
			continue
		}
		sig.EventTicker = eventTicker
		out = append(out, e.finalize(sig, e.partitionConfidence(len(draws), sig.Edge)))
	}
	return out
}

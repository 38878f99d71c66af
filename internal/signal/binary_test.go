package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/aggregator"
	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/pkg/quant"
)

func estimate(v, conf float64, at time.Time) aggregator.Estimate {
	return aggregator.Estimate{
		Value:      decimal.NewFromFloat(v),
		Confidence: conf,
		Sources:    []string{"coinbase"},
		Ts:         quant.FromTime(at),
	}
}

func TestBinary_Momentum(t *testing.T) {
	tests := []struct {
		name   string
		anchor float64
		latest float64
		prob   float64
	}{
		{"flat", 100_000, 100_000, 0.5},
		{"up 40bps", 100_000, 100_400, 0.55},
		{"down 80bps", 100_000, 99_200, 0.4},
		{"capped up", 100_000, 110_000, 0.85},
		{"capped down", 100_000, 90_000, 0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := aggregator.NewHistory(30*time.Minute, time.Second)
			h.Record(estimate(tt.anchor, 0.8, now.Add(-16*time.Minute)))
			h.Record(estimate(tt.latest, 0.6, now))

			m, ok := testEngine().Binary(estimate(tt.latest, 0.6, now), h, now)
			require.True(t, ok)
			assert.InDelta(t, tt.prob, m.Prob, 1e-9)
			assert.InDelta(t, 0.7, m.Confidence, 1e-9)
			assert.InDelta(t, tt.anchor, m.Anchor, 1e-9)
		})
	}
}

func TestBinary_NoAnchorFallsBackToLatest(t *testing.T) {
	h := aggregator.NewHistory(30*time.Minute, time.Second)
	h.Record(estimate(101_000, 0.9, now.Add(-time.Minute)))

	m, ok := testEngine().Binary(estimate(102_000, 0.9, now), h, now)
	require.True(t, ok)
	assert.Equal(t, 0.0, m.MomentumBps)
	assert.Equal(t, 0.5, m.Prob)
}

func TestBinary_InvalidEstimate(t *testing.T) {
	_, ok := testEngine().Binary(aggregator.Estimate{}, nil, now)
	assert.False(t, ok)
}

func TestEvaluateBinary_SkipsMissingBooks(t *testing.T) {
	r := bookWith(t, "KXBTC-A", nil, []event.Level{{Price: 42, Qty: 5}})
	h := aggregator.NewHistory(30*time.Minute, time.Second)
	h.Record(estimate(100_000, 1, now.Add(-20*time.Minute)))

	sigs := testEngine().EvaluateBinary([]string{"KXBTC-A", "KXBTC-MISSING"}, estimate(101_000, 1, now), h, r, now)
	require.Len(t, sigs, 1)
	assert.Equal(t, "KXBTC-A", sigs[0].Ticker)
	assert.Equal(t, domain.ModeBinary, sigs[0].Mode)
	// 100bps of momentum -> 0.625
	assert.InDelta(t, 0.625, sigs[0].ModelProb, 1e-9)
}

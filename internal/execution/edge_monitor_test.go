package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/domain"
)

func pos(ticker string, side domain.Side) domain.Position {
	return domain.Position{Ticker: ticker, Side: side, Size: 5, CostCents: 200}
}

func TestEdgeDecayAlerts(t *testing.T) {
	positions := []domain.Position{
		pos("KX-FLIP", domain.SideYes),
		pos("KX-DECAY", domain.SideNo),
		pos("KX-OK", domain.SideYes),
		pos("KX-GONE", domain.SideYes),
		pos("KX-HEDGED", domain.SideYes),
		pos("KX-HEDGED", domain.SideNo),
		pos("KX-INACTIVE", domain.SideYes),
	}
	signals := map[string]domain.Signal{
		"KX-FLIP":   {Ticker: "KX-FLIP", Direction: domain.BuyNo, Edge: -0.08},
		"KX-DECAY":  {Ticker: "KX-DECAY", Direction: domain.Flat, Edge: -0.01},
		"KX-OK":     {Ticker: "KX-OK", Direction: domain.BuyYes, Edge: 0.09},
		"KX-HEDGED": {Ticker: "KX-HEDGED", Direction: domain.BuyNo, Edge: -0.2},
	}
	active := map[string]bool{"KX-FLIP": true, "KX-DECAY": true, "KX-OK": true, "KX-GONE": true, "KX-HEDGED": true}

	alerts := EdgeDecayAlerts(positions, signals, 150, active)
	require.Len(t, alerts, 3)

	assert.Equal(t, domain.AlertFlipped, alerts[0].Kind)
	assert.Equal(t, "KX-FLIP", alerts[0].Ticker)
	assert.InDelta(t, -800, alerts[0].EdgeBps, 1e-6)

	assert.Equal(t, domain.AlertDecayed, alerts[1].Kind)
	assert.Equal(t, "KX-DECAY", alerts[1].Ticker)

	assert.Equal(t, domain.AlertNoSignal, alerts[2].Kind)
	assert.Equal(t, "KX-GONE", alerts[2].Ticker)
}

func TestEdgeDecayAlerts_NoSignalOncePerTicker(t *testing.T) {
	positions := []domain.Position{pos("KX-A", domain.SideYes), pos("KX-A", domain.SideYes)}
	alerts := EdgeDecayAlerts(positions, nil, 150, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertNoSignal, alerts[0].Kind)
}

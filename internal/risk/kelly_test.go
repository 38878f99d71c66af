package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"kalshi_go/internal/domain"
	"kalshi_go/pkg/quant"
)

func TestKellyFraction(t *testing.T) {
	tests := []struct {
		name  string
		m     float64
		price quant.Cents
		want  float64
	}{
		{"positive edge", 0.6, 50, 0.2},
		{"negative edge", 0.4, 50, 0},
		{"zero edge", 0.5, 50, 0},
		{"cheap contract", 0.8, 20, 0.75},
		{"clamped prob", 1.5, 50, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, KellyFraction(tt.m, tt.price), 1e-9)
		})
	}
}

func TestKellyFraction_ZeroWhenNoAdvantage(t *testing.T) {
	for p := quant.MinCents; p <= quant.MaxCents; p++ {
		for i := 0; i <= 100; i++ {
			m := float64(i) / 100
			win := float64(100 - p)
			loss := float64(p)
			if m*win <= (1-m)*loss {
				assert.Equal(t, 0.0, KellyFraction(m, p), "m=%v p=%d", m, p)
			}
		}
	}
}

func req(yes float64, side domain.Side, price quant.Cents) Request {
	return Request{
		Side:            side,
		Price:           price,
		YesProb:         yes,
		Confidence:      1,
		FillProbability: 1,
		Bankroll:        decimal.NewFromInt(500),
	}
}

func TestSizer_RespectsMaxPosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionDollars = decimal.NewFromInt(10)
	n := NewSizer(cfg).Contracts(req(0.8, domain.SideYes, 20))
	assert.Equal(t, 50, n) // $10 / $0.20
}

func TestSizer_RespectsPortfolioCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPortfolioDollars = decimal.NewFromInt(100)
	r := req(0.8, domain.SideYes, 50)
	r.Exposure = decimal.NewFromInt(97)
	assert.Equal(t, 6, NewSizer(cfg).Contracts(r))

	r.Exposure = decimal.NewFromInt(120)
	assert.Equal(t, 0, NewSizer(cfg).Contracts(r))
}

func TestSizer_FillProbabilityScales(t *testing.T) {
	s := NewSizer(DefaultConfig())
	high := req(0.75, domain.SideYes, 40)
	low := high
	low.FillProbability = 0.2
	assert.Greater(t, s.Contracts(high), s.Contracts(low))
}

func TestSizer_NoSide(t *testing.T) {
	s := NewSizer(DefaultConfig())
	// YES prob 0.3 -> NO prob 0.7 bought at 40.
	assert.Positive(t, s.Contracts(req(0.3, domain.SideNo, 40)))
	assert.Equal(t, 0, s.Contracts(req(0.7, domain.SideNo, 40)))
}

func TestSizer_ZeroInputs(t *testing.T) {
	s := NewSizer(DefaultConfig())

	r := req(0.75, domain.SideYes, 40)
	r.Bankroll = decimal.Zero
	r.Exposure = decimal.NewFromInt(500)
	assert.Equal(t, 0, s.Contracts(r), "no headroom")

	r = req(0.75, domain.SideYes, 40)
	r.Confidence = 0
	assert.Equal(t, 0, s.Contracts(r))

	r = req(0.75, domain.SideYes, 0)
	assert.Equal(t, 0, s.Contracts(r))
}

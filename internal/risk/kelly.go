package risk

import (
	"github.com/shopspring/decimal"

	"kalshi_go/internal/domain"
	"kalshi_go/pkg/quant"
	"kalshi_go/pkg/safe"
)

// KellyFraction is f* = (m*win - (1-m)*loss) / win for a contract bought at price cents,
// where m is the probability that the bought side pays out. Never negative.
func KellyFraction(m float64, price quant.Cents) float64 {
	m = safe.Clamp01(m)
	price = quant.ClampCents(price)
	win := float64(quant.Payout - price)
	loss := float64(price)
	edge := m*win - (1-m)*loss
	if win <= 0 || edge <= 0 {
		return 0
	}
	return edge / win
}

// SideProbability converts a YES-perspective model probability into the bought side's.
func SideProbability(yesProb float64, side domain.Side) float64 {
	if side == domain.SideNo {
		return 1 - yesProb
	}
	return yesProb
}

// Config holds the sizing multipliers and exposure caps.
type Config struct {
	KellyScale             float64
	MaxPositionDollars     decimal.Decimal
	MaxPortfolioDollars    decimal.Decimal
	DefaultFillProbability float64
}

// DefaultConfig is quarter-Kelly with a $50 per-market and $500 portfolio cap.
func DefaultConfig() Config {
	return Config{
		KellyScale:             0.25,
		MaxPositionDollars:     decimal.NewFromInt(50),
		MaxPortfolioDollars:    decimal.NewFromInt(500),
		DefaultFillProbability: 0.5,
	}
}

// Request describes one candidate entry.
type Request struct {
	Side            domain.Side
	Price           quant.Cents // Price paid for Side
	YesProb         float64
	Confidence      float64
	FillProbability float64
	Bankroll        decimal.Decimal // Non-positive falls back to the portfolio cap
	Exposure        decimal.Decimal // Current open exposure across all markets
}

// Sizer converts edge into an integer contract count.
type Sizer struct {
	cfg Config
}

// NewSizer creates a sizer.
func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// TargetDollars returns the capped dollar exposure for req.
func (s *Sizer) TargetDollars(req Request) decimal.Decimal {
	kelly := KellyFraction(SideProbability(req.YesProb, req.Side), req.Price)
	if kelly <= 0 {
		return decimal.Zero
	}
	mult := kelly * safe.Clamp01(req.FillProbability) * s.cfg.KellyScale * safe.Clamp01(req.Confidence)
	if mult <= 0 {
		return decimal.Zero
	}

	bankroll := req.Bankroll
	if !bankroll.IsPositive() {
		bankroll = s.cfg.MaxPortfolioDollars
	}
	target := bankroll.Mul(decimal.NewFromFloat(mult))
	target = decimal.Min(target, s.cfg.MaxPositionDollars)

	headroom := s.cfg.MaxPortfolioDollars.Sub(req.Exposure)
	if headroom.IsNegative() {
		headroom = decimal.Zero
	}
	return decimal.Min(target, headroom)
}

// Contracts returns how many contracts to buy; zero means no order.
func (s *Sizer) Contracts(req Request) int {
	target := s.TargetDollars(req)
	if !target.IsPositive() || !req.Price.Valid() {
		return 0
	}
	n := target.Div(req.Price.Dollars()).IntPart()
	if n <= 0 {
		return 0
	}
	return int(n)
}

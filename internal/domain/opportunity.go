package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"kalshi_go/pkg/quant"
)

// ArbType identifies which outcome is bought on every leg.
type ArbType string

const (
	ArbAllYes ArbType = "all_yes"
	ArbAllNo  ArbType = "all_no"
)

// ArbLeg is one contract bought as part of a completed set.
type ArbLeg struct {
	Ticker   string      `json:"ticker"`
	Side     Side        `json:"side"`
	Price    quant.Cents `json:"price_cents"`
	Depth    int         `json:"depth"`
	FeeCents int         `json:"fee_cents"`
}

// ArbitrageOpportunity is a structural, fee-adjusted risk-free trade across a mutually exclusive event.
// Profit fields are per completed set unless stated otherwise.
type ArbitrageOpportunity struct {
	EventTicker      string    `json:"event_ticker"`
	Type             ArbType   `json:"type"`
	Legs             []ArbLeg  `json:"legs"`
	CostCents        int       `json:"cost_cents"`
	PayoutCents      int       `json:"payout_cents"`
	GrossProfitCents int       `json:"gross_profit_cents"`
	FeeCents         int       `json:"fee_cents"`
	NetProfitCents   int       `json:"net_profit_cents"`
	MaxSets          int       `json:"max_sets"`
	DetectedAt       time.Time `json:"detected_at"`
}

// TotalNetDollars is the net profit across every completable set.
func (a ArbitrageOpportunity) TotalNetDollars() decimal.Decimal {
	return quant.CentsToDollars(int64(a.NetProfitCents) * int64(a.MaxSets))
}

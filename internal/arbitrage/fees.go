package arbitrage

import (
	"github.com/shopspring/decimal"

	"kalshi_go/pkg/quant"
)

// TakerFeeCents is ceil(0.07 x p x (1-p) x 100) for p = price/100, at least one cent.
// Integer arithmetic keeps the ceiling exact: 7 x c x (100-c) / 10000.
func TakerFeeCents(price quant.Cents) int {
	c := int(quant.ClampCents(price))
	fee := (7*c*(100-c) + 9999) / 10000
	if fee < 1 {
		return 1
	}
	return fee
}

// MakerFeeCents is zero on every price.
func MakerFeeCents(quant.Cents) int {
	return 0
}

// TakerFeeDollars is the taker fee per contract in dollars.
func TakerFeeDollars(price quant.Cents) decimal.Decimal {
	return quant.CentsToDollars(int64(TakerFeeCents(price)))
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"kalshi_go/pkg/quant"
)

// Position represents contracts held on one side of one instrument.
type Position struct {
	Ticker    string    `json:"ticker"`
	Side      Side      `json:"side"`
	Size      int       `json:"size"`
	CostCents int64     `json:"cost_cents"` // Sum of fill price * qty.
	EntryEdge float64   `json:"entry_edge"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// ApplyFill adds qty contracts bought at price.
func (p *Position) ApplyFill(price quant.Cents, qty int, now time.Time) {
	if qty <= 0 {
		return
	}
	if p.Size == 0 {
		p.OpenedAt = now
	}
	p.Size += qty
	p.CostCents += int64(price) * int64(qty)
}

// EntryPrice returns the average entry price in cents.
func (p *Position) EntryPrice() float64 {
	if p.Size == 0 {
		return 0
	}
	return float64(p.CostCents) / float64(p.Size)
}

// ExposureDollars is the capital at risk in the position.
func (p *Position) ExposureDollars() decimal.Decimal {
	return quant.CentsToDollars(p.CostCents)
}

// Close marks the position as exited.
func (p *Position) Close(now time.Time) {
	p.Size = 0
	p.CostCents = 0
	p.ClosedAt = now
}

// IsOpen checks if contracts are still held.
func (p *Position) IsOpen() bool {
	return p.Size > 0
}

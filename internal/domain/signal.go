package domain

import (
	"time"

	"kalshi_go/pkg/quant"
)

// SignalMode identifies how the model probability was produced.
type SignalMode string

const (
	ModeBinary    SignalMode = "binary"
	ModePartition SignalMode = "partition"
)

// Signal is one evaluation of model vs. market for one instrument.
// It is a value type; the next cycle's signal for the same instrument supersedes it.
type Signal struct {
	Ticker      string     `json:"ticker"`
	EventTicker string     `json:"event_ticker,omitempty"`
	Mode        SignalMode `json:"mode"`
	Direction   Direction  `json:"direction"`
	ModelProb   float64    `json:"model_probability"`
	MarketProb  float64    `json:"market_probability"` // YES-implied, from the fill VWAP
	Edge        float64    `json:"edge"`               // Signed, YES perspective
	Confidence  float64    `json:"confidence"`
	VWAPCents   float64    `json:"vwap_cents"`
	FillableQty int        `json:"fillable_qty"`
	TargetQty   int        `json:"target_qty"`
	Actionable  bool       `json:"actionable"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EdgeBps returns the edge in basis points.
func (s Signal) EdgeBps() float64 {
	return quant.ToBps(s.Edge)
}

// AbsEdge returns |edge|.
func (s Signal) AbsEdge() float64 {
	if s.Edge < 0 {
		return -s.Edge
	}
	return s.Edge
}

// EntryPriceCents returns the limit price implied by the VWAP on the signal's side.
func (s Signal) EntryPriceCents() quant.Cents {
	return quant.ClampCents(quant.Cents(s.VWAPCents + 0.5))
}

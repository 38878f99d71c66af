package orderbook

import (
	"kalshi_go/internal/domain"
	"kalshi_go/pkg/quant"
)

const (
	defaultDivergenceCents   = 2
	defaultDivergenceStrikes = 3
)

// DivergenceMonitor cross-checks reconciled books against the venue's own ticker summary.
// A book that disagrees for Strikes consecutive observations is considered desynced.
type DivergenceMonitor struct {
	MaxCents quant.Cents
	Strikes  int

	counts map[string]int
}

// NewDivergenceMonitor uses a 2 cent tolerance and 3 strikes.
func NewDivergenceMonitor() *DivergenceMonitor {
	return &DivergenceMonitor{
		MaxCents: defaultDivergenceCents,
		Strikes:  defaultDivergenceStrikes,
		counts:   make(map[string]int),
	}
}

// Observe records one ticker reading and reports whether the book should be resynced.
func (d *DivergenceMonitor) Observe(book Book, tickerYesBid quant.Cents) bool {
	if tickerYesBid <= 0 {
		return false
	}
	bid, ok := book.BestBid(domain.SideYes)
	if !ok {
		return false
	}
	diff := bid - tickerYesBid
	if diff < 0 {
		diff = -diff
	}
	if diff <= d.MaxCents {
		delete(d.counts, book.Ticker)
		return false
	}
	d.counts[book.Ticker]++
	if d.counts[book.Ticker] >= d.Strikes {
		delete(d.counts, book.Ticker)
		return true
	}
	return false
}

// Forget clears strikes for a removed instrument.
func (d *DivergenceMonitor) Forget(ticker string) {
	delete(d.counts, ticker)
}

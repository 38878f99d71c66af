package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kalshi_go/internal/domain"
	"kalshi_go/pkg/quant"
)

type positionKey struct {
	ticker string
	side   domain.Side
}

// PositionBook holds open positions. The scheduler is the only writer; readers get copies.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[positionKey]*domain.Position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[positionKey]*domain.Position)}
}

// ApplyFill adds a fill to the (ticker, side) position, opening it if needed.
func (b *PositionBook) ApplyFill(ticker string, side domain.Side, price quant.Cents, qty int, edge float64, now time.Time) {
	if qty <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	k := positionKey{ticker, side}
	p, ok := b.positions[k]
	if !ok {
		p = &domain.Position{Ticker: ticker, Side: side, EntryEdge: edge}
		b.positions[k] = p
	}
	p.ApplyFill(price, qty, now)
}

// CloseTicker closes every side of a settled instrument and returns the closed positions.
func (b *PositionBook) CloseTicker(ticker string, now time.Time) []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Position
	for _, s := range []domain.Side{domain.SideYes, domain.SideNo} {
		k := positionKey{ticker, s}
		if p, ok := b.positions[k]; ok {
			closed := *p
			p.Close(now)
			delete(b.positions, k)
			out = append(out, closed)
		}
	}
	return out
}

// Open returns copies of open positions ordered by ticker then side.
func (b *PositionBook) Open() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticker != out[j].Ticker {
			return out[i].Ticker < out[j].Ticker
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// Exposure sums the capital at risk across open positions.
func (b *PositionBook) Exposure() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.ExposureDollars())
	}
	return total
}

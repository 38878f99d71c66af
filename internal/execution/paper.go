package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"kalshi_go/internal/domain"
)

type paperOrder struct {
	id     string
	req    PlaceRequest
	status domain.OrderStatus
	filled int
	ahead  int // Contracts queued in front at our price
}

// PaperPlacer simulates a maker-only venue against the live reconciled books.
// Orders rest with the book's displayed quantity ahead of them and fill when the opposing side crosses.
type PaperPlacer struct {
	books BookReader

	mu     sync.Mutex
	seq    int
	orders map[string]*paperOrder
}

// NewPaperPlacer creates a simulator reading from books.
func NewPaperPlacer(books BookReader) *PaperPlacer {
	return &PaperPlacer{books: books, orders: make(map[string]*paperOrder)}
}

// Place implements OrderPlacer.
func (p *PaperPlacer) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if !req.Price.Valid() {
		return PlaceResult{}, &RejectError{Reason: fmt.Sprintf("invalid price %d", req.Price)}
	}
	if req.Qty <= 0 {
		return PlaceResult{}, &RejectError{Reason: "invalid quantity"}
	}
	book, ok := p.books.Snapshot(req.Ticker)
	if !ok {
		return PlaceResult{}, &RejectError{Reason: "market not found"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	o := &paperOrder{
		id:     fmt.Sprintf("paper-%d", p.seq),
		req:    req,
		status: domain.StatusResting,
		ahead:  book.QtyAt(req.Side, req.Price),
	}
	p.orders[o.id] = o
	p.match(o)

	slog.Info("PAPER EXECUTION: Order Placed",
		slog.String("id", o.id),
		slog.String("ticker", req.Ticker),
		slog.String("side", string(req.Side)),
		slog.Int("price", int(req.Price)),
		slog.Int("qty", req.Qty),
		slog.Int("ahead", o.ahead))
	return PlaceResult{ExternalID: o.id, Status: o.status, FilledQty: o.filled}, nil
}

// Cancel implements OrderPlacer.
func (p *PaperPlacer) Cancel(ctx context.Context, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[externalID]
	if !ok || o.status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, externalID)
	}
	o.status = domain.StatusCanceled
	slog.Info("PAPER EXECUTION: Order Canceled", slog.String("id", externalID))
	return nil
}

// Status implements OrderPlacer.
func (p *PaperPlacer) Status(ctx context.Context, externalID string) (OrderUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[externalID]
	if !ok {
		return OrderUpdate{}, fmt.Errorf("%w: %s", ErrOrderNotFound, externalID)
	}
	p.match(o)
	return OrderUpdate{ExternalID: o.id, Status: o.status, FilledQty: o.filled}, nil
}

// QueuePositions implements OrderPlacer.
func (p *PaperPlacer) QueuePositions(ctx context.Context, tickers []string) (map[string]int, error) {
	want := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		want[t] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]int)
	for id, o := range p.orders {
		if o.status.IsTerminal() || !want[o.req.Ticker] {
			continue
		}
		p.match(o)
		if !o.status.IsTerminal() {
			out[id] = o.ahead
		}
	}
	return out, nil
}

// Open lists ids of working orders, sorted.
func (p *PaperPlacer) Open() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id, o := range p.orders {
		if !o.status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// match advances a resting order against the current book. Caller holds mu.
func (p *PaperPlacer) match(o *paperOrder) {
	if o.status.IsTerminal() {
		return
	}
	book, ok := p.books.Snapshot(o.req.Ticker)
	if !ok {
		return
	}
	// Displayed size at our level can only shrink ahead of us.
	if q := book.QtyAt(o.req.Side, o.req.Price); q < o.ahead {
		o.ahead = q
	}

	ask, ok := book.BestAsk(o.req.Side)
	if !ok || ask > o.req.Price {
		return
	}
	take := book.DepthAtBestAsk(o.req.Side)
	remaining := o.req.Qty - o.filled
	if take > remaining {
		take = remaining
	}
	if take <= 0 {
		return
	}
	o.filled += take
	o.ahead = 0
	if o.filled >= o.req.Qty {
		o.status = domain.StatusFilled
	} else {
		o.status = domain.StatusPartiallyFilled
	}
	slog.Info("PAPER EXECUTION: Order Filled",
		slog.String("id", o.id),
		slog.String("ticker", o.req.Ticker),
		slog.Int("filled", o.filled),
		slog.Int("qty", o.req.Qty))
}

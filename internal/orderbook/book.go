package orderbook

import (
	"bytes"
	"fmt"
	"sort"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/pkg/quant"
)

// Book is an immutable copy of one instrument's reconciled state.
// Both sides are bid books; asks are derived from the complementary side's bids.
type Book struct {
	Ticker    string
	Seq       uint64
	UpdatedAt quant.TimeStamp

	yes map[quant.Cents]int
	no  map[quant.Cents]int
}

func (b Book) side(s domain.Side) map[quant.Cents]int {
	if s == domain.SideYes {
		return b.yes
	}
	return b.no
}

// BestBid returns the highest resting bid on side s.
func (b Book) BestBid(s domain.Side) (quant.Cents, bool) {
	return bestOf(b.side(s))
}

// BestAsk returns the cheapest price to buy side s: 100 - best bid of the opposite side.
func (b Book) BestAsk(s domain.Side) (quant.Cents, bool) {
	bid, ok := b.BestBid(s.Opposite())
	if !ok {
		return 0, false
	}
	return bid.Complement(), true
}

// DepthAtBestAsk returns the quantity available at the best ask of side s.
func (b Book) DepthAtBestAsk(s domain.Side) int {
	opp := b.side(s.Opposite())
	bid, ok := bestOf(opp)
	if !ok {
		return 0
	}
	return opp[bid]
}

// QtyAt returns the resting bid quantity on side s at price p.
func (b Book) QtyAt(s domain.Side, p quant.Cents) int {
	return b.side(s)[p]
}

// Bids returns side s levels ordered best (highest) first.
func (b Book) Bids(s domain.Side) []event.Level {
	m := b.side(s)
	out := make([]event.Level, 0, len(m))
	for p, q := range m {
		out = append(out, event.Level{Price: p, Qty: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

// Asks returns the derived asks for buying side s, cheapest first.
func (b Book) Asks(s domain.Side) []event.Level {
	bids := b.Bids(s.Opposite())
	out := make([]event.Level, len(bids))
	for i, l := range bids {
		out[i] = event.Level{Price: l.Price.Complement(), Qty: l.Qty}
	}
	return out
}

// Empty reports whether neither side has resting interest.
func (b Book) Empty() bool {
	return len(b.yes) == 0 && len(b.no) == 0
}

// Fill is the result of walking the asks for a target quantity.
type Fill struct {
	VWAPCents  float64
	Fillable   int
	Sufficient bool
}

// FillCost walks the derived asks of side s until qty contracts are filled.
func (b Book) FillCost(s domain.Side, qty int) Fill {
	if qty <= 0 {
		return Fill{}
	}
	var filled int
	var cost int64
	for _, l := range b.Asks(s) {
		take := l.Qty
		if rem := qty - filled; take > rem {
			take = rem
		}
		filled += take
		cost += int64(take) * int64(l.Price)
		if filled >= qty {
			break
		}
	}
	if filled == 0 {
		return Fill{}
	}
	return Fill{
		VWAPCents:  float64(cost) / float64(filled),
		Fillable:   filled,
		Sufficient: filled >= qty,
	}
}

// Bytes renders a canonical encoding of the book, stable across map iteration order.
func (b Book) Bytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s|%d|%d", b.Ticker, b.Seq, b.UpdatedAt)
	for _, s := range []domain.Side{domain.SideYes, domain.SideNo} {
		fmt.Fprintf(&buf, "|%s", s)
		for _, l := range b.Bids(s) {
			fmt.Fprintf(&buf, ";%d:%d", l.Price, l.Qty)
		}
	}
	return buf.Bytes()
}

// View is a JSON friendly rendering for the ops API.
type View struct {
	Ticker string        `json:"ticker"`
	Seq    uint64        `json:"seq"`
	YesBid []event.Level `json:"yes_bids"`
	NoBid  []event.Level `json:"no_bids"`
	YesAsk *quant.Cents  `json:"yes_ask,omitempty"`
	NoAsk  *quant.Cents  `json:"no_ask,omitempty"`
}

// View converts the book for display.
func (b Book) View() View {
	v := View{
		Ticker: b.Ticker,
		Seq:    b.Seq,
		YesBid: b.Bids(domain.SideYes),
		NoBid:  b.Bids(domain.SideNo),
	}
	if a, ok := b.BestAsk(domain.SideYes); ok {
		v.YesAsk = &a
	}
	if a, ok := b.BestAsk(domain.SideNo); ok {
		v.NoAsk = &a
	}
	return v
}

func bestOf(m map[quant.Cents]int) (quant.Cents, bool) {
	var best quant.Cents
	found := false
	for p := range m {
		if !found || p > best {
			best = p
			found = true
		}
	}
	return best, found
}

func copyLevels(m map[quant.Cents]int) map[quant.Cents]int {
	out := make(map[quant.Cents]int, len(m))
	for p, q := range m {
		out[p] = q
	}
	return out
}

package orderbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/pkg/quant"
)

var (
	// ErrSequenceGap means a delta did not carry last+1; the instrument must be resnapshotted.
	ErrSequenceGap = errors.New("sequence gap")
	// ErrInvariant means a mutation produced an impossible book; the instrument must be resnapshotted.
	ErrInvariant = errors.New("book invariant violated")
	// ErrUnknownInstrument means a delta arrived before any snapshot.
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// NeedsResync reports whether err requires a fresh snapshot for the instrument.
func NeedsResync(err error) bool {
	return errors.Is(err, ErrSequenceGap) || errors.Is(err, ErrInvariant) || errors.Is(err, ErrUnknownInstrument)
}

type state struct {
	seq       uint64
	updatedAt quant.TimeStamp
	yes       map[quant.Cents]int
	no        map[quant.Cents]int
}

func (s *state) side(sd domain.Side) map[quant.Cents]int {
	if sd == domain.SideYes {
		return s.yes
	}
	return s.no
}

// Reconciler maintains the authoritative per-instrument books.
// A single goroutine calls the Apply* methods; any goroutine may call Snapshot.
type Reconciler struct {
	mu    sync.RWMutex // Writers hold it only while swapping or mutating a state
	books map[string]*state
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{books: make(map[string]*state)}
}

// ApplySnapshot replaces the instrument's state wholesale and adopts the snapshot's sequence.
func (r *Reconciler) ApplySnapshot(ev *event.BookSnapshotEvent) error {
	st := &state{
		seq:       ev.Seq,
		updatedAt: ev.Ts,
		yes:       make(map[quant.Cents]int, len(ev.Yes)),
		no:        make(map[quant.Cents]int, len(ev.No)),
	}
	if err := fillSide(st.yes, ev.Yes); err != nil {
		r.drop(ev.Ticker)
		return fmt.Errorf("%w: %s yes side: %v", ErrInvariant, ev.Ticker, err)
	}
	if err := fillSide(st.no, ev.No); err != nil {
		r.drop(ev.Ticker)
		return fmt.Errorf("%w: %s no side: %v", ErrInvariant, ev.Ticker, err)
	}
	if err := validate(st); err != nil {
		r.drop(ev.Ticker)
		return fmt.Errorf("%w: %s: %v", ErrInvariant, ev.Ticker, err)
	}

	r.mu.Lock()
	r.books[ev.Ticker] = st
	r.mu.Unlock()
	return nil
}

// ApplyDelta applies one sequenced level change.
// Any sequence other than last+1 discards local state; no partial repair is attempted.
func (r *Reconciler) ApplyDelta(ev *event.BookDeltaEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.books[ev.Ticker]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, ev.Ticker)
	}
	if ev.Seq != st.seq+1 {
		delete(r.books, ev.Ticker)
		return fmt.Errorf("%w: %s expected %d got %d", ErrSequenceGap, ev.Ticker, st.seq+1, ev.Seq)
	}
	if !ev.Price.Valid() {
		delete(r.books, ev.Ticker)
		return fmt.Errorf("%w: %s delta price %d out of range", ErrInvariant, ev.Ticker, ev.Price)
	}

	levels := st.side(ev.Side)
	qty := ev.Qty
	if ev.Incremental {
		qty = levels[ev.Price] + ev.Qty
	}
	if qty <= 0 {
		if !ev.Incremental && qty < 0 {
			delete(r.books, ev.Ticker)
			return fmt.Errorf("%w: %s negative quantity %d", ErrInvariant, ev.Ticker, qty)
		}
		delete(levels, ev.Price)
	} else {
		levels[ev.Price] = qty
	}
	st.seq = ev.Seq
	st.updatedAt = ev.Ts

	if err := validate(st); err != nil {
		delete(r.books, ev.Ticker)
		return fmt.Errorf("%w: %s: %v", ErrInvariant, ev.Ticker, err)
	}
	return nil
}

// Snapshot returns an immutable copy of the instrument's book.
func (r *Reconciler) Snapshot(ticker string) (Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.books[ticker]
	if !ok {
		return Book{}, false
	}
	return Book{
		Ticker:    ticker,
		Seq:       st.seq,
		UpdatedAt: st.updatedAt,
		yes:       copyLevels(st.yes),
		no:        copyLevels(st.no),
	}, true
}

// Tickers lists instruments with a live book, sorted.
func (r *Reconciler) Tickers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.books))
	for t := range r.books {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Remove discards an instrument (delisting or forced resync).
func (r *Reconciler) Remove(ticker string) {
	r.drop(ticker)
}

// Clear discards every book, e.g. when the owning feed disconnects.
func (r *Reconciler) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.books)
	r.books = make(map[string]*state)
	return n
}

func (r *Reconciler) drop(ticker string) {
	r.mu.Lock()
	delete(r.books, ticker)
	r.mu.Unlock()
}

func fillSide(dst map[quant.Cents]int, levels []event.Level) error {
	for _, l := range levels {
		if l.Qty < 0 {
			return fmt.Errorf("negative quantity %d at %d", l.Qty, l.Price)
		}
		if l.Qty == 0 {
			continue
		}
		if !l.Price.Valid() {
			return fmt.Errorf("price %d out of range", l.Price)
		}
		dst[l.Price] = l.Qty
	}
	return nil
}

// validate enforces the complement invariant: derived asks stay in [1,99] and the book is not crossed.
func validate(st *state) error {
	yesBid, hasYes := bestOf(st.yes)
	noBid, hasNo := bestOf(st.no)
	if hasYes && !yesBid.Valid() {
		return fmt.Errorf("yes bid %d out of range", yesBid)
	}
	if hasNo && !noBid.Valid() {
		return fmt.Errorf("no bid %d out of range", noBid)
	}
	if hasYes && hasNo && yesBid+noBid >= quant.Payout {
		return fmt.Errorf("crossed book: yes bid %d + no bid %d >= %d", yesBid, noBid, quant.Payout)
	}
	return nil
}

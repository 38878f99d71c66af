package arbitrage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/event"
	"kalshi_go/internal/orderbook"
	"kalshi_go/pkg/quant"
)

var now = time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)

type leg struct {
	yesBid, yesQty int
	noBid, noQty   int
}

func booksFor(t *testing.T, legs map[string]leg) *orderbook.Reconciler {
	t.Helper()
	r := orderbook.NewReconciler()
	for ticker, l := range legs {
		ev := &event.BookSnapshotEvent{Ticker: ticker, Seq: 1}
		if l.yesBid > 0 {
			ev.Yes = []event.Level{{Price: quant.Cents(l.yesBid), Qty: l.yesQty}}
		}
		if l.noBid > 0 {
			ev.No = []event.Level{{Price: quant.Cents(l.noBid), Qty: l.noQty}}
		}
		require.NoError(t, r.ApplySnapshot(ev))
	}
	return r
}

// yesAsks builds legs whose YES asks equal the given prices.
func yesAsks(asks []int, depth int) (map[string]leg, []string) {
	legs := make(map[string]leg, len(asks))
	tickers := make([]string, 0, len(asks))
	for i, a := range asks {
		ticker := "KXHIGHNY-B" + string(rune('A'+i))
		legs[ticker] = leg{noBid: 100 - a, noQty: depth}
		tickers = append(tickers, ticker)
	}
	return legs, tickers
}

func TestScan_AllYesDetected(t *testing.T) {
	r := booksFor(t, map[string]leg{
		"KXHIGHNY-A": {noBid: 70, noQty: 15},
		"KXHIGHNY-B": {noBid: 68, noQty: 12},
	})
	opp, ok := NewScanner(r, 0).Scan("KXHIGHNY", []string{"KXHIGHNY-A", "KXHIGHNY-B"}, now)
	require.True(t, ok)

	assert.Equal(t, domain.ArbAllYes, opp.Type)
	assert.Equal(t, 62, opp.CostCents)
	assert.Equal(t, 38, opp.GrossProfitCents)
	assert.Equal(t, 4, opp.FeeCents)
	assert.Equal(t, 34, opp.NetProfitCents)
	assert.Equal(t, 12, opp.MaxSets, "bounded by the shallowest leg")
	assert.Equal(t, "4.08", opp.TotalNetDollars().String())
}

func TestScan_FourLegFeesRecomputed(t *testing.T) {
	legs, tickers := yesAsks([]int{18, 22, 26, 28}, 10)
	r := booksFor(t, legs)
	books := make([]orderbook.Book, 0, len(tickers))
	for _, tk := range tickers {
		b, _ := r.Snapshot(tk)
		books = append(books, b)
	}

	// Gross 6 per set, but four 2-cent taker fees leave nothing.
	_, ok := candidate("KXHIGHNY", domain.ArbAllYes, books, now)
	assert.False(t, ok)

	_, ok = NewScanner(r, 0).Scan("KXHIGHNY", tickers, now)
	assert.False(t, ok)
}

func TestScan_NoArbitrageAtParity(t *testing.T) {
	legs, tickers := yesAsks([]int{25, 25, 25, 25}, 10)
	_, ok := NewScanner(booksFor(t, legs), 0).Scan("KXHIGHNY", tickers, now)
	assert.False(t, ok)
}

func TestScan_AllNoDetected(t *testing.T) {
	r := booksFor(t, map[string]leg{
		"KXHIGHNY-A": {yesBid: 45, yesQty: 30},
		"KXHIGHNY-B": {yesBid: 44, yesQty: 20},
		"KXHIGHNY-C": {yesBid: 46, yesQty: 18},
	})
	opp, ok := NewScanner(r, 0).Scan("KXHIGHNY", []string{"KXHIGHNY-A", "KXHIGHNY-B", "KXHIGHNY-C"}, now)
	require.True(t, ok)

	assert.Equal(t, domain.ArbAllNo, opp.Type)
	assert.Equal(t, 200, opp.PayoutCents)
	assert.Equal(t, 165, opp.CostCents)
	assert.Equal(t, 18, opp.MaxSets)
	assert.LessOrEqual(t, opp.NetProfitCents, opp.GrossProfitCents)
	for _, l := range opp.Legs {
		assert.Equal(t, domain.SideNo, l.Side)
	}
}

func TestScan_Aborts(t *testing.T) {
	r := booksFor(t, map[string]leg{
		"KXHIGHNY-A": {noBid: 70, noQty: 15},
		"KXHIGHNY-B": {yesBid: 10, yesQty: 5}, // no NO bids: YES cannot be bought
	})
	s := NewScanner(r, 0)

	_, ok := s.Scan("KXHIGHNY", []string{"KXHIGHNY-A", "KXHIGHNY-B"}, now)
	assert.False(t, ok, "leg without interest on the relevant side")

	_, ok = s.Scan("KXHIGHNY", []string{"KXHIGHNY-A", "KXHIGHNY-MISSING"}, now)
	assert.False(t, ok, "missing book")

	_, ok = s.Scan("KXHIGHNY", []string{"KXHIGHNY-A"}, now)
	assert.False(t, ok, "single leg")
}

func TestScan_MinimumProfit(t *testing.T) {
	r := booksFor(t, map[string]leg{
		"KXHIGHNY-A": {noBid: 51, noQty: 15},
		"KXHIGHNY-B": {noBid: 53, noQty: 15},
	})
	// Cost 49 + 47 = 96, fees 2 + 2, net 0.
	_, ok := NewScanner(r, 0).Scan("KXHIGHNY", []string{"KXHIGHNY-A", "KXHIGHNY-B"}, now)
	assert.False(t, ok)
}

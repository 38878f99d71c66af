package arbitrage

import (
	"log/slog"
	"time"

	"kalshi_go/internal/domain"
	"kalshi_go/internal/orderbook"
	"kalshi_go/pkg/quant"
)

// BookReader provides immutable book copies.
type BookReader interface {
	Snapshot(ticker string) (orderbook.Book, bool)
}

// Scanner looks for fee-adjusted risk-free sets across mutually exclusive contracts.
type Scanner struct {
	books        BookReader
	minNetProfit int // Per set, cents
}

// NewScanner creates a scanner reading from books.
func NewScanner(books BookReader, minNetProfitCents int) *Scanner {
	return &Scanner{books: books, minNetProfit: minNetProfitCents}
}

// Scan returns the better of the all-YES and all-NO candidates for one event.
func (s *Scanner) Scan(eventTicker string, tickers []string, now time.Time) (domain.ArbitrageOpportunity, bool) {
	if len(tickers) < 2 {
		return domain.ArbitrageOpportunity{}, false
	}
	books := make([]orderbook.Book, 0, len(tickers))
	for _, t := range tickers {
		b, ok := s.books.Snapshot(t)
		if !ok {
			return domain.ArbitrageOpportunity{}, false
		}
		books = append(books, b)
	}

	var best domain.ArbitrageOpportunity
	found := false
	for _, typ := range []domain.ArbType{domain.ArbAllYes, domain.ArbAllNo} {
		opp, ok := candidate(eventTicker, typ, books, now)
		if !ok || opp.NetProfitCents <= s.minNetProfit {
			continue
		}
		if !found || opp.NetProfitCents*opp.MaxSets > best.NetProfitCents*best.MaxSets {
			best, found = opp, true
		}
	}
	if found {
		slog.Info("ARBITRAGE_DETECTED",
			slog.String("event", eventTicker),
			slog.String("type", string(best.Type)),
			slog.Int("cost", best.CostCents),
			slog.Int("net_per_set", best.NetProfitCents),
			slog.Int("max_sets", best.MaxSets),
		)
	}
	return best, found
}

// candidate prices one set of the given type. Buying YES on a leg lifts the best NO bid and vice versa.
func candidate(eventTicker string, typ domain.ArbType, books []orderbook.Book, now time.Time) (domain.ArbitrageOpportunity, bool) {
	side := domain.SideYes
	payout := int(quant.Payout)
	if typ == domain.ArbAllNo {
		side = domain.SideNo
		payout = (len(books) - 1) * int(quant.Payout)
	}

	opp := domain.ArbitrageOpportunity{
		EventTicker: eventTicker,
		Type:        typ,
		Legs:        make([]domain.ArbLeg, 0, len(books)),
		PayoutCents: payout,
		DetectedAt:  now,
	}
	for i, b := range books {
		ask, ok := b.BestAsk(side)
		if !ok {
			return domain.ArbitrageOpportunity{}, false
		}
		ask = quant.ClampCents(ask)
		depth := b.DepthAtBestAsk(side)
		if depth <= 0 {
			return domain.ArbitrageOpportunity{}, false
		}
		fee := TakerFeeCents(ask)
		opp.Legs = append(opp.Legs, domain.ArbLeg{Ticker: b.Ticker, Side: side, Price: ask, Depth: depth, FeeCents: fee})
		opp.CostCents += int(ask)
		opp.FeeCents += fee
		if i == 0 || depth < opp.MaxSets {
			opp.MaxSets = depth
		}
	}
	if opp.CostCents >= payout {
		return domain.ArbitrageOpportunity{}, false
	}
	opp.GrossProfitCents = payout - opp.CostCents
	opp.NetProfitCents = opp.GrossProfitCents - opp.FeeCents
	if opp.NetProfitCents <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}
	return opp, true
}

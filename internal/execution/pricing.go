package execution

import (
	"kalshi_go/internal/domain"
	"kalshi_go/internal/orderbook"
	"kalshi_go/pkg/quant"
)

// MakerPrice returns a resting limit price for buying side: one tick above the best same-side bid,
// or joining the bid when the spread is already one tick. It never crosses the ask.
// No same-side bid means there is nothing to improve on and no price is returned.
func MakerPrice(book orderbook.Book, side domain.Side, lo, hi quant.Cents) (quant.Cents, bool) {
	bid, ok := book.BestBid(side)
	if !ok {
		return 0, false
	}
	ask, hasAsk := book.BestAsk(side)

	price := bid + 1
	if hasAsk && price >= ask {
		price = bid
	}
	if price < lo {
		price = lo
	}
	if price > hi {
		price = hi
	}
	if !price.Valid() || (hasAsk && price >= ask) {
		return 0, false
	}
	return price, true
}

package infra

import (
	"github.com/shopspring/decimal"

	"kalshi_go/internal/event"
	"kalshi_go/pkg/quant"
)

// EmitQuote sends a pooled spot quote to the engine inbox.
// When the inbox is full the quote is dropped and returned to the pool; a newer one follows shortly.
func EmitQuote(inbox chan<- event.Event, v Venue, symbol string, price decimal.Decimal, ts quant.TimeStamp) bool {
	ev := event.AcquireQuoteEvent()
	ev.Ts = ts
	ev.Source = v.Source()
	ev.Symbol = symbol
	ev.Price = price

	select {
	case inbox <- ev:
		return true
	default:
		event.ReleaseQuoteEvent(ev)
		return false
	}
}

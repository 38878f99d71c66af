package event

import (
	"sync"

	"github.com/shopspring/decimal"
)

var quotePool = sync.Pool{
	New: func() any { return new(QuoteEvent) },
}

// AcquireQuoteEvent returns a zeroed QuoteEvent from the pool.
func AcquireQuoteEvent() *QuoteEvent {
	return quotePool.Get().(*QuoteEvent)
}

// ReleaseQuoteEvent resets ev and returns it to the pool.
func ReleaseQuoteEvent(ev *QuoteEvent) {
	if ev == nil {
		return
	}
	ev.Ts = 0
	ev.Source = ""
	ev.Symbol = ""
	ev.Price = decimal.Zero
	quotePool.Put(ev)
}

// Warmup pre-allocates pooled events so the first seconds of feed traffic do not hit the allocator.
func Warmup() {
	const n = 256
	evs := make([]*QuoteEvent, 0, n)
	for i := 0; i < n; i++ {
		evs = append(evs, AcquireQuoteEvent())
	}
	for _, ev := range evs {
		ReleaseQuoteEvent(ev)
	}
}

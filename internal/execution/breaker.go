package execution

import (
	"sync"
	"time"
)

// RepriceBreaker allows at most max reprices per instrument in a rolling window,
// with a minimum cooldown between consecutive reprices.
type RepriceBreaker struct {
	max      int
	window   time.Duration
	cooldown time.Duration

	mu      sync.Mutex
	history map[string][]time.Time
}

// NewRepriceBreaker creates a breaker.
func NewRepriceBreaker(max int, window, cooldown time.Duration) *RepriceBreaker {
	return &RepriceBreaker{
		max:      max,
		window:   window,
		cooldown: cooldown,
		history:  make(map[string][]time.Time),
	}
}

// Allow reports whether a reprice may happen now, and counts it if so.
func (b *RepriceBreaker) Allow(ticker string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.prune(ticker, now)
	if len(h) >= b.max {
		return false
	}
	if len(h) > 0 && now.Sub(h[len(h)-1]) < b.cooldown {
		return false
	}
	b.history[ticker] = append(h, now)
	return true
}

// Count returns the reprices still inside the window.
func (b *RepriceBreaker) Count(ticker string, now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prune(ticker, now))
}

// Forget drops the history of a delisted instrument.
func (b *RepriceBreaker) Forget(ticker string) {
	b.mu.Lock()
	delete(b.history, ticker)
	b.mu.Unlock()
}

// prune drops timestamps older than the window. Caller holds mu.
func (b *RepriceBreaker) prune(ticker string, now time.Time) []time.Time {
	h := b.history[ticker]
	i := 0
	for i < len(h) && now.Sub(h[i]) >= b.window {
		i++
	}
	if i > 0 {
		h = append(h[:0], h[i:]...)
		b.history[ticker] = h
	}
	return h
}

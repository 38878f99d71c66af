package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket. Safe for concurrent use.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a bucket holding burst tokens, refilled at perSecond.
func NewRateLimiter(burst int, perSecond float64) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// TryAcquire takes a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	return r.reserve() == 0
}

// reserve takes a token and returns 0, or returns how long until one is due.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return 0
	}
	missing := 1 - r.tokens
	return time.Duration(missing / r.refillRate * float64(time.Second))
}

// refill adds tokens for the elapsed time. Caller holds mu.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

// KalshiLimiters splits the trade API request allowance between reads and writes.
type KalshiLimiters struct {
	Read  *RateLimiter
	Write *RateLimiter
}

// NewKalshiLimiters uses the basic tier: 20 reads/s and 10 writes/s, with half of each as burst.
func NewKalshiLimiters() KalshiLimiters {
	return KalshiLimiters{
		Read:  NewRateLimiter(10, 20),
		Write: NewRateLimiter(5, 10),
	}
}

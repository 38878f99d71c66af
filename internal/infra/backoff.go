package infra

import (
	"math/rand"
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second

	jitterFraction = 0.2
)

// CalculateBackoff returns baseDelay * 2^retryCount, capped at maxDelay.
// If retryCount is negative, it returns baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}
	// 2^30 seconds is already far past maxDelay.
	if retryCount > 30 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retryCount)
	if backoff > maxDelay {
		return maxDelay
	}
	return backoff
}

// Jitter shaves up to 20% off d so reconnecting feeds do not stampede.
func Jitter(d time.Duration) time.Duration {
	return jitterWith(d, rand.Float64())
}

func jitterWith(d time.Duration, u float64) time.Duration {
	return d - time.Duration(jitterFraction*u*float64(d))
}

// ReconnectDelay is the jittered backoff used by feeds.
func ReconnectDelay(retryCount int) time.Duration {
	return Jitter(CalculateBackoff(retryCount))
}

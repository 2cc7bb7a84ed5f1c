package executor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes retry delays for transient failures: exponential
// growth from Base, capped at Max, with jitter so synchronized failures
// don't retry in lockstep.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns the delay before the given attempt (1-based count of
// attempts already made).
func (p BackoffPolicy) Next(attempt int) time.Duration {
	backoff := float64(p.Base) * math.Pow(2, float64(attempt))
	if backoff > float64(p.Max) {
		backoff = float64(p.Max)
	}

	// Add jitter (±25%)
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

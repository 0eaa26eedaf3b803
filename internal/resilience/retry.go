// Package resilience provides the retry policies used by the network
// supervisor and a small circuit breaker guarding remote pipeline targets.
//
// A [RetryPolicy] decides, per consecutive failed attempt, how long to wait
// before the next one and whether to try at all. The supervisor only talks to
// the interface, so the reconnect strategy can be swapped from configuration
// without touching the ingestion path.
package resilience

import (
	"errors"
	"time"
)

// ErrRetriesExhausted is returned when a bounded [RetryPolicy] refuses
// another attempt.
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// RetryPolicy computes the delay before retry number attempt (1-based: the
// first retry after a failure is attempt 1). ok is false when no further
// attempt should be made.
type RetryPolicy interface {
	Next(attempt int) (delay time.Duration, ok bool)
}

// Immediate retries forever without waiting.
type Immediate struct{}

// Next implements [RetryPolicy].
func (Immediate) Next(int) (time.Duration, bool) { return 0, true }

// Default backoff parameters.
const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Backoff retries with an exponentially growing delay: Initial, 2×Initial,
// 4×Initial, … capped at Max.
type Backoff struct {
	// Initial is the delay before the first retry. Defaults to 1s if zero.
	Initial time.Duration

	// Max caps the delay. Defaults to 30s if zero.
	Max time.Duration

	// MaxRetries bounds the number of retries. Zero or negative retries forever.
	MaxRetries int
}

// Next implements [RetryPolicy].
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxRetries > 0 && attempt > b.MaxRetries {
		return 0, false
	}
	initial := b.Initial
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	limit := b.Max
	if limit <= 0 {
		limit = defaultMaxBackoff
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit, true
		}
	}
	return min(d, limit), true
}

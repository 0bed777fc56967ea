// Package backoff computes retry delays for failed publish attempts.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt, capped at Max, with an
// additive random jitter in [0, Jitter) to spread simultaneous retries.
// The deterministic part, min(Initial * 2^(attempt-1), Max), is
// non-decreasing in the attempt number.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration
}

func NewExponential(initial, maxDelay, jitter time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: jitter}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if d < 0 || (e.Max > 0 && d > e.Max) {
		d = e.Max
	}
	if e.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(e.Jitter)))
	}
	return d
}

// Default returns the pipeline's standard policy: 30s base doubling up
// to a 10m cap, plus up to 10s of jitter. The cap keeps the first retry
// well inside the product's near-2-minute delivery goal.
func Default() Strategy {
	return NewExponential(30*time.Second, 10*time.Minute, 10*time.Second)
}

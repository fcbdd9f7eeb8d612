package connection

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff"
)

// Backoff constants for the reconnect loop (spec §5's Timeouts table and
// testable property 8): exponential, factor 2, initial 250ms, capped at
// 15s, ±25% jitter.
const (
	backoffInitial    = 250 * time.Millisecond
	backoffMultiplier = 2.0
	backoffMaxDelay   = 15 * time.Second
	backoffJitter     = 0.25

	// maxBackoffAttempt bounds the exponent DelayForAttempt uses for a
	// single attempt number; the delay is already pinned at backoffMaxDelay
	// long before this, so the cap only keeps the arithmetic in range for
	// pathologically large attempt numbers.
	maxBackoffAttempt = 62
)

// newExponentialBackOff builds a fresh cenkalti/backoff.ExponentialBackOff
// configured to the constants above, with no elapsed-time ceiling (the
// reconnect loop retries forever until cancelled).
func newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffInitial
	b.Multiplier = backoffMultiplier
	b.MaxInterval = backoffMaxDelay
	b.RandomizationFactor = backoffJitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// DelayForAttempt returns the backoff delay that precedes reconnect attempt
// n (n >= 1), independent of prior call history: backoffInitial*2^(n-1)
// with ±backoffJitter jitter, then clamped to backoffMaxDelay. Jitter is
// applied before the clamp, so the jitter ranges of consecutive attempts
// never overlap and the result is monotone non-decreasing in n and never
// above backoffMaxDelay.
func DelayForAttempt(attempt uint32) time.Duration {
	if attempt == 0 {
		attempt = 1
	}
	if attempt > maxBackoffAttempt {
		attempt = maxBackoffAttempt
	}

	base := float64(backoffInitial) * math.Pow(backoffMultiplier, float64(attempt-1))
	d := base * (1 + backoffJitter*(2*rand.Float64()-1))
	if d > float64(backoffMaxDelay) {
		d = float64(backoffMaxDelay)
	}
	return time.Duration(d)
}

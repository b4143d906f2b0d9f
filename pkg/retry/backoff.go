package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff builds the exponential schedule for p. A zero MaxElapsedTime
// leaves the attempt count as the only limit.
func newBackOff(p Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()
	return exp
}

// NextDelay is the un-jittered wait after the given failed attempt (1-based),
// used for logging.
func NextDelay(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	duration := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && duration > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(duration)
}

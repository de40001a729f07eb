package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// JitterType selects how a computed backoff delay is randomized to
// avoid synchronized retry storms.
type JitterType string

// Jitter modes.
const (
	// JitterNone leaves the computed delay unchanged.
	JitterNone JitterType = "none"

	// JitterFull draws uniformly in [0, delay].
	JitterFull JitterType = "full"

	// JitterEqual draws uniformly in [delay/2, delay].
	JitterEqual JitterType = "equal"

	// JitterDecorrelated draws uniformly in [initialDelay, delay*3].
	JitterDecorrelated JitterType = "decorrelated"
)

// backoffDelay computes the capped exponential base delay for a given
// attempt. attempt is 1-based: the first retry waits initial.
func backoffDelay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(d)
}

// applyJitter randomizes a base delay according to the jitter mode.
// The result is never negative.
func applyJitter(cfg Config, base time.Duration) time.Duration {
	switch cfg.JitterType {
	case JitterFull:
		return time.Duration(rand.Float64() * float64(base))
	case JitterEqual:
		half := float64(base) / 2
		return time.Duration(half + rand.Float64()*half)
	case JitterDecorrelated:
		lo := float64(cfg.InitialDelay)
		hi := float64(base) * 3
		if hi < lo {
			hi = lo
		}
		return time.Duration(lo + rand.Float64()*(hi-lo))
	default:
		return base
	}
}

package dispatch

import (
	"math/rand"
	"time"
)

// backoffDelay returns the delay before retry number attempt (1-based):
// exponential doubling from base, capped at max, with up to 25% random
// jitter so concurrent callers do not retry in lockstep.
func backoffDelay(attempt int, base, max time.Duration, rng *rand.Rand) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	jitter := time.Duration(rng.Int63n(int64(d)/4 + 1))
	d += jitter
	if d > max {
		d = max
	}
	return d
}

package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle paces outbound provider calls so a burst of generations does not
// trip the provider's own limits. A nil Throttle never blocks.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows reqPerSec sustained calls with the given burst.
// Non-positive reqPerSec disables pacing.
func NewThrottle(reqPerSec float64, burst int) *Throttle {
	if reqPerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst)}
}

// Wait blocks until a call is permitted or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

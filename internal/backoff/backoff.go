// Package backoff implements the Proxy's reconnect pacing (§4.2, §4.3):
// exponential backoff capped at a configurable ceiling, paced with a
// golang.org/x/time/rate limiter rather than hand-rolled sleeps.
package backoff

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Backoff paces retry attempts with a doubling interval, capped at max.
type Backoff struct {
	limiter  *rate.Limiter
	interval time.Duration
	max      time.Duration
}

// New creates a Backoff whose first wait is initial, doubling on every
// subsequent call up to max.
func New(initial, max time.Duration) *Backoff {
	l := rate.NewLimiter(rate.Every(initial), 1)
	l.Allow() // spend the starting token so the first Wait lasts initial
	return &Backoff{
		limiter:  l,
		interval: initial,
		max:      max,
	}
}

// Wait blocks until the next attempt is due, or ctx is done. Each call
// advances the interval toward max.
func (b *Backoff) Wait(ctx context.Context) error {
	err := b.limiter.Wait(ctx)
	if b.interval < b.max {
		b.interval *= 2
		if b.interval > b.max {
			b.interval = b.max
		}
		b.limiter.SetLimit(rate.Every(b.interval))
	}
	return err
}

// Reset returns the Backoff to its initial interval, for reuse across
// independent reconnect episodes.
func (b *Backoff) Reset(initial time.Duration) {
	b.interval = initial
	b.limiter.SetLimit(rate.Every(initial))
	b.limiter.SetBurst(1)
}

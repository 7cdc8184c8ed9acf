package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces a loop to at most N iterations per second. Its burst is one,
// so no window of length W admits more than N*W+1 iterations.
type Limiter struct {
	lim *rate.Limiter
	n   int
}

// NewLimiter returns a limiter admitting perSecond waits per second. A
// non-positive rate disables limiting.
func NewLimiter(perSecond int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(perSecond), 1), n: perSecond}
}

// Wait blocks until the next slot or until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.lim.Wait(ctx)
}

// Rate returns the configured rate, zero when unlimited.
func (l *Limiter) Rate() int { return l.n }

// Interval is the minimum spacing between two waits.
func (l *Limiter) Interval() time.Duration {
	if l == nil || l.n <= 0 {
		return 0
	}
	return time.Second / time.Duration(l.n)
}

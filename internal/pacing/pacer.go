package pacing

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out requests to the target site. After Done, the next Wait
// blocks for at least one interval.
type Pacer struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// New creates a pacer; a non-positive interval never blocks
func New(interval time.Duration) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1), interval: interval}
}

// Wait blocks until the next request may start
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Done marks the end of a request. It reserves the next token so the gap is
// measured from now rather than from the request start.
func (p *Pacer) Done() {
	if p.interval > 0 {
		p.limiter.Reserve()
	}
}

// Interval returns the configured spacing
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Sleep pauses for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package ratelimit wraps golang.org/x/time/rate with the per-provider
// token bucket and concurrency cap described in §4.5 and §5: the bucket
// blocks up to the caller's deadline rather than dropping requests.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates one provider's outbound requests: a token bucket for
// throughput and a semaphore for the number of requests in flight.
type Limiter struct {
	bucket      *rate.Limiter
	concurrency chan struct{}
}

// New builds a Limiter refilling at ratePerSecond tokens/sec (burst equal
// to the rate truncated to a whole number, and at least 1) and capping
// in-flight requests at concurrencyCap.
func New(ratePerSecond float64, concurrencyCap int) *Limiter {
	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}
	if concurrencyCap < 1 {
		concurrencyCap = 1
	}
	return &Limiter{
		bucket:      rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		concurrency: make(chan struct{}, concurrencyCap),
	}
}

// Acquire blocks until both a rate-limit token and a concurrency slot are
// available, or ctx is done. The returned release func must be called
// exactly once to free the concurrency slot.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case l.concurrency <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func() { <-l.concurrency }, nil
}

package bench

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces the write tasks of a benchmark. A single
// limiter is shared by all tasks.
type RateLimiter interface {
	// Acquire blocks until n tokens are available and debits them.
	// It returns early only when ctx is done.
	Acquire(ctx context.Context, n int) error
}

type tokenBucket struct {
	lim *rate.Limiter
}

// NewRateLimiter creates a token bucket refilled continuously at
// opsPerSec tokens per second. The bucket starts full and holds
// opsPerSec tokens, or minBurst when that is larger so that a
// batch of minBurst operations can always be admitted.
func NewRateLimiter(opsPerSec uint32, minBurst int) RateLimiter {
	burst := int(opsPerSec)
	if burst < minBurst {
		burst = minBurst
	}
	return &tokenBucket{lim: rate.NewLimiter(rate.Limit(opsPerSec), burst)}
}

func (tb *tokenBucket) Acquire(ctx context.Context, n int) error {
	if n > tb.lim.Burst() {
		return invalidConfig("cannot acquire %d tokens from a bucket of %d", n, tb.lim.Burst())
	}
	err := tb.lim.WaitN(ctx, n)
	if err != nil && ctx.Err() == nil {
		// WaitN fails fast when the tokens cannot arrive before the
		// context deadline. Hold the caller until then.
		<-ctx.Done()
	}
	if err != nil {
		return ctx.Err()
	}
	return nil
}

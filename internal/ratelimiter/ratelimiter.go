package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces retries of transiently failing operations using a token bucket.
//
// The lock coordinator uses one limiter per read attempt sequence: the first
// attempt is served from the burst, later attempts wait for the bucket to refill.
// Waiting honours context cancellation, which is how a blocked retry is interrupted.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter that releases one token every interval, allowing burst
// immediate tokens.
//
// Special cases:
//   - interval = 0: no pacing (every Wait returns immediately)
//   - burst = 0: treated as 1 so the first attempt never waits
func New(interval time.Duration, burst uint) *RateLimiter {
	if burst == 0 {
		burst = 1
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(limit, int(burst)),
	}
}

// Allow reports whether a token is available right now, consuming it if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
//
// Returns:
//   - nil if a token was acquired
//   - the context error (unwrapped) if ctx was cancelled or its deadline
//     cannot be met; callers wrap it so errors.Is(err, context.Canceled) holds
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		// rate returns its own error when the deadline would be exceeded; surface
		// the context's view when it is already done.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

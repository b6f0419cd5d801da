// Package ratelimit implements the token-bucket throttle shared by the
// injector and any future active-trigger probes (spec.md §4.1), plus a
// Redis-backed variant for injector fleets sharing one budget against a
// single target.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"ricochet.sh/internal/ferrors"
)

// Acquirer is the blocking single-bucket acquire contract both Limiter and
// a RedisLimiter bound to a fixed key (see RedisLimiter.Bind) satisfy, so
// callers like Injector can be handed either backend interchangeably.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Limiter is a thread-safe token bucket. It wraps golang.org/x/time/rate,
// which already implements the refill-on-access, monotonic-clock-driven
// bucket spec.md §4.1 describes; Acquire translates the spec's
// blocking/non-blocking acquire contract onto Wait/Allow.
type Limiter struct {
	rate    float64
	burst   int
	limiter *rate.Limiter
}

// New constructs a Limiter. rate is tokens per second and must be > 0;
// burst is the bucket capacity and must be >= 1. The bucket starts full.
func New(tokensPerSecond float64, burst int) (*Limiter, error) {
	if tokensPerSecond <= 0 {
		return nil, ferrors.New(ferrors.CodeInvalidConfig, "rate must be positive")
	}
	if burst < 1 {
		return nil, ferrors.New(ferrors.CodeInvalidConfig, "burst must be at least 1")
	}

	return &Limiter{
		rate:    tokensPerSecond,
		burst:   burst,
		limiter: rate.NewLimiter(rate.Limit(tokensPerSecond), burst),
	}, nil
}

// Acquire blocks until a token is available or ctx is cancelled. It is the
// blocking=True case of spec.md's acquire(blocking).
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// TryAcquire attempts to take a token without blocking. It is the
// blocking=False case of spec.md's acquire(blocking).
func (l *Limiter) TryAcquire() bool {
	return l.limiter.Allow()
}

// Rate returns the configured tokens-per-second rate.
func (l *Limiter) Rate() float64 { return l.rate }

// Burst returns the configured bucket capacity.
func (l *Limiter) Burst() int { return l.burst }

// Tokens returns the approximate number of tokens currently available,
// mirroring rate_limiter.py's available_tokens introspection property.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}

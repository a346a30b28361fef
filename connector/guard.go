package connector

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/veridia/parley/config"
	"github.com/veridia/parley/errors"
)

// baseBackoff is the first retry delay before the factor compounds.
const baseBackoff = 500 * time.Millisecond

// FetchGuard wraps every remote operation a connector performs. It applies
// a token-bucket rate limit before each attempt and retries transient
// failures with exponentially growing, jittered delays. Security violations
// are never retried.
type FetchGuard struct {
	limiter    *rate.Limiter
	retries    int
	factor     float64
	maxBackoff time.Duration
	timeout    time.Duration
}

// NewFetchGuard builds a guard from a source's retry and rate settings.
func NewFetchGuard(cfg config.SourceConfig) *FetchGuard {
	capacity := cfg.RateCapacity
	if capacity <= 0 {
		capacity = 1
	}
	refill := cfg.RateRefillPerSecond
	if refill <= 0 {
		refill = 1
	}
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	maxBackoff := time.Duration(cfg.MaxBackoffSeconds) * time.Second
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FetchGuard{
		limiter:    rate.NewLimiter(rate.Limit(refill), capacity),
		retries:    cfg.Retries,
		factor:     factor,
		maxBackoff: maxBackoff,
		timeout:    timeout,
	}
}

// Do runs fn under the rate limit, retrying transient failures up to the
// configured attempt budget. Each attempt gets its own timeout. Exhausting
// the budget yields an error classified as a connection failure.
func (g *FetchGuard) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	attempts := g.retries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// Wait refuses outright when the bucket cannot refill in
				// time for the caller's deadline.
				return errors.Wrapf(errors.ErrRateLimited, "%s: %v", op, err)
			}
			return errors.Wrapf(err, "rate limit wait aborted during %s", op)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.IsSecurityViolation(err) {
			return err
		}
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "%s cancelled", op)
		}
		lastErr = err

		if attempt < attempts-1 {
			select {
			case <-time.After(g.backoff(attempt)):
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "%s cancelled during backoff", op)
			}
		}
	}

	return errors.WithDetail(
		errors.Wrapf(errors.ErrConnection, "%s failed after %d attempts: %v", op, attempts, lastErr),
		fmt.Sprintf("last error: %v", lastErr),
	)
}

// backoff computes the delay after the given zero-based attempt: the base
// delay compounded by the factor, capped, with up to 50% random jitter to
// spread concurrent retries.
func (g *FetchGuard) backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * g.factor)
		if d >= g.maxBackoff {
			d = g.maxBackoff
			break
		}
	}
	if d > g.maxBackoff {
		d = g.maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}

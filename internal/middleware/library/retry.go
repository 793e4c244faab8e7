package library

import (
	"math/rand"
	"time"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// BackoffStrategy selects how calculateDelay grows the delay
// between attempts.
type BackoffStrategy string

const (
	BackoffLinear              BackoffStrategy = "linear"
	BackoffExponential         BackoffStrategy = "exponential"
	BackoffDecorrelatedJitter  BackoffStrategy = "decorrelated-jitter"
)

// RetryOptions configures the Retry interceptor (spec.md §4.6 "retry"):
// linear/exponential/decorrelated-jitter backoff, ±25% jitter, and honoring
// a "retryAfter" hint an error carries in its Details.
type RetryOptions struct {
	MaxAttempts int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64 // used by linear (additive steps) and exponential (multiplicative)
	Strategy     BackoffStrategy
}

func (o RetryOptions) normalized() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2.0
	}
	if o.Strategy == "" {
		o.Strategy = BackoffExponential
	}
	return o
}

// calculateDelay mirrors the backoff-then-jitter shape of the urpc toolchain
// client's calculateBackoff
// (varavelio-vdl/toolchain/internal/codegen/golang/pieces/client.go),
// generalized to three strategies and a fixed ±25% jitter band per spec.md
// §4.6 instead of a single configurable jitter fraction.
func calculateDelay(o RetryOptions, attempt int, prev time.Duration) time.Duration {
	var delay time.Duration
	switch o.Strategy {
	case BackoffLinear:
		delay = o.InitialDelay + time.Duration(attempt-1)*time.Duration(o.Multiplier*float64(o.InitialDelay))
	case BackoffDecorrelatedJitter:
		base := prev
		if base <= 0 {
			base = o.InitialDelay
		}
		lo := float64(o.InitialDelay)
		hi := float64(base) * 3
		delay = time.Duration(lo + rand.Float64()*(hi-lo))
		if delay > o.MaxDelay {
			delay = o.MaxDelay
		}
		return delay
	case BackoffExponential:
		fallthrough
	default:
		delay = o.InitialDelay
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * o.Multiplier)
		}
	}
	if delay > o.MaxDelay {
		delay = o.MaxDelay
	}
	return applyJitter(delay)
}

// applyJitter applies a uniform ±25% jitter, matching spec.md §4.6's fixed
// jitter band.
func applyJitter(d time.Duration) time.Duration {
	jitter := 0.25
	factor := 1 - jitter + rand.Float64()*(2*jitter)
	return time.Duration(float64(d) * factor)
}

// Retry re-invokes next() up to MaxAttempts times while the returned error's
// code is retryable (errs.Code.Retryable), sleeping a backoff delay between
// attempts. It honors a "retryAfter" detail (time.Duration nanoseconds) an
// error carries, per spec.md §4.6 "honoring Retry-After".
func Retry(opts RetryOptions) middleware.Interceptor {
	o := opts.normalized()
	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		var lastErr error
		var prevDelay time.Duration
		for attempt := 1; attempt <= o.MaxAttempts; attempt++ {
			result, err := next()
			if err == nil {
				return result, nil
			}
			lastErr = err
			e := errs.ToError(err)
			if !e.Code.Retryable() || attempt == o.MaxAttempts {
				return nil, err
			}
			if ctx.Cancel.Observe() {
				return nil, err
			}

			delay := calculateDelay(o, attempt, prevDelay)
			if retryAfter, ok := e.Details["retryAfter"]; ok {
				if ns, ok := retryAfter.(float64); ok {
					delay = time.Duration(ns)
				}
			}
			prevDelay = delay

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Cancel.Done():
				timer.Stop()
				return nil, lastErr
			}
		}
		return nil, lastErr
	}
}

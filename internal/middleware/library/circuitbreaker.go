package library

import (
	"sync"
	"time"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// breakerState is the circuit breaker's three-state machine (spec.md §4.6
// "circuit breaker"): closed (normal), open (failing fast), half-open
// (probing for recovery).
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreakerOptions configures CircuitBreaker.
type CircuitBreakerOptions struct {
	FailureThreshold int           // consecutive failures before tripping open
	OpenDuration     time.Duration // how long to stay open before probing
	HalfOpenProbes   int           // successful probes required to close again
	// FailureCodes lists the error codes that count toward tripping the
	// breaker (spec.md §4.6); errors with any other code are treated as
	// handler-level outcomes (bad input, not found, ...) and never penalize
	// an otherwise-healthy downstream.
	FailureCodes map[errs.Code]bool
}

var defaultBreakerFailureCodes = map[errs.Code]bool{
	errs.Unavailable:      true,
	errs.DeadlineExceeded: true,
	errs.Internal:         true,
	errs.Unknown:          true,
}

func (o CircuitBreakerOptions) normalized() CircuitBreakerOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.OpenDuration <= 0 {
		o.OpenDuration = 30 * time.Second
	}
	if o.HalfOpenProbes <= 0 {
		o.HalfOpenProbes = 1
	}
	if o.FailureCodes == nil {
		o.FailureCodes = defaultBreakerFailureCodes
	}
	return o
}

// CircuitBreaker wraps a downstream handler with the closed/open/half-open
// state machine: once FailureThreshold consecutive failures occur, it fails
// fast with UNAVAILABLE for OpenDuration, then allows HalfOpenProbes trial
// calls through before fully closing again. State is shared across all
// envelopes routed through the same Interceptor value (construct one per
// protected procedure, or one per group for a shared breaker).
func CircuitBreaker(opts CircuitBreakerOptions) middleware.Interceptor {
	o := opts.normalized()
	var (
		mu            sync.Mutex
		state         = stateClosed
		failures      int
		openedAt      time.Time
		halfOpenOK    int
		probeInFlight bool
	)

	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		mu.Lock()
		switch state {
		case stateOpen:
			if time.Since(openedAt) < o.OpenDuration {
				mu.Unlock()
				return nil, errs.New(errs.Unavailable, "circuit breaker open")
			}
			state = stateHalfOpen
			halfOpenOK = 0
			probeInFlight = false
			fallthrough
		case stateHalfOpen:
			if probeInFlight {
				mu.Unlock()
				return nil, errs.New(errs.Unavailable, "circuit breaker probing")
			}
			probeInFlight = true
		}
		mu.Unlock()

		result, err := next()

		mu.Lock()
		defer mu.Unlock()
		if err != nil && o.FailureCodes[errs.ToError(err).Code] {
			probeInFlight = false
			if state == stateHalfOpen {
				// A failed probe reopens immediately without waiting for more failures.
				state = stateOpen
				openedAt = time.Now()
				return nil, err
			}
			failures++
			if failures >= o.FailureThreshold {
				state = stateOpen
				openedAt = time.Now()
			}
			return nil, err
		}
		if err != nil {
			// A non-tripping error (client-side, not a downstream health signal)
			// still releases an in-flight probe so half-open doesn't wedge.
			probeInFlight = false
			return nil, err
		}

		switch state {
		case stateHalfOpen:
			halfOpenOK++
			probeInFlight = false
			if halfOpenOK >= o.HalfOpenProbes {
				state = stateClosed
				failures = 0
			}
		default:
			failures = 0
		}
		return result, nil
	}
}

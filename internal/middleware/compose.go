// Package middleware implements the composition engine described in
// spec.md §4.3: an ordered list of interceptors folded around a terminal
// dispatch, with glob-based pattern scoping. The shape is adapted from the
// onion-model middleware chain built once at startup in the "mini-rpc"
// reference server (other_examples/2027f93f_BX-D-mini-RPC__server-server.go.go):
// "Chain(A, B, C)(handler) → A(B(C(handler)))".
package middleware

import "github.com/forattini-dev/raffel/internal/envelope"

// Next is the zero-arg continuation an Interceptor calls to invoke the rest
// of the chain (spec.md §4.3).
type Next func() (any, error)

// Interceptor wraps a terminal dispatch. It may:
//   - call next() and return its result unchanged (pass-through),
//   - call next() and transform the result or error (post-processing),
//   - short-circuit by returning without calling next() at all.
//
// The envelope and context are threaded through unchanged unless the
// interceptor explicitly derives a child context (envelope.Context.Derive),
// which is required to preserve the cancellation token per spec.md §3.
type Interceptor func(env *envelope.Envelope, ctx *envelope.Context, next Next) (any, error)

// Compose folds an ordered list of interceptors around whatever terminal
// function is supplied when the returned Interceptor is invoked. Composition
// is associative: Compose(Compose(a, b), c) behaves identically to
// Compose(a, b, c) because both reduce to the same nested closure chain.
func Compose(interceptors ...Interceptor) Interceptor {
	if len(interceptors) == 0 {
		return func(env *envelope.Envelope, ctx *envelope.Context, next Next) (any, error) {
			return next()
		}
	}
	return func(env *envelope.Envelope, ctx *envelope.Context, terminal Next) (any, error) {
		next := terminal
		for i := len(interceptors) - 1; i >= 0; i-- {
			mw := interceptors[i]
			downstream := next
			next = func() (any, error) { return mw(env, ctx, downstream) }
		}
		return next()
	}
}

// Chain is an alias of Compose kept for readers coming from the onion-model
// naming in the mini-rpc reference; both build the identical closure chain.
func Chain(interceptors ...Interceptor) Interceptor { return Compose(interceptors...) }

// ForPattern wraps inner so it only runs when the envelope's procedure
// matches glob (spec.md §4.3): "*" matches a single dotted segment, "**"
// matches any suffix, and a bare name matches exactly. When the procedure
// does not match, the chain falls straight through to next().
func ForPattern(glob string, inner Interceptor) Interceptor {
	matcher := compilePattern(glob)
	return func(env *envelope.Envelope, ctx *envelope.Context, next Next) (any, error) {
		if matcher(env.Procedure) {
			return inner(env, ctx, next)
		}
		return next()
	}
}

// Package library is the standard middleware library spec.md §4.6 requires
// every runtime to ship: request-id, logging, timeout, retry, circuit
// breaker, cache, rate limit, auth/authorization, and envelope-wrap.
package library

import (
	"github.com/google/uuid"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// RequestID stamps env.Metadata["requestId"] with ctx.RequestID (minting one
// via google/uuid if the context has none), so downstream logging and
// client-visible responses can correlate a whole request/response/stream
// lifecycle by a single id.
func RequestID() middleware.Interceptor {
	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		if ctx.RequestID == "" {
			ctx.RequestID = uuid.NewString()
		}
		if env.Metadata == nil {
			env.Metadata = make(map[string]string, 1)
		}
		env.Metadata["requestId"] = ctx.RequestID
		return next()
	}
}

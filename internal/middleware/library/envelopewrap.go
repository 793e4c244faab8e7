package library

import (
	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// Envelope is the client-facing response shape (spec.md §4.6
// "envelope-wrap"): a single discriminated union of success/error plus
// metadata. The HTTP adapter serializes responses in this shape; the other
// adapters write envelope.Envelope frames.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *errs.Error    `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// EnvelopeWrap is the outermost interceptor in a chain: it normalizes
// whatever next() returns into the canonical {success, data|error, meta}
// shape and stores it in the context extensions under "response", for
// interceptors further out in the chain to read. No adapter reads this
// value; next()'s result and error are returned unchanged.
func EnvelopeWrap() middleware.Interceptor {
	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		result, err := next()
		meta := map[string]any{"requestId": ctx.RequestID}
		if ctx.Tracing.TraceID != "" {
			meta["traceId"] = ctx.Tracing.TraceID
		}

		if err != nil {
			wrapped := Envelope{Success: false, Error: errs.ToError(err), Meta: meta}
			ctx.Set("response", wrapped)
			return nil, err
		}

		wrapped := Envelope{Success: true, Data: result, Meta: meta}
		ctx.Set("response", wrapped)
		return result, nil
	}
}

package library

import (
	"context"
	"time"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// Timeout derives a child context with a deadline d past now, and converts a
// handler that is still running when the deadline fires into a
// DEADLINE_EXCEEDED error (spec.md §4.6 "timeout"). The derived context's
// cancellation token trips the moment the deadline fires, so any downstream
// stream handler observing ctx.Cancel sees it immediately.
func Timeout(d time.Duration) middleware.Interceptor {
	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		std, cancel := context.WithTimeout(ctx.Std(), d)
		defer cancel()
		child := ctx.Derive(std)
		*ctx = *child

		done := make(chan struct{})
		var result any
		var err error
		go func() {
			result, err = next()
			close(done)
		}()

		select {
		case <-done:
			return result, err
		case <-std.Done():
			return nil, errs.Newf(errs.DeadlineExceeded, "handler exceeded %s timeout", d)
		}
	}
}

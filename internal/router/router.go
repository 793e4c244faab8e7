// Package router implements the dispatch algorithm described in spec.md §4.4:
// registry lookup, kind-compatibility check, middleware chain assembly
// (global → group → per-handler → validation → terminal), outcome wrapping
// per handler kind, and centralized error-code mapping. The connection
// model — one goroutine per in-flight envelope, a registry of named
// destinations, fan-out of frames back to a caller-held connection — is
// adapted from the teacher's Service.handleConnection loop
// (internal/broker/service.go), generalized from its hardcoded JSON-RPC
// methods to the closed-taxonomy, protocol-agnostic dispatch this runtime
// needs.
package router

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
	"github.com/forattini-dev/raffel/internal/registry"
	"github.com/forattini-dev/raffel/internal/validator"
)

// Frame is one outbound envelope the router hands back to whatever adapter
// is driving the connection; for procedures and events there is exactly one,
// for streams there may be many followed by a terminal stream:end/error.
type Frame = envelope.Envelope

// Sink receives every Frame the router produces for one in-flight envelope.
// Adapters implement this to push frames onto whatever transport they own
// (an http.ResponseWriter flush, a websocket.Conn.WriteJSON, a TCP frame
// write, ...).
type Sink func(*Frame)

// Group is a named sub-chain scoped to a procedure-name prefix, mirroring
// spec.md §4.3's "group middleware" tier.
type Group struct {
	Prefix     string
	Middleware []middleware.Interceptor
}

// Router ties a Registry to the global/group middleware tiers and dispatches
// incoming envelopes to the right handler kind.
type Router struct {
	Registry  *registry.Registry
	Validator validator.Validator
	Global    []middleware.Interceptor
	Groups    []Group
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// New builds a Router. A nil logger defaults to slog.Default(); a nil tracer
// defaults to the global OpenTelemetry tracer provider's tracer for this
// package, matching the ambient tracing setup described in SPEC_FULL.md.
func New(reg *registry.Registry, val validator.Validator, opts ...Option) *Router {
	r := &Router{
		Registry:  reg,
		Validator: val,
		Logger:    slog.Default(),
		Tracer:    otel.Tracer("github.com/forattini-dev/raffel/internal/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Router at construction time.
type Option func(*Router)

func WithGlobalMiddleware(mw ...middleware.Interceptor) Option {
	return func(r *Router) { r.Global = append(r.Global, mw...) }
}

func WithGroup(prefix string, mw ...middleware.Interceptor) Option {
	return func(r *Router) { r.Groups = append(r.Groups, Group{Prefix: prefix, Middleware: mw}) }
}

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.Logger = l } }
func WithTracer(t trace.Tracer) Option { return func(r *Router) { r.Tracer = t } }

// groupChain returns the concatenation of every Group whose Prefix matches
// the procedure, in registration order.
func (r *Router) groupChain(procedure string) []middleware.Interceptor {
	var chain []middleware.Interceptor
	for _, g := range r.Groups {
		if g.Prefix == "" || strings.HasPrefix(procedure, g.Prefix) {
			chain = append(chain, g.Middleware...)
		}
	}
	return chain
}

// Dispatch runs the full algorithm for one inbound envelope and streams every
// resulting Frame to send. It never panics: handler panics are recovered and
// converted into an INTERNAL error frame, matching spec.md §8's "never crash
// the adapter" property.
func (r *Router) Dispatch(std context.Context, env *envelope.Envelope, send Sink) {
	requestID := env.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	spanCtx, span := r.Tracer.Start(std, "raffel.dispatch."+env.Procedure)
	defer span.End()

	ctx := envelope.NewContext(spanCtx, requestID)
	ctx.Tracing = envelope.Tracing{TraceID: span.SpanContext().TraceID().String(), SpanID: span.SpanContext().SpanID().String()}
	ctx.Span = span

	// Bind the caller's context (client disconnect, server shutdown) into the
	// envelope's cancellation token for the lifetime of this dispatch.
	stopBind := make(chan struct{})
	defer close(stopBind)
	go func() {
		select {
		case <-spanCtx.Done():
			ctx.Cancel.Cancel(spanCtx.Err())
		case <-stopBind:
		}
	}()

	entry, ok := r.Registry.Lookup(env.Procedure)
	if !ok {
		r.sendError(env, send, errs.Newf(errs.NotFound, "no handler registered for %q", env.Procedure))
		span.SetStatus(codes.Error, "not found")
		return
	}

	if !kindCompatible(entry.Kind, env.Kind) {
		r.sendError(env, send, errs.Newf(errs.BadRequest, "procedure %q does not accept %s envelopes", env.Procedure, env.Kind))
		span.SetStatus(codes.Error, "kind mismatch")
		return
	}

	chain := make([]middleware.Interceptor, 0, len(r.Global)+4+len(entry.Middleware))
	chain = append(chain, r.Global...)
	chain = append(chain, r.groupChain(env.Procedure)...)
	chain = append(chain, entry.Middleware...)
	chain = append(chain, r.validationInterceptor(entry))

	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("handler panic", "procedure", env.Procedure, "recover", rec)
			r.sendError(env, send, errs.Newf(errs.Internal, "handler panicked: %v", rec))
			span.SetStatus(codes.Error, "panic")
		}
	}()

	switch entry.Kind {
	case registry.KindProcedure:
		r.dispatchProcedure(env, ctx, entry, chain, send)
	case registry.KindStream:
		r.dispatchStream(env, ctx, entry, chain, send)
	case registry.KindEvent:
		r.dispatchEvent(env, ctx, entry, chain, send)
	default:
		r.sendError(env, send, errs.Newf(errs.Unimplemented, "unknown handler kind %q", entry.Kind))
	}
}

func kindCompatible(entryKind registry.Kind, envKind envelope.Kind) bool {
	switch entryKind {
	case registry.KindProcedure:
		return envKind == envelope.KindRequest
	case registry.KindStream:
		return envKind == envelope.KindRequest || envKind == envelope.KindStreamStart
	case registry.KindEvent:
		return envKind == envelope.KindEvent
	default:
		return false
	}
}

// validationInterceptor is the innermost tier, run after every other
// middleware but before the terminal handler invocation (spec.md §4.3:
// "validation" sits directly outside "terminal").
func (r *Router) validationInterceptor(entry *registry.Entry) middleware.Interceptor {
	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		if entry.InputSchema != nil && r.Validator != nil {
			if schemaName, ok := entry.InputSchema.(string); ok {
				if err := r.Validator.Validate(schemaName, env.Payload); err != nil {
					return nil, err
				}
			}
		}
		return next()
	}
}

func (r *Router) dispatchProcedure(env *envelope.Envelope, ctx *envelope.Context, entry *registry.Entry, chain []middleware.Interceptor, send Sink) {
	terminal := func() (any, error) { return entry.Proc(ctx, env.Payload) }
	result, err := middleware.Compose(chain...)(env, ctx, terminal)
	if err != nil {
		r.sendError(env, send, errs.ToError(err))
		return
	}
	if err := r.validateOutput(entry, result); err != nil {
		r.sendError(env, send, errs.ToError(err))
		return
	}
	send(env.Reply(envelope.KindResponse, result))
}

// validateOutput checks a procedure's result against entry.OutputSchema
// (spec.md §4.5: "validate(outputSchema, result)" after dispatch), raising
// VALIDATION_ERROR if the handler produced a result its own declared schema
// rejects.
func (r *Router) validateOutput(entry *registry.Entry, result any) error {
	if entry.OutputSchema == nil || r.Validator == nil {
		return nil
	}
	schemaName, ok := entry.OutputSchema.(string)
	if !ok {
		return nil
	}
	return r.Validator.Validate(schemaName, result)
}

func (r *Router) dispatchEvent(env *envelope.Envelope, ctx *envelope.Context, entry *registry.Entry, chain []middleware.Interceptor, send Sink) {
	terminal := func() (any, error) { return nil, entry.Event(ctx, env.Payload) }
	_, err := middleware.Compose(chain...)(env, ctx, terminal)
	if err != nil {
		r.Logger.Warn("event handler error", "procedure", env.Procedure, "error", err)
		// Events never produce a reply frame (spec.md §4.4). A failed event
		// is logged and not re-delivered, whatever the entry's Delivery and
		// Retry settings; no deduplication is applied.
	}
}

// dispatchStream runs the stream state machine (spec.md §4.4): start →
// streaming → {ended | errored | cancelled}, terminal frame sent at most
// once.
func (r *Router) dispatchStream(env *envelope.Envelope, ctx *envelope.Context, entry *registry.Entry, chain []middleware.Interceptor, send Sink) {
	send(env.Reply(envelope.KindStreamStart, nil))

	emit := func(value any) error {
		if ctx.Cancel.Observe() {
			return errs.New(errs.Cancelled, "stream cancelled by caller")
		}
		send(env.Reply(envelope.KindStreamData, value))
		return nil
	}

	terminal := func() (any, error) { return nil, entry.Stream(ctx, env.Payload, emit) }
	_, err := middleware.Compose(chain...)(env, ctx, terminal)

	switch {
	case ctx.Cancel.Observe() && err == nil:
		send(env.Reply(envelope.KindStreamError, errs.New(errs.Cancelled, "stream cancelled")))
	case err != nil:
		send(env.Reply(envelope.KindStreamError, errs.ToError(err)))
	default:
		send(env.Reply(envelope.KindStreamEnd, nil))
	}
}

func (r *Router) sendError(env *envelope.Envelope, send Sink, e *errs.Error) {
	send(env.Reply(envelope.KindError, e))
}

package envelope

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// AuthContext carries the outcome of the auth middleware chain (spec.md §4.6).
type AuthContext struct {
	Authenticated bool
	Principal     string
	Claims        map[string]any
	Roles         []string
}

// Tracing carries distributed tracing identifiers for an in-flight envelope.
// TraceID/SpanID are populated from a real OpenTelemetry span started by the
// router (internal/router) so Context.tracing is backed by an actual tracer
// rather than hand-rolled ids.
type Tracing struct {
	TraceID string
	SpanID  string
}

// CancelToken is the single source of truth for cancellation of one in-flight
// envelope. It is one-shot and monotonic: once tripped, Observe and Done
// resolve immediately and every previously-registered Subscribe callback has
// already fired exactly once.
type CancelToken struct {
	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	observers []func()
	tripped   bool
	cause     error
}

// NewCancelToken creates a fresh, untripped cancellation token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Child creates a derived token that trips when either the parent trips or
// the returned cancel func is invoked — the contract spec.md §3 requires of
// any middleware-derived child context ("child cancels when parent cancels").
func (t *CancelToken) Child() (*CancelToken, func(error)) {
	child := NewCancelToken()
	cancel := func(cause error) { child.trip(cause) }
	if t != nil {
		t.Subscribe(func() { child.trip(t.cause) })
	}
	return child, cancel
}

// Observe performs a non-blocking query of whether the token has tripped.
func (t *CancelToken) Observe() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cause returns the error that tripped the token, if any.
func (t *CancelToken) Cause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// Done returns a channel closed exactly once, when the token trips. It is
// safe to select on Done() directly for the "await" behavior spec.md §4.1
// describes; a token already tripped returns an already-closed channel so
// any subsequent select resolves immediately.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Subscribe registers a callback invoked when the token trips. If the token
// has already tripped, the callback fires synchronously before Subscribe
// returns. Multiple observers all fire on a single trip, matching spec.md
// §4.1's "Multiple observers must all fire."
func (t *CancelToken) Subscribe(fn func()) {
	t.mu.Lock()
	if t.tripped {
		t.mu.Unlock()
		fn()
		return
	}
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Cancel trips the token. Safe to call multiple times or concurrently; only
// the first call has any effect, matching the one-shot invariant.
func (t *CancelToken) Cancel(cause error) {
	t.trip(cause)
}

func (t *CancelToken) trip(cause error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.tripped = true
		t.cause = cause
		observers := t.observers
		t.observers = nil
		t.mu.Unlock()

		close(t.done)
		for _, fn := range observers {
			fn()
		}
	})
}

// Context is the per-in-flight-envelope bag of request-scoped state described
// in spec.md §3: requestId, the cancellation token, optional auth, tracing,
// and an extensions side-channel middleware use to pass typed values down
// the chain (e.g. the validated payload, a resolved user object).
type Context struct {
	RequestID string
	Cancel    *CancelToken
	Auth      *AuthContext
	Tracing   Tracing
	Span      trace.Span

	std context.Context

	mu         sync.RWMutex
	extensions map[string]any
}

// NewContext builds a fresh Context rooted in a standard library context (used for
// deadlines set by the timeout middleware and for interop with libraries
// that expect a context.Context, e.g. the Store port implementations).
func NewContext(std context.Context, requestID string) *Context {
	return &Context{
		RequestID:  requestID,
		Cancel:     NewCancelToken(),
		std:        std,
		extensions: make(map[string]any),
	}
}

// Std returns the context.Context view of this Context, for code that must
// interoperate with context.Context-typed APIs (net/http, the Store port,
// the OpenTelemetry SDK).
func (c *Context) Std() context.Context {
	if c.std == nil {
		return context.Background()
	}
	return c.std
}

// Derive produces a child Context that shares Extensions and Auth by value
// (per spec.md §3, middleware "may derive a child context but must preserve
// the cancellation token"; child cancellation is wired via CancelToken.Child
// and a derived std context). Extensions writes on the child do not appear
// on the parent.
func (c *Context) Derive(std context.Context) *Context {
	child := &Context{
		RequestID:  c.RequestID,
		Auth:       c.Auth,
		Tracing:    c.Tracing,
		Span:       c.Span,
		std:        std,
		extensions: make(map[string]any),
	}
	childToken, cancel := c.Cancel.Child()
	child.Cancel = childToken
	// Bind std-context cancellation (deadlines, explicit cancel) into the
	// derived token so timeout middleware's context.WithTimeout also trips
	// the canonical cancellation token.
	go func() {
		select {
		case <-std.Done():
			cancel(std.Err())
		case <-childToken.Done():
		}
	}()

	c.mu.RLock()
	for k, v := range c.extensions {
		child.extensions[k] = v
	}
	c.mu.RUnlock()
	return child
}

// Set attaches a value to the extensions side-channel.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extensions[key] = value
}

// Get reads a value from the extensions side-channel.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.extensions[key]
	return v, ok
}

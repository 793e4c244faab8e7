// Package registry is the catalogue of named handlers described in
// spec.md §4.2: the sole source of truth for what procedure/stream/event
// names exist and what to do with them. Reads are safe for concurrent use
// during serving. Writes add entries in place; the package has no atomic
// whole-registry swap for hot reload.
package registry

import (
	"fmt"
	"sync"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// Kind is the shape of a registered handler.
type Kind string

const (
	KindProcedure Kind = "procedure"
	KindStream    Kind = "stream"
	KindEvent     Kind = "event"
)

// DeliveryGuarantee is the event delivery semantic an event handler promises
// (spec.md §3).
type DeliveryGuarantee string

const (
	BestEffort  DeliveryGuarantee = "best-effort"
	AtMostOnce  DeliveryGuarantee = "at-most-once"
	AtLeastOnce DeliveryGuarantee = "at-least-once"
)

// ProcHandler is a request/response handler: it receives the payload as the
// adapter decoded it (checked, not transformed, by the validation
// interceptor when an InputSchema is registered) and returns a result or an
// error.
type ProcHandler func(ctx *envelope.Context, payload any) (any, error)

// Emit is how a stream handler yields one frame; the router's Emit wraps each
// value the StreamHandler passes to it into a stream:data envelope.
type Emit func(value any) error

// StreamHandler produces a lazy, terminating sequence of values via emit. It
// must return promptly (with either nil or an error) once ctx.Cancel trips —
// cooperative cancellation per spec.md §4.4's stream state machine.
type StreamHandler func(ctx *envelope.Context, payload any, emit Emit) error

// EventHandler is fire-and-forget: no reply is produced regardless of the
// returned error (the router logs it; the event is not re-delivered).
type EventHandler func(ctx *envelope.Context, payload any) error

// RetryPolicy is event re-delivery metadata recorded on an Entry. The router
// does not read it: failed events are not re-delivered and not deduplicated.
type RetryPolicy struct {
	MaxAttempts  int
	DedupeWindow int64 // seconds; 0 disables deduplication
}

// Options carries everything a registration call can configure, per
// spec.md's "Design Notes" on the fluent builder DSL: "What must be
// preserved is that every fluent path ends in a single registration call
// with {name, kind, handler, schemas, middleware, metadata}." This package
// is that single registration call; any fluent front-end the caller prefers
// (chained setters, a builder struct, config literals) can construct an
// Options value and call Registry.RegisterX.
type Options struct {
	Description    string
	InputSchema    any
	OutputSchema   any
	Middleware     []middleware.Interceptor
	StreamBidirect bool
	Delivery       DeliveryGuarantee
	Retry          RetryPolicy
}

// Entry is one catalogued handler (spec.md §3 "Registry entry").
type Entry struct {
	Name        string
	Kind        Kind
	Description string

	InputSchema  any
	OutputSchema any
	Middleware   []middleware.Interceptor

	Proc   ProcHandler
	Stream StreamHandler
	Event  EventHandler

	StreamBidirect bool
	Delivery       DeliveryGuarantee
	Retry          RetryPolicy
}

// Registry is a mutable catalogue safe for concurrent reads while being
// written to at setup time. Registrations take effect one entry at a time;
// there is no way to replace the whole set of entries atomically.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

func (r *Registry) register(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Name]; exists {
		return errs.Newf(errs.AlreadyExists, "handler %q is already registered", e.Name)
	}
	r.entries[e.Name] = e
	return nil
}

// RegisterProcedure adds a request/response handler.
func (r *Registry) RegisterProcedure(name string, handler ProcHandler, opts Options) error {
	return r.register(&Entry{
		Name: name, Kind: KindProcedure, Description: opts.Description,
		InputSchema: opts.InputSchema, OutputSchema: opts.OutputSchema,
		Middleware: opts.Middleware, Proc: handler,
	})
}

// RegisterStream adds a lazy-stream handler.
func (r *Registry) RegisterStream(name string, handler StreamHandler, opts Options) error {
	return r.register(&Entry{
		Name: name, Kind: KindStream, Description: opts.Description,
		InputSchema: opts.InputSchema, OutputSchema: opts.OutputSchema,
		Middleware: opts.Middleware, Stream: handler, StreamBidirect: opts.StreamBidirect,
	})
}

// RegisterEvent adds a fire-and-forget handler.
func (r *Registry) RegisterEvent(name string, handler EventHandler, opts Options) error {
	delivery := opts.Delivery
	if delivery == "" {
		delivery = BestEffort
	}
	return r.register(&Entry{
		Name: name, Kind: KindEvent, Description: opts.Description,
		InputSchema: opts.InputSchema, OutputSchema: opts.OutputSchema,
		Middleware: opts.Middleware, Event: handler,
		Delivery: delivery, Retry: opts.Retry,
	})
}

// Lookup returns the entry registered under name, if any.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns every registered entry. The returned slice is a snapshot;
// mutating it does not affect the registry.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// MustRegisterProcedure panics on duplicate registration; convenient for
// package-init-time registration in composition roots where a name clash is
// a programming error, not a runtime condition.
func (r *Registry) MustRegisterProcedure(name string, handler ProcHandler, opts Options) {
	if err := r.RegisterProcedure(name, handler, opts); err != nil {
		panic(fmt.Sprintf("raffel: %v", err))
	}
}

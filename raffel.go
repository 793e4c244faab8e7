// Package raffel is the public facade: New wires a registry, validator,
// router, and orchestrator from a Config and hands back a Server a
// host program registers procedures/streams/events on and then runs.
package raffel

import (
	"context"
	"log/slog"

	"github.com/forattini-dev/raffel/internal/channel"
	"github.com/forattini-dev/raffel/internal/config"
	"github.com/forattini-dev/raffel/internal/middleware"
	"github.com/forattini-dev/raffel/internal/orchestrator"
	"github.com/forattini-dev/raffel/internal/registry"
	"github.com/forattini-dev/raffel/internal/router"
	"github.com/forattini-dev/raffel/internal/validator"
)

// Server is the embeddable entry point: register handlers on it, then Run.
type Server struct {
	Registry *registry.Registry
	Router   *router.Router
	Validator validator.Validator

	orchestrator *orchestrator.Orchestrator
}

// Option configures a Server at construction time.
type Option func(*options)

type options struct {
	globalMiddleware []middleware.Interceptor
	groups           []router.Group
	logger           *slog.Logger
	validator        validator.Validator
}

// WithGlobalMiddleware adds interceptors that run for every dispatched
// envelope, ahead of any group or per-handler middleware.
func WithGlobalMiddleware(mw ...middleware.Interceptor) Option {
	return func(o *options) { o.globalMiddleware = append(o.globalMiddleware, mw...) }
}

// WithGroupMiddleware scopes interceptors to procedures whose name has the
// given dotted prefix.
func WithGroupMiddleware(prefix string, mw ...middleware.Interceptor) Option {
	return func(o *options) { o.groups = append(o.groups, router.Group{Prefix: prefix, Middleware: mw}) }
}

// WithLogger overrides the default slog logger every subsystem uses.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithValidator overrides the default jsonschema/v6-backed Validator.
func WithValidator(v validator.Validator) Option { return func(o *options) { o.validator = v } }

// New builds a Server from cfg. Register procedures/streams/events on
// Server.Registry, then call Run.
func New(cfg *config.Config, opts ...Option) *Server {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.validator == nil {
		o.validator = validator.New()
	}

	reg := registry.New()
	routerOpts := []router.Option{
		router.WithLogger(o.logger),
		router.WithGlobalMiddleware(o.globalMiddleware...),
	}
	for _, g := range o.groups {
		routerOpts = append(routerOpts, router.WithGroup(g.Prefix, g.Middleware...))
	}
	r := router.New(reg, o.validator, routerOpts...)

	orch := orchestrator.New(cfg, reg, r, o.logger)

	return &Server{
		Registry:     reg,
		Router:       r,
		Validator:    o.validator,
		orchestrator: orch,
	}
}

// ChannelManager returns the WebSocket Channel Manager, available only once
// Run (or Start) has brought up the WebSocket adapter.
func (s *Server) ChannelManager() *channel.Manager {
	return s.orchestrator.Channel
}

// Start brings up every enabled protocol adapter without blocking.
func (s *Server) Start(ctx context.Context) error {
	return s.orchestrator.Start(ctx)
}

// Run starts every enabled adapter and blocks until ctx is cancelled or an
// OS shutdown signal arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	return s.orchestrator.Run(ctx)
}

// Stop gracefully shuts down every running adapter.
func (s *Server) Stop() error {
	return s.orchestrator.Stop()
}

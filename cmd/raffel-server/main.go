// Command raffel-server is the composition root for running a Raffel
// dispatcher as a standalone process: parse CLI flags with
// github.com/alexflint/go-arg (the CLI library the urpc toolchain in the
// wider retrieval pack uses, cmd/urpc/main.go), load the YAML config, build
// a Server, and run it until an OS shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alexflint/go-arg"

	"github.com/forattini-dev/raffel/internal/config"
	"github.com/forattini-dev/raffel/internal/middleware/library"

	raffel "github.com/forattini-dev/raffel"
)

type cliArgs struct {
	Config string `arg:"-c,--config" help:"path to the server YAML configuration" default:"config/raffel.yaml"`
}

func main() {
	var args cliArgs
	arg.MustParse(&args)

	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(args.Config)
	if err != nil {
		logger.Error("failed to load configuration", "path", args.Config, "error", err)
		os.Exit(1)
	}

	srv := buildServer(cfg, logger)

	logger.Info("starting raffel server", "host", cfg.Host, "port", cfg.Port)
	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// buildServer wires the ambient global middleware every deployment gets
// regardless of handler-specific configuration: request id stamping and
// structured logging. Discovery-root-based handler registration (spec.md
// §6) is left to the host program that imports this module as a library;
// this binary is the minimal standalone runner for a dispatcher whose
// handlers were registered via an init-time import, matching the "host
// program" boundary spec.md §1 draws around CLI/env concerns.
func buildServer(cfg *config.Config, logger *slog.Logger) *raffel.Server {
	return raffel.New(cfg,
		raffel.WithLogger(logger),
		raffel.WithGlobalMiddleware(
			library.RequestID(),
			library.Logging(library.LoggingOptions{Logger: logger}),
		),
	)
}

func init() {
	// Fail fast with a readable message instead of a go-arg usage dump when
	// started with an empty argv (e.g. by a process supervisor that does not
	// set argv[0]).
	if len(os.Args) == 0 {
		fmt.Fprintln(os.Stderr, "raffel-server: missing argv[0]")
		os.Exit(2)
	}
}

// Package orchestrator wires the registry, router, channel manager, and
// protocol adapters together and runs their lifecycle: start every enabled
// adapter, wait for an OS shutdown signal or an explicit Stop, then shut the
// adapters down (see Stop for what is drained). The signal-handling shape is adapted from
// the teacher's AgentFramework.handleShutdown
// (public/agent/framework.go): "Setup signal handling... Wait for shutdown
// signal or context cancellation... stopping gracefully", generalized from
// one agent process to five concurrently-running protocol adapters.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	httpadapter "github.com/forattini-dev/raffel/internal/adapter/http"
	"github.com/forattini-dev/raffel/internal/adapter/jsonrpc"
	"github.com/forattini-dev/raffel/internal/adapter/tcp"
	"github.com/forattini-dev/raffel/internal/adapter/udp"
	wsadapter "github.com/forattini-dev/raffel/internal/adapter/websocket"
	"github.com/forattini-dev/raffel/internal/channel"
	"github.com/forattini-dev/raffel/internal/config"
	"github.com/forattini-dev/raffel/internal/registry"
	"github.com/forattini-dev/raffel/internal/router"
)

// Orchestrator owns the registry, router, and every enabled protocol
// adapter, and drives their combined lifecycle.
type Orchestrator struct {
	Config   *config.Config
	Registry *registry.Registry
	Router   *router.Router
	Channel  *channel.Manager
	Logger   *slog.Logger

	httpServer *http.Server
	tcpAdapter *tcp.Adapter
	udpAdapter *udp.Adapter

	mu      sync.Mutex
	running bool
}

// New builds an Orchestrator from a fully-constructed Router (the caller is
// expected to have registered every handler and middleware beforehand, since
// registry entries are meant to live for the process lifetime per spec.md
// §3's lifecycle notes).
func New(cfg *config.Config, reg *registry.Registry, r *router.Router, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{Config: cfg, Registry: reg, Router: r, Logger: logger}
}

// Start runs every enabled adapter's listener in its own goroutine and
// returns without waiting for them to bind; use Run to block until shutdown.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already running")
	}
	o.running = true
	o.mu.Unlock()

	mux := http.NewServeMux()

	httpAdapter := httpadapter.New(o.Router, o.Logger, httpadapter.Options{
		BasePath:    o.Config.BasePath,
		CORSOrigins: o.Config.CORS.Origins,
		Compress:    true,
	})
	mux.Handle(o.Config.BasePath+"/", httpAdapter.Handler())

	if o.Config.JSONRPC.Enabled {
		rpcAdapter := jsonrpc.New(o.Router, o.Logger)
		mux.Handle(o.Config.JSONRPC.Path, rpcAdapter.Handler())
	}

	if o.Config.WebSocket.Enabled {
		wsAdapter := wsadapter.New(o.Router, o.Logger, wsadapter.Options{})
		o.Channel = wsAdapter.BindChannelManager()
		wsPath := o.Config.WebSocket.Path
		if wsPath == "" {
			wsPath = "/ws"
		}
		mux.Handle(wsPath, wsAdapter.Handler())
	}

	addr := fmt.Sprintf("%s:%d", o.Config.Host, o.Config.Port)
	o.httpServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		o.Logger.Info("http adapter listening", "addr", addr)
		if err := o.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.Logger.Error("http adapter stopped", "error", err)
		}
	}()

	if o.Config.TCP.Enabled {
		var tcpOpts tcp.Options
		if o.Config.TCP.Codec == "msgpack" {
			tcpOpts.Codec = tcp.CodecMsgpack
		}
		o.tcpAdapter = tcp.New(o.Router, o.Logger, tcpOpts)
		tcpAddr := fmt.Sprintf("%s:%d", o.Config.TCP.Host, o.Config.TCP.Port)
		go func() {
			o.Logger.Info("tcp adapter listening", "addr", tcpAddr)
			if err := o.tcpAdapter.ListenAndServe(ctx, tcpAddr); err != nil {
				o.Logger.Error("tcp adapter stopped", "error", err)
			}
		}()
	}

	if o.Config.UDP.Enabled {
		o.udpAdapter = udp.New(o.Router, o.Logger, udp.Options{})
		udpAddr := fmt.Sprintf("%s:%d", o.Config.UDP.Host, o.Config.UDP.Port)
		go func() {
			o.Logger.Info("udp adapter listening", "addr", udpAddr)
			if err := o.udpAdapter.ListenAndServe(ctx, udpAddr); err != nil {
				o.Logger.Error("udp adapter stopped", "error", err)
			}
		}()
	}

	return nil
}

// Run starts every adapter and blocks until ctx is cancelled or an OS
// shutdown signal (SIGINT/SIGTERM) arrives, then stops gracefully.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		o.Logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		o.Logger.Info("context cancelled, shutting down")
	}

	return o.Stop()
}

// Stop shuts down every running adapter. The shared HTTP server (HTTP,
// JSON-RPC, WebSocket upgrades) waits up to config.ShutdownGracePeriod for
// in-flight HTTP requests to drain; the TCP and UDP listeners are closed
// without waiting for in-flight requests.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil
	}
	o.running = false

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
	defer cancel()

	var errs []error
	if o.httpServer != nil {
		if err := o.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if o.tcpAdapter != nil {
		if err := o.tcpAdapter.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.udpAdapter != nil {
		if err := o.udpAdapter.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("orchestrator: shutdown errors: %v", errs)
	}
	return nil
}

package raffel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/forattini-dev/raffel/internal/config"
	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/middleware"
	"github.com/forattini-dev/raffel/internal/registry"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNewRegistersProceduresAndDispatches(t *testing.T) {
	cfg := &config.Config{Host: "127.0.0.1", Port: freePort(t)}
	srv := New(cfg)

	srv.Registry.MustRegisterProcedure("echo", func(ctx *envelope.Context, payload any) (any, error) {
		return payload, nil
	}, registry.Options{})

	ctx := context.Background()
	env := envelope.New("echo", envelope.KindRequest, "hi")
	var got *envelope.Envelope
	srv.Router.Dispatch(ctx, env, func(out *envelope.Envelope) { got = out })

	if got == nil || got.Payload != "hi" {
		t.Fatalf("expected the server's router to dispatch to the registered handler, got %+v", got)
	}
}

func TestNewAppliesGlobalMiddleware(t *testing.T) {
	var ran bool
	mw := func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		ran = true
		return next()
	}

	cfg := &config.Config{Host: "127.0.0.1", Port: freePort(t)}
	srv := New(cfg, WithGlobalMiddleware(mw))
	srv.Registry.MustRegisterProcedure("ping", func(ctx *envelope.Context, payload any) (any, error) {
		return "pong", nil
	}, registry.Options{})

	env := envelope.New("ping", envelope.KindRequest, nil)
	srv.Router.Dispatch(context.Background(), env, func(*envelope.Envelope) {})

	if !ran {
		t.Fatal("expected global middleware registered via WithGlobalMiddleware to run on dispatch")
	}
}

func TestRunBringsUpHTTPAdapterAndStopsCleanly(t *testing.T) {
	cfg := &config.Config{Host: "127.0.0.1", Port: freePort(t)}
	srv := New(cfg)
	srv.Registry.MustRegisterProcedure("echo", func(ctx *envelope.Context, payload any) (any, error) {
		return payload, nil
	}, registry.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("unexpected error starting server: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	url := fmt.Sprintf("http://%s:%d/echo", cfg.Host, cfg.Port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed to reach started server: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	if err := srv.Stop(); err != nil {
		t.Fatalf("unexpected error stopping server: %v", err)
	}
}

func TestChannelManagerNilBeforeWebSocketAdapterStarts(t *testing.T) {
	cfg := &config.Config{Host: "127.0.0.1", Port: freePort(t)}
	srv := New(cfg)

	if srv.ChannelManager() != nil {
		t.Fatal("expected ChannelManager to be nil before the WebSocket adapter has started")
	}
}

func TestWithValidatorOverridesDefault(t *testing.T) {
	cfg := &config.Config{Host: "127.0.0.1", Port: freePort(t)}
	custom := &alwaysFailValidator{}
	srv := New(cfg, WithValidator(custom))

	if srv.Validator != custom {
		t.Fatal("expected WithValidator to override the default validator")
	}
}

type alwaysFailValidator struct{}

func (alwaysFailValidator) Validate(schemaName string, value any) error {
	return fmt.Errorf("always fails")
}

func (alwaysFailValidator) Register(name string, schemaJSON []byte) error { return nil }

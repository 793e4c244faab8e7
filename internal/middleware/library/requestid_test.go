package library

import (
	"context"
	"testing"

	"github.com/forattini-dev/raffel/internal/envelope"
)

func TestRequestIDMintsWhenEmpty(t *testing.T) {
	interceptor := RequestID()
	env := envelope.New("ping", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "")

	_, err := interceptor(env, ctx, func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.RequestID == "" {
		t.Fatal("expected RequestID to mint a non-empty request id")
	}
	if v, ok := env.Header("requestId"); !ok || v != ctx.RequestID {
		t.Fatalf("expected env metadata to carry the minted request id, got %q, %v", v, ok)
	}
}

func TestRequestIDPreservesExisting(t *testing.T) {
	interceptor := RequestID()
	env := envelope.New("ping", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "existing-id")

	interceptor(env, ctx, func() (any, error) { return "ok", nil })

	if ctx.RequestID != "existing-id" {
		t.Fatalf("expected existing request id to be preserved, got %q", ctx.RequestID)
	}
	if v, _ := env.Header("requestId"); v != "existing-id" {
		t.Fatalf("expected env metadata to carry the existing id, got %q", v)
	}
}

package library

import (
	"context"
	"testing"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
)

func TestAuthRequiredFailsWithoutStrategy(t *testing.T) {
	interceptor := Auth(true)
	env := envelope.New("secure.op", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")

	_, err := interceptor(env, ctx, func() (any, error) { return "ok", nil })
	if err == nil {
		t.Fatal("expected auth to fail when required and no strategy resolves")
	}
	if errs.ToError(err).Code != errs.Unauthenticated {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}
}

func TestAuthOptionalPassesThroughUnauthenticated(t *testing.T) {
	interceptor := Auth(false)
	env := envelope.New("public.op", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")

	v, err := interceptor(env, ctx, func() (any, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("expected optional auth to pass through, got v=%v err=%v", v, err)
	}
	if ctx.Auth == nil || ctx.Auth.Authenticated {
		t.Fatalf("expected ctx.Auth to be set but unauthenticated, got %+v", ctx.Auth)
	}
}

func TestBearerTokenResolvesAuthContext(t *testing.T) {
	verify := func(token string) (string, map[string]any, []string, error) {
		if token == "good-token" {
			return "user-1", map[string]any{"email": "a@b.com"}, []string{"admin"}, nil
		}
		return "", nil, nil, nil
	}
	interceptor := Auth(true, BearerToken(verify))

	env := envelope.New("secure.op", envelope.KindRequest, nil).WithMetadata("authorization", "Bearer good-token")
	ctx := envelope.NewContext(context.Background(), "r-1")

	_, err := interceptor(env, ctx, func() (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Auth == nil || ctx.Auth.Principal != "user-1" {
		t.Fatalf("expected bearer token to resolve principal, got %+v", ctx.Auth)
	}
}

func TestAuthorizeDeniesMissingRole(t *testing.T) {
	interceptor := Authorize("admin")
	env := envelope.New("admin.op", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")
	ctx.Auth = &envelope.AuthContext{Authenticated: true, Roles: []string{"user"}}

	_, err := interceptor(env, ctx, func() (any, error) { return "ok", nil })
	if err == nil {
		t.Fatal("expected authorize to deny a principal missing the required role")
	}
	if errs.ToError(err).Code != errs.PermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
}

func TestAuthorizeAllowsMatchingRole(t *testing.T) {
	interceptor := Authorize("admin", "ops")
	env := envelope.New("admin.op", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")
	ctx.Auth = &envelope.AuthContext{Authenticated: true, Roles: []string{"ops"}}

	v, err := interceptor(env, ctx, func() (any, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("expected authorize to allow a matching role, got v=%v err=%v", v, err)
	}
}

func TestAuthorizeRequiresAuthentication(t *testing.T) {
	interceptor := Authorize("admin")
	env := envelope.New("admin.op", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")

	_, err := interceptor(env, ctx, func() (any, error) { return "ok", nil })
	if err == nil || errs.ToError(err).Code != errs.Unauthenticated {
		t.Fatalf("expected UNAUTHENTICATED when ctx.Auth is nil, got %v", err)
	}
}

package library

import (
	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// AuthStrategy resolves an envelope's credentials into an AuthContext. It
// returns (nil, nil) to decline (letting the next strategy in the chain
// try), a populated AuthContext on success, or an error to stop the chain
// outright (e.g. a malformed bearer token).
type AuthStrategy func(env *envelope.Envelope, ctx *envelope.Context) (*envelope.AuthContext, error)

// Auth runs strategies in order until one resolves an AuthContext, attaching
// it to ctx.Auth. If none resolve and required is true, it fails with
// UNAUTHENTICATED before the handler runs (spec.md §4.6 "auth").
func Auth(required bool, strategies ...AuthStrategy) middleware.Interceptor {
	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		for _, strategy := range strategies {
			auth, err := strategy(env, ctx)
			if err != nil {
				return nil, err
			}
			if auth != nil {
				ctx.Auth = auth
				return next()
			}
		}
		if required {
			return nil, errs.New(errs.Unauthenticated, "no auth strategy resolved credentials")
		}
		ctx.Auth = &envelope.AuthContext{Authenticated: false}
		return next()
	}
}

// BearerToken builds an AuthStrategy that reads the envelope's "authorization"
// metadata header and resolves it via verify. verify returning ("", nil,
// nil, nil) is treated as a declined token (falls through to the next strategy).
func BearerToken(verify func(token string) (principal string, claims map[string]any, roles []string, err error)) AuthStrategy {
	return func(env *envelope.Envelope, ctx *envelope.Context) (*envelope.AuthContext, error) {
		header, ok := env.Header("authorization")
		if !ok {
			return nil, nil
		}
		token := stripBearerPrefix(header)
		principal, claims, roles, err := verify(token)
		if err != nil {
			return nil, errs.Newf(errs.Unauthenticated, "invalid bearer token: %v", err)
		}
		if principal == "" {
			return nil, nil
		}
		return &envelope.AuthContext{Authenticated: true, Principal: principal, Claims: claims, Roles: roles}, nil
	}
}

func stripBearerPrefix(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}

// Authorize enforces that ctx.Auth carries at least one of the allowed
// roles, failing with PERMISSION_DENIED otherwise (spec.md §4.6
// "authorization").
func Authorize(allowedRoles ...string) middleware.Interceptor {
	allowed := make(map[string]bool, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = true
	}
	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		if ctx.Auth == nil || !ctx.Auth.Authenticated {
			return nil, errs.New(errs.Unauthenticated, "authentication required")
		}
		for _, role := range ctx.Auth.Roles {
			if allowed[role] {
				return next()
			}
		}
		return nil, errs.Newf(errs.PermissionDenied, "requires one of roles %v", allowedRoles)
	}
}

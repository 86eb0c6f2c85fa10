// Package auth binds the shared bearer-token library to this service's
// routes and scopes.
package auth

import (
	"context"

	authlib "github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/auth"
)

// Claims is the validated token content.
type Claims = authlib.Claims

// Config holds token validation settings.
type Config = authlib.Config

// FromContext returns the claims stored by the middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	return authlib.FromContext(ctx)
}

// WithClaims attaches claims to ctx, mainly for handler tests.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}

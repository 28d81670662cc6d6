// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating it via context

package auth

import (
	"context"
	"time"
)

// Identity is the authenticated user behind a request. It is rebuilt from
// the session token on every request and never persisted.
type Identity struct {
	Username  string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// identityContextKey is the key type for storing Identity in context.Context.
type identityContextKey struct{}

// claimsContextKey is the key type for storing the validated Claims.
type claimsContextKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// WithClaims attaches validated session claims and the identity derived
// from them.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey{}, claims)
	return WithIdentity(ctx, claims.Identity())
}

// ClaimsFromContext returns the validated claims, or nil if none are attached.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return claims
}

// FromContext retrieves the identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

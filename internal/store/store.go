// ABOUTME: Store interfaces and shared errors for folio-gateway persistence
// ABOUTME: Defines the credential lookup contract consumed by the auth package

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// CredentialStore is the read side the credential verifier needs. It is the
// only view of admin users the request path ever gets.
type CredentialStore interface {
	GetAdminUserByUsername(ctx context.Context, username string) (*AdminUser, error)
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

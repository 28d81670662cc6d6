// ABOUTME: Password verification against stored bcrypt hashes
// ABOUTME: Unknown users and wrong passwords are indistinguishable in result and timing

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/folio-gateway/internal/store"
)

// MinPasswordLength is the shortest password HashPassword accepts.
const MinPasswordLength = 8

// ErrPasswordTooShort is returned by HashPassword for short passwords.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// dummyHash is compared against when the user doesn't exist so the
// response time matches a real comparison.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Verifier checks submitted credentials.
type Verifier struct {
	users  store.CredentialStore
	logger *slog.Logger
}

// NewVerifier creates a verifier over users.
func NewVerifier(users store.CredentialStore) *Verifier {
	return &Verifier{
		users:  users,
		logger: slog.Default().With("component", "verifier"),
	}
}

// Verify checks password for username. It returns ErrInvalidCredentials
// whether the user is unknown or the password is wrong, and
// ErrStoreUnavailable when the lookup itself failed.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*Identity, error) {
	user, err := v.users.GetAdminUserByUsername(ctx, username)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		v.logger.Error("credential lookup failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Identity{Username: user.Username, Role: ParseRole(user.Role)}, nil
}

// HashPassword returns a bcrypt hash suitable for AdminUser.PasswordHash.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

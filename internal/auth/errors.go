// ABOUTME: Error taxonomy for login, session, and CSRF failures
// ABOUTME: Handlers map these to generic client responses and log the detail

package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLockedOut means the attempt budget for an identity is exhausted.
	ErrLockedOut = errors.New("too many failed attempts")
	// ErrInvalidToken means the session token failed signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken means the session token is past its expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrCSRFMismatch means a mutating request lacked a valid anti-forgery token.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrStoreUnavailable means the credential or lockout store failed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrWeakSecret means the signing secret is shorter than MinSecretLength.
	ErrWeakSecret = errors.New("signing secret too short")
)

// LockedOutError carries how long until the identity may try again.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrLockedOut, e.RetryAfter.Round(time.Second))
}

// Unwrap lets errors.Is match ErrLockedOut.
func (e *LockedOutError) Unwrap() error {
	return ErrLockedOut
}

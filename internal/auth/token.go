// ABOUTME: Session token issuance, re-issue, and validation
// ABOUTME: Tokens are HS256 JWTs carrying username, role, issue time, and expiry

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum signing secret size in bytes.
const MinSecretLength = 32

// DefaultSessionDuration is how long a freshly issued session lasts.
const DefaultSessionDuration = 24 * time.Hour

// Claims are the fields carried inside a session token.
type Claims struct {
	Role Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the per-request view of the claims.
func (c *Claims) Identity() *Identity {
	id := &Identity{Username: c.Subject, Role: c.Role}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// Sessions mints and validates session tokens with a process-wide secret.
// Validate is pure; nothing here holds mutable state after construction.
type Sessions struct {
	secret   []byte
	duration time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithClock overrides the time source used for issue and validation.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Sessions) { s.now = now }
}

// WithSessionDuration overrides DefaultSessionDuration.
func WithSessionDuration(d time.Duration) SessionOption {
	return func(s *Sessions) { s.duration = d }
}

// NewSessions creates a token issuer/validator. The secret must be at least
// MinSecretLength bytes.
func NewSessions(secret []byte, opts ...SessionOption) (*Sessions, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrWeakSecret, len(secret), MinSecretLength)
	}

	s := &Sessions{
		secret:   secret,
		duration: DefaultSessionDuration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// Duration returns the lifetime of issued sessions.
func (s *Sessions) Duration() time.Duration {
	return s.duration
}

// Issue mints a new session token for username with role.
func (s *Sessions) Issue(username string, role Role) (string, *Claims, error) {
	if username == "" {
		return "", nil, errors.New("issuing session: empty username")
	}

	now := s.now().Truncate(time.Second)
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing session token: %w", err)
	}
	return token, claims, nil
}

// Reissue mints a brand-new token for an already validated session. The old
// token is untouched and stays valid until its own expiry.
func (s *Sessions) Reissue(claims *Claims) (string, *Claims, error) {
	if claims == nil {
		return "", nil, ErrInvalidToken
	}
	return s.Issue(claims.Subject, claims.Role)
}

// Validate verifies the token signature and claims. Expired tokens return
// ErrExpiredToken; every other failure wraps ErrInvalidToken.
func (s *Sessions) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", ErrInvalidToken)
	}
	return claims, nil
}

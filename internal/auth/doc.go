// Package auth provides authentication primitives for folio-gateway.
//
// # Credentials
//
// Verifier checks a username and password against the bcrypt hash held by a
// store.CredentialStore. Unknown users and wrong passwords both return
// ErrInvalidCredentials, and an unknown user still pays for a bcrypt
// comparison so the two cases take the same time. Store failures return
// ErrStoreUnavailable. Passwords are never logged.
//
// # Session Tokens
//
// Sessions issues HS256 JWTs with these claims:
//
//   - sub: username
//   - role: "admin" or absent
//   - iat, exp: issue time and expiry (exp = iat + session duration, 24h by default)
//   - jti: random id so tokens issued in the same second differ
//
// Tokens are immutable. Reissue mints a new token for an already validated
// session instead of extending the old one. Validate accepts only HS256,
// requires exp, and rejects tokens at or past their expiry. Callers treat
// ErrExpiredToken and ErrInvalidToken the same way.
//
// The token is only ever sent to the client in the folio_session cookie
// (HttpOnly, SameSite=Strict, Path=/, Secure unless disabled).
//
// # CSRF
//
// CSRF derives a token from the session's (sub, iat) pair with an HMAC keyed
// by HKDF(secret). The client receives it in JSON responses, keeps it in
// memory, and echoes it in the X-CSRF-Token header on mutating requests.
//
// # Roles
//
// Role is a closed enum. RoleNone is the zero value, so an absent or unknown
// role never grants access.
//
// # Context
//
//	ctx = auth.WithIdentity(ctx, identity)
//	id := auth.FromContext(ctx)
package auth

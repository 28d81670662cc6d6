// ABOUTME: Session cookie construction and extraction for HTTP handlers
// ABOUTME: The cookie is the only place the session token travels to the client

package auth

import (
	"net/http"
	"time"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "folio_session"

// CookieOptions controls the attributes of the session cookie.
type CookieOptions struct {
	Secure bool
}

// SessionCookie returns an HttpOnly, SameSite=Strict cookie holding token
// that expires with the session.
func (o CookieOptions) SessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearedCookie returns a cookie that deletes the session cookie.
func (o CookieOptions) ClearedCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// TokenFromRequest returns the session token from r, or "" if there is none.
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

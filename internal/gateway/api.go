// ABOUTME: HTTP handlers for the admin auth endpoints: login, session check, logout, refresh
// ABOUTME: Login runs lockout check, credential verification, and session issuance in that order

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/folio-gateway/internal/auth"
	"github.com/2389/folio-gateway/internal/lockout"
	"github.com/2389/folio-gateway/internal/metrics"
)

// maxLoginBody caps the login request body.
const maxLoginBody = 4 << 10

// LoginRequest is the JSON body for POST /api/admin/auth.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserInfo describes the signed-in user.
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginResponse is returned by a successful login or refresh.
type LoginResponse struct {
	Success   bool      `json:"success"`
	User      UserInfo  `json:"user"`
	CSRFToken string    `json:"csrfToken"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// FailureResponse is returned by a rejected login.
type FailureResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
	RetryAfter        *int   `json:"retryAfter,omitempty"`
}

// SessionResponse is the JSON response for GET /api/admin/auth.
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	Username      string     `json:"username,omitempty"`
	Role          string     `json:"role,omitempty"`
	CSRFToken     string     `json:"csrfToken,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Client-facing messages. Failures never say which of username or password was wrong.
const (
	msgInvalidCredentials = "invalid username or password"
	msgLockedOut          = "too many failed attempts, try again later"
	msgUnavailable        = "service unavailable"
	msgBadRequest         = "username and password are required"
)

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	noStore(w)

	req, err := parseLoginRequest(r.Body)
	if err != nil {
		g.metrics.Login(metrics.LoginBadRequest)
		writeJSON(w, http.StatusBadRequest, FailureResponse{Message: msgBadRequest})
		return
	}

	ip := ClientIP(r, g.config.Server.TrustedPrefixes)
	key := lockout.LoginKey(ip, req.Username)
	limit, window := g.config.Lockout.MaxAttempts, g.config.Lockout.Window
	logger := g.logger.With("username", req.Username, "client_ip", ip)

	// Check turns away keys that are already locked without writing.
	decision, err := g.tracker.Check(ctx, key, limit, window)
	if err == nil && decision.Allowed {
		// Reserve claims this attempt atomically, so concurrent guesses
		// racing past Check still cannot exceed the limit.
		decision, err = g.tracker.Reserve(ctx, key, limit, window)
	}
	if err != nil {
		logger.Error("lockout check failed", "error", err)
		g.metrics.Login(metrics.LoginUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, FailureResponse{Message: msgUnavailable})
		return
	}
	if !decision.Allowed {
		lockErr := &auth.LockedOutError{RetryAfter: decision.RetryAfter}
		logger.Warn("login rejected", "error", lockErr)
		g.metrics.Login(metrics.LoginLockedOut)
		writeLockedOut(w, decision.RetryAfter)
		return
	}

	identity, err := g.verifier.Verify(ctx, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		// The failure was counted when the attempt was reserved.
		if decision.Remaining == 0 {
			g.metrics.Lockout()
		}
		logger.Info("login failed", "remaining_attempts", decision.Remaining)
		g.metrics.Login(metrics.LoginInvalid)
		remaining := decision.Remaining
		writeJSON(w, http.StatusUnauthorized, FailureResponse{
			Message:           msgInvalidCredentials,
			RemainingAttempts: &remaining,
		})
		return
	case err != nil:
		logger.Error("credential verification failed", "error", err)
		g.metrics.Login(metrics.LoginUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, FailureResponse{Message: msgUnavailable})
		return
	}

	if err := g.tracker.Reset(ctx, key); err != nil {
		// The session is still issued; the stale count expires with its window.
		logger.Warn("clearing lockout record failed", "error", err)
	}

	token, claims, err := g.sessions.Issue(identity.Username, identity.Role)
	if err != nil {
		logger.Error("issuing session failed", "error", err)
		g.metrics.Login(metrics.LoginUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, FailureResponse{Message: msgUnavailable})
		return
	}

	logger.Info("login succeeded", "role", identity.Role.String())
	g.metrics.Login(metrics.LoginSuccess)
	g.metrics.SessionIssued("login")
	g.writeSession(w, token, claims)
}

func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	token := auth.TokenFromRequest(r)
	if token == "" {
		writeJSON(w, http.StatusOK, SessionResponse{})
		return
	}

	claims, err := g.sessions.Validate(token)
	if err != nil {
		http.SetCookie(w, g.cookies.ClearedCookie())
		writeJSON(w, http.StatusOK, SessionResponse{})
		return
	}

	expires := claims.ExpiresAt.Time
	writeJSON(w, http.StatusOK, SessionResponse{
		Authenticated: true,
		Username:      claims.Subject,
		Role:          claims.Role.String(),
		CSRFToken:     g.csrf.Derive(claims),
		ExpiresAt:     &expires,
	})
}

// handleLogout clears the session cookie. The auth path bypasses the gate,
// so a live session must present its CSRF token here; a stale or missing
// cookie is cleared without one.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	if token := auth.TokenFromRequest(r); token != "" {
		if claims, err := g.sessions.Validate(token); err == nil {
			if !g.csrf.Check(r.Header.Get(auth.CSRFHeader), claims) {
				g.logger.Warn("logout rejected", "username", claims.Subject, "error", auth.ErrCSRFMismatch)
				writeJSON(w, http.StatusForbidden, FailureResponse{Message: "invalid csrf token"})
				return
			}
			g.logger.Info("logout", "username", claims.Subject)
		}
	}

	http.SetCookie(w, g.cookies.ClearedCookie())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRefresh reissues the caller's session. The gate has already
// validated the session and its CSRF token.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	noStore(w)

	claims := auth.ClaimsFromContext(r.Context())
	token, next, err := g.sessions.Reissue(claims)
	if err != nil {
		g.logger.Error("reissuing session failed", "error", err)
		writeJSON(w, http.StatusUnauthorized, FailureResponse{Message: "authentication required"})
		return
	}

	g.logger.Debug("session refreshed", "username", next.Subject)
	g.metrics.SessionIssued("refresh")
	g.writeSession(w, token, next)
}

func (g *Gateway) writeSession(w http.ResponseWriter, token string, claims *auth.Claims) {
	http.SetCookie(w, g.cookies.SessionCookie(token, claims.ExpiresAt.Time))
	writeJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		User:      UserInfo{Username: claims.Subject, Role: claims.Role.String()},
		CSRFToken: g.csrf.Derive(claims),
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

func parseLoginRequest(body io.Reader) (*LoginRequest, error) {
	var req LoginRequest
	dec := json.NewDecoder(io.LimitReader(body, maxLoginBody))
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decoding login request: %w", err)
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, errors.New("username and password are required")
	}
	return &req, nil
}

func writeLockedOut(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, FailureResponse{
		Message:    msgLockedOut,
		RetryAfter: &secs,
	})
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

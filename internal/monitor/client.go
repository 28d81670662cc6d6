// ABOUTME: HTTP calls the session monitor makes against the gateway auth endpoints
// ABOUTME: Token claims are decoded without verification and used only for scheduling

package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginError describes a rejected login.
type LoginError struct {
	Status            int
	Message           string
	RemainingAttempts *int
	RetryAfter        time.Duration
}

func (e *LoginError) Error() string {
	switch {
	case e.RetryAfter > 0:
		return fmt.Sprintf("login failed (%d): %s; retry after %s", e.Status, e.Message, e.RetryAfter)
	case e.RemainingAttempts != nil:
		return fmt.Sprintf("login failed (%d): %s; %d attempts remaining", e.Status, e.Message, *e.RemainingAttempts)
	default:
		return fmt.Sprintf("login failed (%d): %s", e.Status, e.Message)
	}
}

type sessionBody struct {
	Authenticated bool      `json:"authenticated"`
	Username      string    `json:"username"`
	Role          string    `json:"role"`
	CSRFToken     string    `json:"csrfToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type loginBody struct {
	Success bool `json:"success"`
	User    struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
	CSRFToken         string    `json:"csrfToken"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Message           string    `json:"message"`
	RemainingAttempts *int      `json:"remainingAttempts"`
	RetryAfter        *int      `json:"retryAfter"`
}

func (b *loginBody) session() *Session {
	return &Session{
		Username:  b.User.Username,
		Role:      b.User.Role,
		CSRFToken: b.CSRFToken,
		ExpiresAt: b.ExpiresAt,
	}
}

// check asks the gateway whether the jar holds a valid session.
func (m *Monitor) check(ctx context.Context) (*Session, error) {
	req, err := m.newRequest(ctx, http.MethodGet, authPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("checking session: unexpected status %d", resp.StatusCode)
	}
	var body sessionBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding session response: %w", err)
	}
	if !body.Authenticated {
		return nil, ErrNotAuthenticated
	}
	return &Session{
		Username:  body.Username,
		Role:      body.Role,
		CSRFToken: body.CSRFToken,
		ExpiresAt: body.ExpiresAt,
	}, nil
}

func (m *Monitor) login(ctx context.Context, username, password string) (*Session, error) {
	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, fmt.Errorf("encoding login request: %w", err)
	}
	req, err := m.newRequest(ctx, http.MethodPost, authPath, payload)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	defer drain(resp)

	var body loginBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding login response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		lerr := &LoginError{Status: resp.StatusCode, Message: body.Message, RemainingAttempts: body.RemainingAttempts}
		if body.RetryAfter != nil {
			lerr.RetryAfter = time.Duration(*body.RetryAfter) * time.Second
		} else if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			lerr.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, lerr
	}
	return body.session(), nil
}

// postRefresh asks the gateway to reissue the session. 401 and 403 are
// final and wrap ErrRefreshRejected.
func (m *Monitor) postRefresh(ctx context.Context, csrf string) (*Session, error) {
	req, err := m.newRequest(ctx, http.MethodPost, refreshPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(csrfHeader, csrf)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	default:
		return nil, fmt.Errorf("refreshing session: unexpected status %d", resp.StatusCode)
	}

	var body loginBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, body.Message)
	}
	return body.session(), nil
}

func (m *Monitor) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.base.JoinPath(path).String(), r)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// decodeExpiry reads exp from token without checking its signature. The
// result is only used to schedule a refresh; the gateway remains the sole
// authority on whether the token is valid.
func decodeExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("decoding token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

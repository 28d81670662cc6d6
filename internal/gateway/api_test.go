// ABOUTME: End-to-end tests for the admin auth endpoints through the full gated router
// ABOUTME: Covers login, lockout after repeated failures, session check, logout, refresh, and proxying

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/folio-gateway/internal/auth"
	"github.com/2389/folio-gateway/internal/config"
	"github.com/2389/folio-gateway/internal/metrics"
)

type apiFixture struct {
	gw       *Gateway
	upstream *httptest.Server
	seen     chan http.Header
}

func newAPIFixture(t *testing.T, mutate func(*config.Config)) *apiFixture {
	t.Helper()
	f := &apiFixture{seen: make(chan http.Header, 16)}
	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.seen <- r.Header.Clone()
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	t.Cleanup(f.upstream.Close)

	cfg := testConfig(t, f.upstream.URL, "")
	if mutate != nil {
		mutate(cfg)
	}
	f.gw = newTestGateway(t, cfg)
	createUser(t, f.gw.store, "ada", "correct-horse", "admin")
	createUser(t, f.gw.store, "guest", "guest-password", "")
	return f
}

type reqOpts struct {
	cookie   *http.Cookie
	csrf     string
	remoteIP string
	headers  map[string]string
}

func (f *apiFixture) do(method, target string, body any, o reqOpts) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}

	r := httptest.NewRequest(method, target, &buf)
	if o.remoteIP != "" {
		r.RemoteAddr = o.remoteIP + ":40000"
	}
	if o.cookie != nil {
		r.AddCookie(o.cookie)
	}
	if o.csrf != "" {
		r.Header.Set(auth.CSRFHeader, o.csrf)
	}
	for k, v := range o.headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.gw.Handler().ServeHTTP(rec, r)
	return rec
}

func (f *apiFixture) login(t *testing.T, username, password string) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: username, Password: password}, reqOpts{})
	return rec, sessionCookie(rec)
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func TestLogin_Success(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, cookie := f.login(t, "ada", "correct-horse")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)

	resp := decode[LoginResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, UserInfo{Username: "ada", Role: "admin"}, resp.User)
	assert.NotEmpty(t, resp.CSRFToken)
	assert.False(t, resp.ExpiresAt.IsZero())

	claims, err := f.gw.sessions.Validate(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "ada", claims.Subject)
	assert.Equal(t, resp.ExpiresAt.Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.metrics.LoginAttempts.WithLabelValues(metrics.LoginSuccess)))
}

func TestLogin_BadRequest(t *testing.T) {
	f := newAPIFixture(t, nil)

	for name, body := range map[string]any{
		"not json":       "{nope",
		"empty":          "",
		"missing fields": map[string]string{"username": "ada"},
		"blank username": LoginRequest{Username: "  ", Password: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/admin/auth", body, reqOpts{})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, decode[FailureResponse](t, rec).Success)
		})
	}
}

func TestLogin_UnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	f := newAPIFixture(t, nil)

	wrong := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "nope"}, reqOpts{remoteIP: "198.51.100.1"})
	unknown := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "nobody", Password: "nope"}, reqOpts{remoteIP: "198.51.100.1"})

	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)

	a, b := decode[FailureResponse](t, wrong), decode[FailureResponse](t, unknown)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, msgInvalidCredentials, a.Message)
	require.NotNil(t, a.RemainingAttempts)
	assert.Equal(t, 4, *a.RemainingAttempts)
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	f := newAPIFixture(t, nil)
	bad := LoginRequest{Username: "ada", Password: "wrong"}
	opts := reqOpts{remoteIP: "203.0.113.9"}

	for i := 1; i <= 5; i++ {
		rec := f.do(http.MethodPost, "/api/admin/auth", bad, opts)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
		resp := decode[FailureResponse](t, rec)
		require.NotNil(t, resp.RemainingAttempts)
		assert.Equal(t, 5-i, *resp.RemainingAttempts, "attempt %d", i)
	}

	// The correct password is refused while locked out.
	rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, opts)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Nil(t, sessionCookie(rec))

	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)
	assert.LessOrEqual(t, retry, 15*60)

	resp := decode[FailureResponse](t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.RetryAfter)
	assert.Equal(t, retry, *resp.RetryAfter)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.metrics.LockoutsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.metrics.LoginAttempts.WithLabelValues(metrics.LoginLockedOut)))

	t.Run("other clients are unaffected", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, reqOpts{remoteIP: "203.0.113.10"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLogin_SuccessResetsFailures(t *testing.T) {
	f := newAPIFixture(t, nil)
	opts := reqOpts{remoteIP: "203.0.113.20"}

	for i := 0; i < 4; i++ {
		f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "wrong"}, opts)
	}
	rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, opts)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "wrong"}, opts)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 4, *decode[FailureResponse](t, rec).RemainingAttempts)
}

func TestLogin_SQLiteLockoutBackend(t *testing.T) {
	f := newAPIFixture(t, func(cfg *config.Config) {
		cfg.Lockout.Backend = config.LockoutBackendSQLite
		cfg.Lockout.MaxAttempts = 2
	})
	opts := reqOpts{remoteIP: "203.0.113.30"}

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "wrong"}, opts)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, opts)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLogin_ConcurrentGuessesHoldTheLimit(t *testing.T) {
	for _, backend := range []string{config.LockoutBackendMemory, config.LockoutBackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			f := newAPIFixture(t, func(cfg *config.Config) {
				cfg.Lockout.Backend = backend
			})
			opts := reqOpts{remoteIP: "198.51.100.7"}
			bad := LoginRequest{Username: "ada", Password: "wrong-guess"}

			var mu sync.Mutex
			codes := map[int]int{}
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec := f.do(http.MethodPost, "/api/admin/auth", bad, opts)
					mu.Lock()
					codes[rec.Code]++
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Equal(t, 5, codes[http.StatusUnauthorized], "password guesses evaluated")
			assert.Equal(t, 35, codes[http.StatusTooManyRequests])
			assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.metrics.LockoutsTotal))

			rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, opts)
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		})
	}
}

func TestLogin_Throttled(t *testing.T) {
	f := newAPIFixture(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 2
	})
	opts := reqOpts{remoteIP: "203.0.113.40"}

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, opts)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, opts)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.metrics.LoginAttempts.WithLabelValues(metrics.LoginThrottled)))

	// Session checks are not throttled.
	rec = f.do(http.MethodGet, "/api/admin/auth", nil, opts)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_StoreUnavailable(t *testing.T) {
	f := newAPIFixture(t, nil)
	_ = f.gw.store.Close()

	rec := f.do(http.MethodPost, "/api/admin/auth", LoginRequest{Username: "ada", Password: "correct-horse"}, reqOpts{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, msgUnavailable, decode[FailureResponse](t, rec).Message)
}

func TestSessionCheck(t *testing.T) {
	f := newAPIFixture(t, nil)

	t.Run("anonymous", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/admin/auth", nil, reqOpts{})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[SessionResponse](t, rec)
		assert.False(t, resp.Authenticated)
		assert.Empty(t, resp.Username)
	})

	t.Run("authenticated", func(t *testing.T) {
		loginRec, cookie := f.login(t, "ada", "correct-horse")
		login := decode[LoginResponse](t, loginRec)

		rec := f.do(http.MethodGet, "/api/admin/auth", nil, reqOpts{cookie: cookie})
		resp := decode[SessionResponse](t, rec)
		assert.True(t, resp.Authenticated)
		assert.Equal(t, "ada", resp.Username)
		assert.Equal(t, "admin", resp.Role)
		assert.Equal(t, login.CSRFToken, resp.CSRFToken)
		require.NotNil(t, resp.ExpiresAt)
	})

	t.Run("stale cookie is cleared", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/admin/auth", nil, reqOpts{cookie: &http.Cookie{Name: auth.SessionCookieName, Value: "a.b.c"}})
		assert.False(t, decode[SessionResponse](t, rec).Authenticated)
		cleared := sessionCookie(rec)
		require.NotNil(t, cleared)
		assert.Less(t, cleared.MaxAge, 0)
	})
}

func TestLogout(t *testing.T) {
	f := newAPIFixture(t, nil)
	loginRec, cookie := f.login(t, "ada", "correct-horse")
	csrf := decode[LoginResponse](t, loginRec).CSRFToken

	t.Run("live session needs its csrf token", func(t *testing.T) {
		for name, supplied := range map[string]string{"missing": "", "wrong": "not-the-token"} {
			rec := f.do(http.MethodDelete, "/api/admin/auth", nil, reqOpts{cookie: cookie, csrf: supplied})
			assert.Equal(t, http.StatusForbidden, rec.Code, name)
			assert.Nil(t, sessionCookie(rec), "%s: cookie left alone", name)
		}
	})

	t.Run("stale cookie is cleared without a token", func(t *testing.T) {
		stale := &http.Cookie{Name: auth.SessionCookieName, Value: "garbage"}
		rec := f.do(http.MethodDelete, "/api/admin/auth", nil, reqOpts{cookie: stale})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, sessionCookie(rec))
		assert.Empty(t, sessionCookie(rec).Value)
	})

	rec := f.do(http.MethodDelete, "/api/admin/auth", nil, reqOpts{cookie: cookie, csrf: csrf})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"success": true}, decode[map[string]bool](t, rec))

	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestRefresh(t *testing.T) {
	f := newAPIFixture(t, nil)
	loginRec, cookie := f.login(t, "ada", "correct-horse")
	login := decode[LoginResponse](t, loginRec)

	t.Run("requires csrf token", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/admin/auth/refresh", nil, reqOpts{cookie: cookie})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("requires a session", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/admin/auth/refresh", nil, reqOpts{csrf: login.CSRFToken})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("issues a new session", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/admin/auth/refresh", nil, reqOpts{cookie: cookie, csrf: login.CSRFToken})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[LoginResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "ada", resp.User.Username)

		next := sessionCookie(rec)
		require.NotNil(t, next)
		claims, err := f.gw.sessions.Validate(next.Value)
		require.NoError(t, err)
		assert.Equal(t, "ada", claims.Subject)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.gw.metrics.SessionsIssued.WithLabelValues("refresh")))
	})
}

func TestGuestCannotReachAdmin(t *testing.T) {
	f := newAPIFixture(t, nil)
	rec, cookie := f.login(t, "guest", "guest-password")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LoginResponse](t, rec)
	assert.Empty(t, resp.User.Role)

	rec = f.do(http.MethodGet, "/api/admin/posts", nil, reqOpts{cookie: cookie})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.seen)
}

func TestUpstreamProxy(t *testing.T) {
	f := newAPIFixture(t, nil)
	loginRec, cookie := f.login(t, "ada", "correct-horse")
	login := decode[LoginResponse](t, loginRec)

	t.Run("public page", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/blog/hello", nil, reqOpts{headers: map[string]string{HeaderUser: "mallory", HeaderRole: "admin"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "upstream:/blog/hello", rec.Body.String())

		h := <-f.seen
		assert.Empty(t, h.Get(HeaderUser), "spoofed identity header is stripped")
		assert.Empty(t, h.Get(HeaderRole))
	})

	t.Run("admin api carries identity", func(t *testing.T) {
		rec := f.do(http.MethodPut, "/api/admin/posts/7", `{"title":"x"}`, reqOpts{
			cookie:  cookie,
			csrf:    login.CSRFToken,
			headers: map[string]string{HeaderUser: "mallory"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		h := <-f.seen
		assert.Equal(t, "ada", h.Get(HeaderUser))
		assert.Equal(t, "admin", h.Get(HeaderRole))
	})

	t.Run("anonymous admin page redirects", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/admin/posts", nil, reqOpts{})
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/admin/login"))
	})

	t.Run("unsupported method on auth endpoint", func(t *testing.T) {
		rec := f.do(http.MethodPut, "/api/admin/auth", nil, reqOpts{})
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestNoUpstreamConfigured(t *testing.T) {
	gw := newTestGateway(t, testConfig(t, "", ""))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blog/hello", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

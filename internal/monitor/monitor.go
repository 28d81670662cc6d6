// ABOUTME: Client session monitor that checks a folio session and refreshes it before expiry
// ABOUTME: Owns exactly one pending refresh timer; replacing it always cancels the old one first

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Defaults for the refresh schedule and retry policy.
const (
	DefaultRefreshMargin = 5 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultBackoff       = time.Second
	DefaultTimeout       = 10 * time.Second
)

// Paths on the gateway.
const (
	authPath    = "/api/admin/auth"
	refreshPath = "/api/admin/auth/refresh"
	sessionName = "folio_session"
	csrfHeader  = "X-CSRF-Token"
)

var (
	// ErrNotAuthenticated means the gateway reported no valid session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRefreshRejected means the gateway refused to reissue the session.
	ErrRefreshRejected = errors.New("session refresh rejected")
)

// Session is the client's view of the current session.
type Session struct {
	Username  string
	Role      string
	CSRFToken string
	ExpiresAt time.Time
}

// stopper is satisfied by *time.Timer.
type stopper interface {
	Stop() bool
}

// Monitor keeps one client session alive by refreshing it shortly before
// it expires. It is safe for concurrent use.
type Monitor struct {
	client      *http.Client
	base        *url.URL
	margin      time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
	sleep     func(context.Context, time.Duration) error

	onLogout  func(error)
	onRefresh func(Session)

	mu      sync.Mutex
	ctx     context.Context
	timer   stopper
	gen     uint64
	session *Session
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHTTPClient uses c for requests. A cookie jar is added if c has none.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithRefreshMargin sets how long before expiry the refresh fires.
func WithRefreshMargin(d time.Duration) Option {
	return func(m *Monitor) { m.margin = d }
}

// WithRetry sets the refresh attempt budget and the initial backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(m *Monitor) {
		m.maxAttempts = attempts
		m.backoff = backoff
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// OnLogout registers fn to run when the session is lost: a failed check,
// an exhausted refresh, or an explicit Logout (with a nil error).
func OnLogout(fn func(reason error)) Option {
	return func(m *Monitor) { m.onLogout = fn }
}

// OnRefresh registers fn to run after every successful refresh.
func OnRefresh(fn func(Session)) Option {
	return func(m *Monitor) { m.onRefresh = fn }
}

// New creates a monitor for the gateway at baseURL.
func New(baseURL string, opts ...Option) (*Monitor, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	m := &Monitor{
		base:        base,
		margin:      DefaultRefreshMargin,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		logger:      slog.Default().With("component", "monitor"),
		now:         time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		sleep: sleepContext,
		ctx:   context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		m.client = &http.Client{Timeout: DefaultTimeout}
	}
	if m.client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		m.client.Jar = jar
	}
	if m.maxAttempts < 1 {
		m.maxAttempts = 1
	}
	return m, nil
}

// Session returns a copy of the current session, or nil.
func (m *Monitor) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Start checks the current session and schedules its refresh. Refresh
// requests made later run under ctx. When there is no valid session the
// logout hook runs and ErrNotAuthenticated is returned.
func (m *Monitor) Start(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	sess, err := m.check(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			m.logout(m.currentGen(), err)
		}
		return nil, err
	}

	m.mu.Lock()
	m.install(sess)
	m.mu.Unlock()
	return sess, nil
}

// Login authenticates and schedules the refresh of the new session,
// replacing any pending timer.
func (m *Monitor) Login(ctx context.Context, username, password string) (*Session, error) {
	sess, err := m.login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.ctx = ctx
	}
	m.install(sess)
	m.mu.Unlock()
	return sess, nil
}

// Logout ends the session on the gateway and stops the monitor. A monitor
// that has not checked its session yet fetches the CSRF token first.
func (m *Monitor) Logout(ctx context.Context) error {
	var csrf string
	m.mu.Lock()
	if m.session != nil {
		csrf = m.session.CSRFToken
	}
	m.mu.Unlock()
	if csrf == "" {
		if sess, err := m.check(ctx); err == nil {
			csrf = sess.CSRFToken
		}
	}

	req, err := m.newRequest(ctx, http.MethodDelete, authPath, nil)
	if err != nil {
		return err
	}
	if csrf != "" {
		req.Header.Set(csrfHeader, csrf)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	status := resp.StatusCode
	drain(resp)
	if status != http.StatusOK {
		return fmt.Errorf("logging out: unexpected status %d", status)
	}

	m.logout(m.currentGen(), nil)
	return nil
}

// Stop cancels the pending refresh. The session itself is left alone.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimer()
}

// Token returns the session token held in the cookie jar, if any.
func (m *Monitor) Token() string {
	for _, c := range m.client.Jar.Cookies(m.base) {
		if c.Name == sessionName {
			return c.Value
		}
	}
	return ""
}

// SetToken places a previously saved session token in the cookie jar.
func (m *Monitor) SetToken(token string) {
	m.client.Jar.SetCookies(m.base, []*http.Cookie{{
		Name:     sessionName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	}})
}

// install records sess and replaces the pending timer. Caller holds m.mu.
func (m *Monitor) install(sess *Session) {
	m.session = sess

	expiry := sess.ExpiresAt
	if token := m.Token(); token != "" {
		if exp, err := decodeExpiry(token); err == nil {
			expiry = exp
		} else {
			m.logger.Debug("reading token expiry failed, using response value", "error", err)
		}
	}

	delay := expiry.Add(-m.margin).Sub(m.now())
	if delay < 0 {
		delay = 0
	}

	m.cancelTimer()
	gen := m.gen
	m.timer = m.afterFunc(delay, func() { m.refresh(gen) })
	m.logger.Debug("refresh scheduled", "username", sess.Username, "expires_at", expiry, "in", delay)
}

// cancelTimer stops the pending timer and invalidates its callback.
// Caller holds m.mu.
func (m *Monitor) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Monitor) currentGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// refresh runs when the timer for generation gen fires.
func (m *Monitor) refresh(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.session == nil {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	csrf := m.session.CSRFToken
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := m.backoff << (attempt - 2)
			if err := m.sleep(ctx, wait); err != nil {
				return
			}
		}

		sess, err := m.postRefresh(ctx, csrf)
		if err == nil {
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			m.install(sess)
			onRefresh := m.onRefresh
			m.mu.Unlock()

			m.logger.Info("session refreshed", "username", sess.Username, "expires_at", sess.ExpiresAt)
			if onRefresh != nil {
				onRefresh(*sess)
			}
			return
		}

		lastErr = err
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrRefreshRejected) {
			break
		}
		m.logger.Warn("session refresh failed", "attempt", attempt, "max_attempts", m.maxAttempts, "error", err)
	}

	m.logout(gen, lastErr)
}

// logout clears local state and runs the logout hook, unless a newer
// generation has taken over since gen.
func (m *Monitor) logout(gen uint64, reason error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.cancelTimer()
	m.session = nil
	onLogout := m.onLogout
	m.mu.Unlock()

	if reason != nil {
		m.logger.Warn("session lost", "reason", reason)
	}
	if onLogout != nil {
		onLogout(reason)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ABOUTME: Gateway orchestrator wiring stores, auth components, the route gate, and the HTTP server
// ABOUTME: Manages listeners (TCP or tailnet), background janitors, and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/folio-gateway/internal/auth"
	"github.com/2389/folio-gateway/internal/config"
	"github.com/2389/folio-gateway/internal/gate"
	"github.com/2389/folio-gateway/internal/lockout"
	"github.com/2389/folio-gateway/internal/metrics"
	"github.com/2389/folio-gateway/internal/store"
)

// lockoutPurgeInterval is how often expired SQLite lockout rows are deleted.
const lockoutPurgeInterval = 10 * time.Minute

// Gateway owns every server-side component of folio-gateway.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	lockouts    lockout.Store
	tracker     *lockout.Tracker
	verifier    *auth.Verifier
	sessions    *auth.Sessions
	csrf        *auth.CSRF
	cookies     auth.CookieOptions
	gate        *gate.Gate
	throttle    *Throttle
	metrics     *metrics.Metrics
	upstream    http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New creates a Gateway from cfg. The database is opened and migrated here;
// listeners are created by Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gw, err := newGateway(cfg, sqlStore, logger)
	if err != nil {
		_ = sqlStore.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(cfg *config.Config, sqlStore *store.SQLiteStore, logger *slog.Logger) (*Gateway, error) {
	secret := []byte(cfg.Auth.JWTSecret)

	sessions, err := auth.NewSessions(secret, auth.WithSessionDuration(cfg.Auth.SessionDuration))
	if err != nil {
		return nil, fmt.Errorf("creating session issuer: %w", err)
	}
	csrf, err := auth.NewCSRF(secret)
	if err != nil {
		return nil, fmt.Errorf("creating csrf guard: %w", err)
	}

	lockouts, err := newLockoutStore(cfg.Lockout, sqlStore)
	if err != nil {
		return nil, err
	}

	upstream, err := newUpstream(cfg.Upstream.URL, logger.With("component", "upstream"))
	if err != nil {
		_ = closeLockoutStore(lockouts, sqlStore)
		return nil, err
	}

	m := metrics.New()
	cookies := auth.CookieOptions{Secure: cfg.Auth.Secure()}

	policy := gate.DefaultPolicy()
	policy.LoginPath = cfg.Auth.LoginPath
	policy.LandingPath = cfg.Auth.LandingPath

	gw := &Gateway{
		config:   cfg,
		store:    sqlStore,
		lockouts: lockouts,
		tracker:  lockout.NewTracker(lockouts, lockout.WithLogger(logger.With("component", "lockout"))),
		verifier: auth.NewVerifier(sqlStore),
		sessions: sessions,
		csrf:     csrf,
		cookies:  cookies,
		gate: gate.New(policy, sessions, csrf,
			gate.WithCookieOptions(cookies),
			gate.WithMetrics(m),
			gate.WithLogger(logger.With("component", "gate")),
		),
		throttle: NewThrottle(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.Server.TrustedPrefixes),
		metrics:  m,
		upstream: upstream,
		logger:   logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	gw.logger.Info("gateway configured",
		"lockout_backend", cfg.Lockout.Backend,
		"max_attempts", cfg.Lockout.MaxAttempts,
		"window", cfg.Lockout.Window,
		"session_duration", cfg.Auth.SessionDuration,
		"secure_cookies", cookies.Secure,
		"upstream", cfg.Upstream.URL,
	)
	return gw, nil
}

// newLockoutStore builds the configured lockout backend.
func newLockoutStore(cfg config.LockoutConfig, sqlStore *store.SQLiteStore) (lockout.Store, error) {
	switch cfg.Backend {
	case config.LockoutBackendSQLite:
		return sqlStore, nil
	case config.LockoutBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return lockout.NewRedisStore(client, cfg.RedisPrefix), nil
	case config.LockoutBackendMemory, "":
		return lockout.NewMemoryStore(time.Minute), nil
	default:
		return nil, fmt.Errorf("unknown lockout backend %q", cfg.Backend)
	}
}

// closeLockoutStore closes a lockout backend unless it is the shared SQLite store.
func closeLockoutStore(s lockout.Store, sqlStore *store.SQLiteStore) error {
	if s == lockout.Store(sqlStore) {
		return nil
	}
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Handler returns the gated HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Metrics returns the gateway's collectors.
func (g *Gateway) Metrics() *metrics.Metrics {
	return g.metrics
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// runJanitor periodically deletes expired lockout rows when SQLite holds them.
func (g *Gateway) runJanitor(ctx context.Context) {
	if g.lockouts != lockout.Store(g.store) {
		return
	}

	ticker := time.NewTicker(lockoutPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := g.store.PurgeExpiredLockouts(ctx, now); err != nil && ctx.Err() == nil {
				g.logger.Warn("purging lockout records failed", "error", err)
			}
		}
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go g.runJanitor(janitorCtx)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)
	stopJanitor()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "folio-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80, or :443 with
// tailnet certificates when HTTPS is enabled.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.HTTPS {
		return g.createTailscaleTLSListener()
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.throttle.Close()
	errs = appendCloseError(errs, "lockout store close", closeLockoutStore(g.lockouts, g.store))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

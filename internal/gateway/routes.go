// ABOUTME: Router assembly for the gateway: middleware chain, auth endpoints, probes, and upstream
// ABOUTME: The route gate wraps the whole router so nothing protected is reachable around it

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/folio-gateway/internal/gate"
	"github.com/2389/folio-gateway/internal/metrics"
	"github.com/2389/folio-gateway/internal/store"
)

// readyTimeout bounds the dependency pings behind /readyz.
const readyTimeout = 2 * time.Second

func (g *Gateway) routes() http.Handler {
	g.throttle.OnLimit = func(*http.Request) { g.metrics.Login(metrics.LoginThrottled) }

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.requestLogger)
	r.Use(g.gate.Wrap)

	r.Get("/healthz", g.handleHealth)
	r.Get("/readyz", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}

	r.With(g.throttle.Middleware).Post(gate.AuthAPIPath, g.handleLogin)
	r.Get(gate.AuthAPIPath, g.handleSession)
	r.Delete(gate.AuthAPIPath, g.handleLogout)
	r.With(g.throttle.Middleware).Post(gate.AuthAPIPath+"/refresh", g.handleRefresh)

	r.NotFound(g.upstream.ServeHTTP)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

// requestLogger logs each request and records its duration by route pattern.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "upstream"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		g.metrics.ObserveRequest(r.Method, route, status, elapsed)
		g.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// handleHealth returns 200 if the server is running.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady returns 200 once the database and lockout backend respond.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "database", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	if p, ok := g.lockouts.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "dependency", "lockout", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("lockout backend unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

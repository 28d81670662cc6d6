// ABOUTME: Route gate middleware deciding access for every protected request
// ABOUTME: Validates the session cookie, enforces role and CSRF, and redirects or denies

package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/folio-gateway/internal/auth"
	"github.com/2389/folio-gateway/internal/metrics"
)

const tracerName = "github.com/2389/folio-gateway/internal/gate"

// State is the session state of a request.
type State int

// Session states, from no cookie at all to a valid admin session.
const (
	NoSession State = iota
	InvalidSession
	ValidSessionWrongRole
	ValidSession
)

func (s State) String() string {
	switch s {
	case InvalidSession:
		return "invalid_session"
	case ValidSessionWrongRole:
		return "wrong_role"
	case ValidSession:
		return "valid_session"
	default:
		return "no_session"
	}
}

// Actions recorded for each decision.
const (
	ActionAllow           = "allow"
	ActionRedirectLogin   = "redirect_login"
	ActionRedirectLanding = "redirect_landing"
	ActionUnauthorized    = "unauthorized"
	ActionForbidden       = "forbidden"
)

// Gate is the single place route protection is decided. Wrap the whole
// router with it so no protected handler is reachable around it.
type Gate struct {
	policy   Policy
	sessions *auth.Sessions
	csrf     *auth.CSRF
	cookies  auth.CookieOptions
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Gate.
type Option func(*Gate)

// WithCookieOptions sets the attributes of cookies the gate clears.
func WithCookieOptions(o auth.CookieOptions) Option {
	return func(g *Gate) { g.cookies = o }
}

// WithMetrics records decisions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the audit logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithTracerProvider sets where decision spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gate) { g.tracer = tp.Tracer(tracerName) }
}

// New creates a gate enforcing policy.
func New(policy Policy, sessions *auth.Sessions, csrf *auth.CSRF, opts ...Option) *Gate {
	g := &Gate{
		policy:   policy,
		sessions: sessions,
		csrf:     csrf,
		cookies:  auth.CookieOptions{Secure: true},
		logger:   slog.Default().With("component", "gate"),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the gate's policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Evaluate determines the session state of r. Claims are returned for
// ValidSession and ValidSessionWrongRole.
func (g *Gate) Evaluate(r *http.Request) (State, *auth.Claims, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return NoSession, nil, nil
	}

	claims, err := g.sessions.Validate(token)
	if err != nil {
		return InvalidSession, nil, err
	}
	if claims.Role != g.policy.RequiredRole {
		return ValidSessionWrongRole, claims, nil
	}
	return ValidSession, claims, nil
}

// Wrap returns middleware that gates next.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := g.policy.Classify(r.URL.Path)
		if kind == PathUnprotected || kind == PathPublic {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := g.tracer.Start(r.Context(), "gate.decide",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("gate.path_kind", kind.String()),
			),
		)

		state, claims, verr := g.Evaluate(r)
		action, ctx := g.decide(w, r.WithContext(ctx), kind, state, claims, verr)

		span.SetAttributes(
			attribute.String("gate.state", state.String()),
			attribute.String("gate.action", action),
		)
		if action == ActionAllow {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, action)
		}
		span.End()
		g.metrics.Gate(state.String(), action)

		if action == ActionAllow {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// decide writes the response for every outcome except allow. It returns the
// action taken and, on allow, the context carrying the session claims.
func (g *Gate) decide(w http.ResponseWriter, r *http.Request, kind PathKind, state State, claims *auth.Claims, verr error) (string, context.Context) {
	ctx := r.Context()
	logger := g.logger.With("method", r.Method, "path", r.URL.Path, "state", state.String())

	switch state {
	case NoSession, InvalidSession, ValidSessionWrongRole:
		if state == InvalidSession {
			http.SetCookie(w, g.cookies.ClearedCookie())
			reason := "invalid"
			if errors.Is(verr, auth.ErrExpiredToken) {
				reason = "expired"
			}
			logger.Info("rejected session token", "reason", reason)
		}
		if state == ValidSessionWrongRole {
			logger.Warn("session lacks required role", "username", claims.Subject, "role", claims.Role.String())
		}

		switch kind {
		case PathLogin:
			return ActionAllow, ctx
		case PathAPI:
			writeError(w, http.StatusUnauthorized, "authentication required")
			return ActionUnauthorized, ctx
		default:
			target := g.policy.LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusSeeOther)
			return ActionRedirectLogin, ctx
		}

	default:
		if kind == PathLogin {
			http.Redirect(w, r, g.policy.LandingPath, http.StatusSeeOther)
			return ActionRedirectLanding, ctx
		}
		if isMutating(r.Method) && !g.csrf.Check(r.Header.Get(auth.CSRFHeader), claims) {
			logger.Warn("csrf check failed", "username", claims.Subject, "header_present", r.Header.Get(auth.CSRFHeader) != "")
			writeError(w, http.StatusForbidden, "invalid csrf token")
			return ActionForbidden, ctx
		}
		logger.Debug("request allowed", "username", claims.Subject)
		return ActionAllow, auth.WithClaims(ctx, claims)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

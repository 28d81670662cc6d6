// ABOUTME: Prometheus collectors for login outcomes, lockouts, and gate decisions
// ABOUTME: Each Metrics owns its registry so tests and servers stay isolated

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "folio"

// Login outcomes.
const (
	LoginSuccess     = "success"
	LoginInvalid     = "invalid_credentials"
	LoginLockedOut   = "locked_out"
	LoginUnavailable = "unavailable"
	LoginBadRequest  = "bad_request"
	LoginThrottled   = "throttled"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts   *prometheus.CounterVec
	LockoutsTotal   prometheus.Counter
	GateDecisions   *prometheus.CounterVec
	SessionsIssued  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newWithRegistry(reg)
}

func newWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),

		LockoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Identities that exhausted their attempt budget",
		}),

		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Route gate decisions by session state and action",
		}, []string{"state", "action"}),

		SessionsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "sessions_issued_total",
			Help:      "Session tokens minted, by reason",
		}, []string{"reason"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route pattern and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Login counts one login attempt with outcome. Safe on a nil receiver.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// Lockout counts an identity reaching its attempt limit. Safe on a nil receiver.
func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.LockoutsTotal.Inc()
}

// Gate counts one gate decision. Safe on a nil receiver.
func (m *Metrics) Gate(state, action string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(state, action).Inc()
}

// SessionIssued counts a minted token. Safe on a nil receiver.
func (m *Metrics) SessionIssued(reason string) {
	if m == nil {
		return
	}
	m.SessionsIssued.WithLabelValues(reason).Inc()
}

// ObserveRequest records a request duration. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

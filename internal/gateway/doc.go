// Package gateway runs the folio-gateway HTTP server.
//
// # Overview
//
// The gateway sits in front of the blog application. Every request passes
// through the route gate before it reaches either the auth endpoints served
// here or the upstream application behind the reverse proxy.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    store      *store.SQLiteStore   // admin users, optional lockout records
//	    lockouts   lockout.Store        // memory, sqlite, or redis
//	    tracker    *lockout.Tracker
//	    verifier   *auth.Verifier
//	    sessions   *auth.Sessions
//	    csrf       *auth.CSRF
//	    gate       *gate.Gate
//	    throttle   *Throttle
//	    // ... and more
//	}
//
// # HTTP API
//
//   - POST /api/admin/auth - Log in; sets the session cookie
//   - GET /api/admin/auth - Report the current session
//   - DELETE /api/admin/auth - Log out; clears the session cookie (a live session must send X-CSRF-Token)
//   - POST /api/admin/auth/refresh - Reissue the session (gated, needs CSRF)
//   - GET /healthz - Liveness check
//   - GET /readyz - Readiness check (database and lockout backend)
//   - GET /metrics - Prometheus metrics, when enabled
//
// Everything else is proxied to the configured upstream with X-Folio-User
// and X-Folio-Role set from the validated session.
//
// # Login Flow
//
//  1. Per-IP throttle rejects bursts with 429
//  2. Lockout check for (client IP, username); locked out gives 429 + Retry-After
//  3. Credential verification; a failure is counted and gives 401 with remainingAttempts
//  4. Success clears the lockout record and issues a session cookie
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	err = gw.Run(ctx) // blocks; shuts down when ctx is canceled
package gateway

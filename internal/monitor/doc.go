// Package monitor keeps a folio admin session alive from the client side.
//
// A Monitor holds a cookie jar for one gateway. Start checks the session with
// GET /api/admin/auth and schedules a single refresh timer at the token's
// expiry minus a margin. When the timer fires the monitor calls
// POST /api/admin/auth/refresh with the session's CSRF token, retrying
// transient failures with exponential backoff. A rejected refresh, or a
// retry budget spent, clears the session and runs the OnLogout hook.
//
// Only one timer is ever pending. Every replacement stops the previous
// timer and bumps a generation counter, so a callback that was already
// running when it was replaced does nothing.
package monitor

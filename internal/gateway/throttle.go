// ABOUTME: Per-client token bucket limiting request rate on the login endpoints
// ABOUTME: Sits in front of the lockout tracker so bursts never reach bcrypt

package gateway

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	throttleCleanupInterval = 5 * time.Minute
	throttleEntryTTL        = 10 * time.Minute
)

type throttleEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Throttle rate-limits requests per client IP. It is safe for concurrent use.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	limit    rate.Limit
	burst    int
	trusted  []netip.Prefix
	now      func() time.Time

	// OnLimit is called for every rejected request.
	OnLimit func(r *http.Request)

	stopOnce    sync.Once
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewThrottle allows rps requests per second per client with the given burst.
func NewThrottle(rps float64, burst int, trusted []netip.Prefix) *Throttle {
	t := &Throttle{
		limiters:    make(map[string]*throttleEntry),
		limit:       rate.Limit(rps),
		burst:       burst,
		trusted:     trusted,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (t *Throttle) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCleanup)
		<-t.cleanupDone
	})
}

// Allow reports whether ip may make a request now.
func (t *Throttle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.limiters[ip]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// Middleware rejects over-limit clients with 429.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Allow(ClientIP(r, t.trusted)) {
			if t.OnLimit != nil {
				t.OnLimit(r)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) cleanupLoop() {
	defer close(t.cleanupDone)

	ticker := time.NewTicker(throttleCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCleanup:
			return
		case <-ticker.C:
			t.cleanup()
		}
	}
}

// cleanup drops clients idle longer than throttleEntryTTL.
func (t *Throttle) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-throttleEntryTTL)
	for ip, entry := range t.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(t.limiters, ip)
		}
	}
}

// ABOUTME: Lockout tracker counting failed attempts per identity key in a fixed window
// ABOUTME: Counter storage is pluggable so single-process and shared backends are interchangeable

package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Default policy: 5 attempts per 15 minutes.
const (
	DefaultLimit  = 5
	DefaultWindow = 15 * time.Minute
)

// Record is the failure count for one key and the instant its window ends.
type Record struct {
	Count   int
	ResetAt time.Time
}

// Store persists lockout records. Implementations must treat a record whose
// ResetAt is not after now as absent, and Increment on an absent record must
// start a new window ending at now+window. Increment must be atomic per key.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) (Record, bool, error)
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error)
	Reset(ctx context.Context, key string) error
}

// Decision is the outcome of a lockout check.
type Decision struct {
	Allowed    bool
	Remaining  int           // attempts left before lockout
	RetryAfter time.Duration // zero unless denied
}

// Tracker decides whether an identity may attempt an action. It is the only
// reader and writer of the records in its Store.
type Tracker struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for lockout events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "lockout"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Check reports whether key may make another attempt under limit per window.
// An elapsed window counts as zero attempts.
func (t *Tracker) Check(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := t.now()
	rec, ok, err := t.store.Get(ctx, key, now)
	if err != nil {
		return Decision{}, fmt.Errorf("reading lockout record: %w", err)
	}
	if !ok {
		return Decision{Allowed: true, Remaining: limit}, nil
	}
	return decide(rec, limit, now), nil
}

// Reserve counts an attempt for key before it is made, in one atomic store
// increment. The attempt may proceed only if it is within limit; Remaining is
// how many attempts are left should this one fail. Concurrent callers on the
// same key therefore cannot exceed limit between them. The caller resets key
// when the attempt succeeds.
func (t *Tracker) Reserve(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := t.now()
	rec, err := t.store.Increment(ctx, key, window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("reserving attempt: %w", err)
	}

	if rec.Count > limit {
		d := decide(rec, limit, now)
		t.logger.Debug("attempt refused", "key", key, "attempts", rec.Count, "retry_after", d.RetryAfter.Round(time.Second))
		return d, nil
	}
	d := Decision{Allowed: true, Remaining: limit - rec.Count}
	if d.Remaining == 0 {
		t.logger.Warn("last attempt before lockout", "key", key, "attempts", rec.Count, "window_ends", rec.ResetAt)
	}
	return d, nil
}

// RecordFailure counts one failed attempt for key and returns the decision
// that now applies, so the caller can report how many attempts remain.
// Callers that must hold the limit under concurrency use Reserve instead.
func (t *Tracker) RecordFailure(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := t.now()
	rec, err := t.store.Increment(ctx, key, window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("recording failure: %w", err)
	}

	d := decide(rec, limit, now)
	if !d.Allowed {
		t.logger.Warn("identity locked out", "key", key, "attempts", rec.Count, "retry_after", d.RetryAfter.Round(time.Second))
	} else {
		t.logger.Debug("failed attempt recorded", "key", key, "attempts", rec.Count, "remaining", d.Remaining)
	}
	return d, nil
}

// Reset clears key. Resetting an unknown key is a no-op.
func (t *Tracker) Reset(ctx context.Context, key string) error {
	if err := t.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("resetting lockout record: %w", err)
	}
	return nil
}

func decide(rec Record, limit int, now time.Time) Decision {
	remaining := limit - rec.Count
	if remaining > 0 {
		return Decision{Allowed: true, Remaining: remaining}
	}
	retry := rec.ResetAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}
}

// LoginKey builds the lockout key for a login attempt. Keying by client IP
// and username keeps one user's lockout from blocking everyone else.
func LoginKey(ip, username string) string {
	return "login|" + ip + "|" + strings.ToLower(strings.TrimSpace(username))
}

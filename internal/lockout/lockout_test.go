// ABOUTME: Tests for the lockout tracker decision logic
// ABOUTME: Covers the 5-in-15 policy, lazy window reset, idempotent reset, and store failures

package lockout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	store := NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })
	clock := newFakeClock()
	return NewTracker(store, WithClock(clock.Now)), clock
}

func TestTracker_FiveFailuresLockSixthAttempt(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	key := LoginKey("203.0.113.9", "ada")

	for i := 1; i <= DefaultLimit; i++ {
		d, err := tr.Check(ctx, key, DefaultLimit, DefaultWindow)
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should be allowed", i)

		d, err = tr.RecordFailure(ctx, key, DefaultLimit, DefaultWindow)
		require.NoError(t, err)
		assert.Equal(t, DefaultLimit-i, d.Remaining, "remaining after failure %d", i)
		clock.Advance(time.Second)
	}

	d, err := tr.Check(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	// Window started at the first failure, five seconds ago
	assert.Equal(t, DefaultWindow-5*time.Second, d.RetryAfter)
}

func TestTracker_LazyResetAfterWindow(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	key := LoginKey("203.0.113.9", "ada")

	for i := 0; i < DefaultLimit; i++ {
		_, err := tr.RecordFailure(ctx, key, DefaultLimit, DefaultWindow)
		require.NoError(t, err)
	}
	d, err := tr.Check(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clock.Advance(DefaultWindow)

	d, err = tr.Check(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultLimit, d.Remaining)

	d, err = tr.RecordFailure(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit-1, d.Remaining, "a new window starts from zero")
}

func TestTracker_ResetIsIdempotent(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	key := LoginKey("203.0.113.9", "ada")

	_, err := tr.RecordFailure(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)

	require.NoError(t, tr.Reset(ctx, key))
	require.NoError(t, tr.Reset(ctx, key))

	d, err := tr.Check(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultLimit, d.Remaining)
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < DefaultLimit; i++ {
		_, err := tr.RecordFailure(ctx, LoginKey("198.51.100.1", "ada"), DefaultLimit, DefaultWindow)
		require.NoError(t, err)
	}

	d, err := tr.Check(ctx, LoginKey("198.51.100.2", "ada"), DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "another IP is not locked out")

	d, err = tr.Check(ctx, LoginKey("198.51.100.1", "grace"), DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "another user is not locked out")
}

func TestTracker_ConcurrentFailuresAreAllCounted(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.RecordFailure(ctx, "k", 100, DefaultWindow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	d, err := tr.Check(ctx, "k", 100, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, 50, d.Remaining)
}

func TestTracker_ReserveAllowsExactlyLimit(t *testing.T) {
	tr, clock := newTestTracker(t)
	ctx := context.Background()
	key := LoginKey("203.0.113.9", "ada")

	for i := 1; i <= DefaultLimit; i++ {
		d, err := tr.Reserve(ctx, key, DefaultLimit, DefaultWindow)
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should be allowed", i)
		assert.Equal(t, DefaultLimit-i, d.Remaining, "remaining if attempt %d fails", i)
		clock.Advance(time.Second)
	}

	d, err := tr.Reserve(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DefaultWindow-5*time.Second, d.RetryAfter)

	// Refused attempts do not move the window.
	clock.Advance(DefaultWindow)
	d, err = tr.Reserve(ctx, key, DefaultLimit, DefaultWindow)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, DefaultLimit-1, d.Remaining)
}

func TestTracker_ConcurrentReservationsHoldTheLimit(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := tr.Reserve(ctx, "k", DefaultLimit, DefaultWindow)
			assert.NoError(t, err)
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(DefaultLimit), allowed.Load())
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string, time.Time) (Record, bool, error) {
	return Record{}, false, f.err
}

func (f failingStore) Increment(context.Context, string, time.Duration, time.Time) (Record, error) {
	return Record{}, f.err
}

func (f failingStore) Reset(context.Context, string) error { return f.err }

func TestTracker_StoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	tr := NewTracker(failingStore{err: boom})
	ctx := context.Background()

	_, err := tr.Check(ctx, "k", DefaultLimit, DefaultWindow)
	assert.ErrorIs(t, err, boom)

	_, err = tr.RecordFailure(ctx, "k", DefaultLimit, DefaultWindow)
	assert.ErrorIs(t, err, boom)

	_, err = tr.Reserve(ctx, "k", DefaultLimit, DefaultWindow)
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, tr.Reset(ctx, "k"), boom)
}

func TestLoginKey(t *testing.T) {
	assert.Equal(t, "login|10.0.0.1|ada", LoginKey("10.0.0.1", "  Ada "))
	assert.NotEqual(t, LoginKey("10.0.0.1", "ada"), LoginKey("10.0.0.2", "ada"))
}

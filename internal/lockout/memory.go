// ABOUTME: Process-local lockout store backed by a mutex-guarded map
// ABOUTME: Expired records are ignored lazily and swept by a background goroutine

package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps lockout records in process memory. Each gateway
// instance has its own view, so with several instances the limit applies
// per instance.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	done    chan struct{}
	closed  bool
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose expired records are swept every
// sweepInterval. A non-positive interval disables the sweeper; records are
// still treated as absent once expired.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		records: make(map[string]Record),
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweep(sweepInterval)
	}
	return m
}

// Get returns the live record for key.
func (m *MemoryStore) Get(_ context.Context, key string, now time.Time) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || !now.Before(rec.ResetAt) {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Increment counts a failure for key, starting a new window if needed.
func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || !now.Before(rec.ResetAt) {
		rec = Record{ResetAt: now.Add(window)}
	}
	rec.Count++
	m.records[key] = rec
	return rec, nil
}

// Reset removes key.
func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// Len returns the number of stored records, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.removeExpired(now)
		case <-m.done:
			return
		}
	}
}

// removeExpired drops every record whose window ended at or before now.
func (m *MemoryStore) removeExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, rec := range m.records {
		if !now.Before(rec.ResetAt) {
			delete(m.records, key)
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

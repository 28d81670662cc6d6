// ABOUTME: SQLite-backed failed-login records shared by every gateway process on one database
// ABOUTME: Each increment runs in a transaction so concurrent failures are never lost

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/folio-gateway/internal/lockout"
)

// Ensure SQLiteStore can back the lockout tracker.
var _ lockout.Store = (*SQLiteStore)(nil)

// Get returns the live record for key. Records whose window has elapsed
// are reported as absent.
func (s *SQLiteStore) Get(ctx context.Context, key string, now time.Time) (lockout.Record, bool, error) {
	var count int
	var resetAtMs int64

	err := s.db.QueryRowContext(ctx,
		`SELECT attempt_count, reset_at FROM lockout_records WHERE key = ?`, key,
	).Scan(&count, &resetAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return lockout.Record{}, false, nil
	}
	if err != nil {
		return lockout.Record{}, false, fmt.Errorf("querying lockout record: %w", err)
	}

	rec := lockout.Record{Count: count, ResetAt: time.UnixMilli(resetAtMs)}
	if !now.Before(rec.ResetAt) {
		return lockout.Record{}, false, nil
	}
	return rec, true, nil
}

// Increment records one failure for key. An absent or expired record is
// replaced by a fresh one with count 1 whose window starts at now.
func (s *SQLiteStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (lockout.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lockout.Record{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	var resetAtMs int64
	err = tx.QueryRowContext(ctx,
		`SELECT attempt_count, reset_at FROM lockout_records WHERE key = ?`, key,
	).Scan(&count, &resetAtMs)

	var rec lockout.Record
	switch {
	case errors.Is(err, sql.ErrNoRows), err == nil && now.UnixMilli() >= resetAtMs:
		rec = lockout.Record{Count: 1, ResetAt: now.Add(window)}
	case err != nil:
		return lockout.Record{}, fmt.Errorf("querying lockout record: %w", err)
	default:
		rec = lockout.Record{Count: count + 1, ResetAt: time.UnixMilli(resetAtMs)}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lockout_records (key, attempt_count, reset_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET attempt_count = excluded.attempt_count, reset_at = excluded.reset_at
	`, key, rec.Count, rec.ResetAt.UnixMilli())
	if err != nil {
		return lockout.Record{}, fmt.Errorf("writing lockout record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return lockout.Record{}, fmt.Errorf("committing lockout record: %w", err)
	}
	return rec, nil
}

// Reset removes any record for key. Resetting an unknown key is not an error.
func (s *SQLiteStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lockout_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting lockout record: %w", err)
	}
	return nil
}

// PurgeExpiredLockouts deletes records whose window ended before now and
// returns how many were removed.
func (s *SQLiteStore) PurgeExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM lockout_records WHERE reset_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging lockout records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Debug("purged expired lockout records", "count", n)
	}
	return n, nil
}

// Package store provides persistent storage for folio-gateway using SQLite.
//
// # Architecture
//
// SQLiteStore implements two narrow interfaces:
//
//   - AdminStore: admin user records (username, bcrypt hash, role)
//   - lockout.Store: failed-attempt counters keyed by (identity, action)
//
// The request path only sees CredentialStore (lookup by username) and the
// lockout tracker's Store; user management goes through AdminStore from the
// CLI.
//
// # Schema
//
//	admin_users(id, username UNIQUE, password_hash, role, created_at)
//	lockout_records(key PRIMARY KEY, attempt_count, reset_at)
//
// Timestamps are stored as RFC3339 text (UTC), except lockout reset_at which
// is stored as unix milliseconds so window comparisons stay numeric.
//
// # Concurrency
//
// The database runs in WAL mode. Lockout increments run inside a single
// transaction so concurrent failures against the same key never lose an
// update. Several gateway processes pointed at the same database file share
// lockout state.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/folio/gateway.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
package store

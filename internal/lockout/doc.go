// Package lockout limits repeated failed attempts per identity.
//
// A Tracker counts failures for a key inside a fixed window that starts at
// the first failure. Once the count reaches the limit, Check denies further
// attempts until the window ends; there is no background reset, an elapsed
// window simply counts as zero. A successful login calls Reset.
//
// Records live behind the Store interface:
//
//   - MemoryStore: process-local map, one view per gateway instance
//   - store.SQLiteStore: shared by processes using the same database file
//   - RedisStore: shared by every instance pointed at the same Redis
//
// Store errors are returned to the caller, which is expected to fail closed.
package lockout

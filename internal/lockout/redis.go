// ABOUTME: Redis-backed lockout store shared by every gateway instance
// ABOUTME: Windows are Redis key TTLs set once when a key is created

package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the counter and starts the window only when the key
// is new, so later failures never extend it. Returns {count, pttl_ms}.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if n == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore keeps lockout counters in Redis. Expiry follows the Redis
// server clock; ResetAt is reported relative to the caller's now.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store writing keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

// Get returns the live record for key.
func (r *RedisStore) Get(ctx context.Context, key string, now time.Time) (Record, bool, error) {
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, r.key(key))
		ttlCmd = pipe.PTTL(ctx, r.key(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, false, fmt.Errorf("reading lockout key: %w", err)
	}

	count, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("parsing lockout count: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Record{}, false, nil
	}
	return Record{Count: count, ResetAt: now.Add(ttl)}, true, nil
}

// Increment counts a failure for key atomically.
func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	vals, err := incrementScript.Run(ctx, r.client, []string{r.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Record{}, fmt.Errorf("incrementing lockout key: %w", err)
	}
	if len(vals) != 2 {
		return Record{}, fmt.Errorf("incrementing lockout key: unexpected reply %v", vals)
	}
	return Record{
		Count:   int(vals[0]),
		ResetAt: now.Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

// Reset deletes key.
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("deleting lockout key: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity for readiness probes.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript performs INCR and, for the first increment of a window, sets
// the TTL in the same atomic step. Splitting INCR and EXPIRE across two
// round trips can leave a counter without expiry if the client dies
// between them.
//
// KEYS[1] = window key
// ARGV[1] = ttl in milliseconds
// Returns the post-increment count.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisCounters is a CounterStore backed by Redis. Redis serializes
// commands per key, so the Lua increment is linearizable across gateway
// instances.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters wraps an existing Redis client.
func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

// DialRedis connects to Redis at addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisCounters, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisCounters{client: client}, nil
}

// Incr implements CounterStore.
func (r *RedisCounters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("rate counter incr: %w", err)
	}
	return count, nil
}

// Ping implements CounterStore.
func (r *RedisCounters) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (r *RedisCounters) Close() error {
	return r.client.Close()
}

package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the fixed-window counter backend. The SQL store
// satisfies it; Redis takes over when EDON_REDIS_URL is set so
// counters are shared across gateway replicas.
type CounterStore interface {
	GetCounter(ctx context.Context, key string) (int64, error)
	IncrementCounter(ctx context.Context, key string, amount int64) (int64, error)
}

// redisIncrScript increments a counter and sets its expiry on first
// write, atomically.
var redisIncrScript = redis.NewScript(`
local value = redis.call("INCRBY", KEYS[1], ARGV[1])
if value == tonumber(ARGV[1]) then
    redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return value
`)

// RedisCounters implements CounterStore on Redis.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters connects to the Redis named by a redis:// URL.
func NewRedisCounters(url string) (*RedisCounters, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCounters{client: redis.NewClient(opts)}, nil
}

// Ping verifies the connection.
func (r *RedisCounters) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisCounters) Close() error {
	return r.client.Close()
}

// GetCounter returns the counter value, zero when the key is unset.
func (r *RedisCounters) GetCounter(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// IncrementCounter adds to the counter and returns the new value. The
// key expires two windows after its bucket so stale buckets self-clean.
func (r *RedisCounters) IncrementCounter(ctx context.Context, key string, amount int64) (int64, error) {
	res, err := redisIncrScript.Run(ctx, r.client, []string{key}, amount, int(counterTTL(key).Seconds())).Result()
	if err != nil {
		return 0, err
	}
	v, _ := res.(int64)
	return v, nil
}

// counterTTL derives the expiry from the window segment of the key
// (rate_limit:{agent}:{window}:{bucket}).
func counterTTL(key string) time.Duration {
	parts := strings.Split(key, ":")
	window := ""
	if len(parts) >= 3 {
		window = parts[len(parts)-2]
	}
	switch window {
	case windowMinute:
		return 2 * time.Minute
	case windowHour:
		return 2 * time.Hour
	case windowDay:
		return 48 * time.Hour
	default:
		return 24 * time.Hour
	}
}

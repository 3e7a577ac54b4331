// Package ratelimit implements a Redis-backed token-bucket limiter,
// grounded in pkg/queue.Client.Allow. It lets a worker
// shed load per task type without consuming the task's own retry
// budget.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript atomically refills and consumes one token from the
// bucket named by KEYS[1], lazily initializing it to full on first use.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

if not tokens then
	tokens = burst
	last_refill = now
end

local delta = math.max(0, now - last_refill)
local new_tokens = math.min(burst, tokens + (delta * rate))

if new_tokens >= requested then
	new_tokens = new_tokens - requested
	redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
	redis.call('EXPIRE', key, 3600)
	return 1
else
	redis.call('HSET', key, 'tokens', new_tokens, 'last_refill', now)
	redis.call('EXPIRE', key, 3600)
	return 0
end
`)

// RedisLimiter rate-limits by key using a Lua token bucket so the
// check-and-decrement stays atomic under concurrent workers.
type RedisLimiter struct {
	rdb redis.UniversalClient
}

// New builds a RedisLimiter over an existing client (a *redis.Client, a
// *redis.Ring, or anything else satisfying redis.UniversalClient,
// including miniredis in tests).
func New(rdb redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

// Allow reports whether one token is available under key, refilling at
// rate tokens/second up to a capacity of burst.
func (l *RedisLimiter) Allow(ctx context.Context, key string, rate float64, burst float64) (bool, error) {
	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{key}, rate, burst, float64(time.Now().UnixNano())/1e9, 1,
	).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

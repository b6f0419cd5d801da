package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ricochet.sh/internal/ferrors"
)

// tokenBucketScript atomically refills and withdraws from a token bucket
// stored as a Redis hash, mirroring the in-process Limiter's
// refill-then-decrement logic (spec.md §4.1) across every injector sharing
// the same key.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil then
  tokens = burst
  updated_at = now
end

local elapsed = math.max(0, now - updated_at)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1.0 then
  tokens = tokens - 1.0
  allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, math.ceil(burst / rate) + 1)

return {allowed, tostring(tokens)}
`

// RedisLimiter is a distributed token bucket for injector fleets that must
// share one rate budget against a single target, keyed by an arbitrary
// string (typically the target host). It implements the same contract as
// Limiter but coordinates through Redis instead of an in-process mutex.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
}

// NewRedisLimiter connects to addr and constructs a distributed limiter
// with the given rate (tokens/sec, > 0) and burst (bucket capacity, >= 1).
func NewRedisLimiter(ctx context.Context, addr string, tokensPerSecond float64, burst int) (*RedisLimiter, error) {
	if tokensPerSecond <= 0 {
		return nil, ferrors.New(ferrors.CodeInvalidConfig, "rate must be positive")
	}
	if burst < 1 {
		return nil, ferrors.New(ferrors.CodeInvalidConfig, "burst must be at least 1")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, ferrors.Wrap(err, ferrors.CodeConnectionError, "failed to connect to redis rate limiter backend")
	}

	return &RedisLimiter{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		rate:   tokensPerSecond,
		burst:  burst,
	}, nil
}

// TryAcquire attempts to take one token for key without blocking.
func (l *RedisLimiter) TryAcquire(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	result, err := l.script.Run(ctx, l.client, []string{bucketKey(key)}, l.rate, l.burst, now).Slice()
	if err != nil {
		return false, ferrors.Wrap(err, ferrors.CodeConnectionError, "rate limiter script failed")
	}
	allowed, ok := result[0].(int64)
	if !ok {
		return false, ferrors.New(ferrors.CodeStorageError, "unexpected rate limiter script result")
	}
	return allowed == 1, nil
}

// Acquire blocks, polling at a fraction of the refill interval, until a
// token for key is available or ctx is cancelled.
func (l *RedisLimiter) Acquire(ctx context.Context, key string) error {
	for {
		ok, err := l.TryAcquire(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1.0/l.rate*1e9) / 4):
		}
	}
}

// Close releases the underlying Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// BoundRedisLimiter adapts a RedisLimiter's keyed Acquire to the
// single-bucket Acquirer contract Injector expects, fixing the bucket key
// an injector fleet shares against one target.
type BoundRedisLimiter struct {
	limiter *RedisLimiter
	key     string
}

// Bind fixes key as the bucket this limiter always acquires against.
func (l *RedisLimiter) Bind(key string) *BoundRedisLimiter {
	return &BoundRedisLimiter{limiter: l, key: key}
}

func (b *BoundRedisLimiter) Acquire(ctx context.Context) error {
	return b.limiter.Acquire(ctx, b.key)
}

// Close releases the underlying Redis connection.
func (b *BoundRedisLimiter) Close() error {
	return b.limiter.Close()
}

func bucketKey(key string) string {
	return fmt.Sprintf("ricochet:ratelimit:%s", key)
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "guest:ratelimit:"

// checkAndConsumeScript runs the whole decision inside Redis so instances
// sharing the store cannot race each other.
//
// KEYS[1] entry hash; ARGV: now_ms, window_ms, max.
// Returns {allowed, remaining, retry_after_ms}.
var checkAndConsumeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))

if count == nil or start == nil or now - start >= window then
  count = 0
  start = now
end

if count < max then
  count = count + 1
  redis.call('HSET', KEYS[1], 'count', count, 'start', start)
  local ttl = start + window - now
  if ttl < 1 then ttl = 1 end
  redis.call('PEXPIRE', KEYS[1], ttl)
  return {1, max - count, 0}
end

return {0, 0, start + window - now}
`)

// RedisStore shares guest windows across instances. Keys expire with their
// window, so Redis itself does the sweeping.
type RedisStore struct {
	client *redis.Client
	max    int
	window time.Duration
}

func NewRedisStore(client *redis.Client, cfg Config) *RedisStore {
	return &RedisStore{
		client: client,
		max:    cfg.MaxMessages,
		window: cfg.Window,
	}
}

func (s *RedisStore) CheckAndConsume(ctx context.Context, key string, now time.Time) (Decision, error) {
	res, err := checkAndConsumeScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + key},
		now.UnixMilli(), s.window.Milliseconds(), s.max,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: guest check for %s: %w", ErrStoreUnavailable, key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[1])}, nil
	}
	return Decision{
		Allowed:           false,
		RetryAfterSeconds: retryAfterSeconds(time.Duration(res[2]) * time.Millisecond),
	}, nil
}

// Sweep is a no-op: entries carry a TTL equal to their remaining window.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"timeflow/internal/domain"
)

type redisLimiter struct {
	client     *redis.Client
	capacity   int
	refillRate float64
	now        func() time.Time
}

// Token bucket state lives in a hash per key: tokens (scaled by 1000 to keep
// fractional refill in integer math) and the last refill timestamp in
// milliseconds. The key expires after the bucket would have fully refilled.
var redisAllowScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = capacity * 1000
  ts = now_ms
else
  local elapsed = now_ms - ts
  if elapsed > 0 then
    tokens = math.min(capacity * 1000, tokens + elapsed * refill_per_ms * 1000)
    ts = now_ms
  end
end
local allowed = 0
if tokens >= 1000 then
  tokens = tokens - 1000
  allowed = 1
end
redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], math.ceil(capacity / refill_per_ms) + 1000)
return {allowed, tokens}
`)

func NewRedisLimiter(addr, password string, db int, capacity int, refillRate float64, now func() time.Time) (domain.RateLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if capacity <= 0 {
		capacity = 10
	}
	if refillRate <= 0 {
		refillRate = float64(capacity)
	}
	if now == nil {
		now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisLimiter{
		client:     client,
		capacity:   capacity,
		refillRate: refillRate,
		now:        now,
	}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string) (domain.RateLimitDecision, error) {
	now := r.now()
	result, err := redisAllowScript.Run(ctx, r.client, []string{"ratelimit:" + key},
		r.capacity,
		r.refillRate/1000.0,
		now.UnixMilli(),
	).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit response")
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return domain.RateLimitDecision{}, errors.New("invalid redis counter response")
	}
	scaledTokens, _ := values[1].(int64)

	decision := domain.RateLimitDecision{
		Allowed:   allowed == 1,
		Limit:     r.capacity,
		Remaining: int(scaledTokens / 1000),
		ResetAt:   now,
	}
	if scaledTokens < 1000 {
		missing := float64(1000-scaledTokens) / 1000.0
		decision.ResetAt = now.Add(time.Duration(missing / r.refillRate * float64(time.Second)))
	}
	return decision, nil
}

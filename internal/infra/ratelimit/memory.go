package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"timeflow/internal/domain"
)

const shardCount = 32

type memoryLimiter struct {
	capacity   int
	refillRate float64
	maxKeys    int
	idleAfter  time.Duration
	now        func() time.Time
	shards     [shardCount]memoryShard
}

type memoryShard struct {
	mu   sync.Mutex
	data map[string]*memoryBucket
}

type memoryBucket struct {
	tokens   float64
	lastFill time.Time
}

type MemoryLimiterConfig struct {
	Capacity   int
	RefillRate float64
	MaxKeys    int
	IdleAfter  time.Duration
	Now        func() time.Time
}

// NewMemoryLimiter builds a sharded token-bucket limiter. Each key gets a
// bucket of Capacity tokens refilled at RefillRate tokens per second. Idle
// buckets are evicted lazily when a shard fills up; a fresh bucket starts
// full, so eviction never makes the limiter stricter.
func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = float64(cfg.Capacity)
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &memoryLimiter{
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		maxKeys:    cfg.MaxKeys,
		idleAfter:  cfg.IdleAfter,
		now:        cfg.Now,
	}
	for i := range m.shards {
		m.shards[i].data = make(map[string]*memoryBucket)
	}
	return m
}

func (m *memoryLimiter) Allow(_ context.Context, key string) (domain.RateLimitDecision, error) {
	now := m.now()
	s := &m.shards[shardFor(key)]

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[key]
	if !ok {
		if len(s.data) >= m.maxKeys/shardCount {
			s.gc(now, m.idleAfter)
		}
		if len(s.data) >= m.maxKeys/shardCount {
			return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
		}
		bucket = &memoryBucket{
			tokens:   float64(m.capacity),
			lastFill: now,
		}
		s.data[key] = bucket
	}

	m.refill(bucket, now)

	decision := domain.RateLimitDecision{
		Limit:   m.capacity,
		ResetAt: m.resetAt(bucket, now),
	}
	if bucket.tokens >= 1 {
		bucket.tokens--
		decision.Allowed = true
	}
	decision.Remaining = int(bucket.tokens)
	return decision, nil
}

func (m *memoryLimiter) refill(b *memoryBucket, now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * m.refillRate
	if b.tokens > float64(m.capacity) {
		b.tokens = float64(m.capacity)
	}
	b.lastFill = now
}

func (m *memoryLimiter) resetAt(b *memoryBucket, now time.Time) time.Time {
	if b.tokens >= 1 {
		return now
	}
	missing := 1 - b.tokens
	wait := time.Duration(missing / m.refillRate * float64(time.Second))
	return now.Add(wait)
}

func (s *memoryShard) gc(now time.Time, idleAfter time.Duration) {
	for key, bucket := range s.data {
		if now.Sub(bucket.lastFill) > idleAfter {
			delete(s.data, key)
		}
	}
}

func shardFor(key string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h % shardCount
}

package dedupmem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const shardCount = 32

// Cache is a sharded in-process fingerprint cache. The first ShouldProcess
// call for a fingerprint within the TTL wins; concurrent duplicates lose
// under the same shard lock. Sharding keeps unrelated tenants from queueing
// behind one lock. Expiry is advisory: a replay after the TTL is treated as
// a first-time event and relies on action-level idempotency downstream.
type Cache struct {
	ttl         time.Duration
	maxPerShard int
	now         func() time.Time
	shards      [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

type Config struct {
	TTL         time.Duration
	MaxPerShard int
	Now         func() time.Time
}

func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxPerShard <= 0 {
		cfg.MaxPerShard = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Cache{
		ttl:         cfg.TTL,
		maxPerShard: cfg.MaxPerShard,
		now:         cfg.Now,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]time.Time)
	}
	return c
}

func (c *Cache) ShouldProcess(_ context.Context, tenantID, eventID string) (bool, error) {
	fp := Fingerprint(tenantID, eventID)
	now := c.now()
	s := &c.shards[fp[0]%shardCount]

	s.mu.Lock()
	defer s.mu.Unlock()

	if insertedAt, ok := s.entries[fp]; ok && now.Sub(insertedAt) <= c.ttl {
		return false, nil
	}
	if len(s.entries) >= c.maxPerShard {
		s.gc(now, c.ttl)
	}
	s.entries[fp] = now
	return true, nil
}

func (s *shard) gc(now time.Time, ttl time.Duration) {
	for fp, insertedAt := range s.entries {
		if now.Sub(insertedAt) > ttl {
			delete(s.entries, fp)
		}
	}
}

// Fingerprint derives the dedup identity from tenant and event id. The same
// entity updated twice produces distinct fingerprints; only redelivery of
// the same event collapses.
func Fingerprint(tenantID, eventID string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{'\n'})
	h.Write([]byte(eventID))
	return hex.EncodeToString(h.Sum(nil))
}

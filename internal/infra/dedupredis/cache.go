package dedupredis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"timeflow/internal/infra/dedupmem"
)

// Cache deduplicates across processes with SET NX PX: the delivery that
// creates the key processes the event, everyone else inside the TTL skips.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) ShouldProcess(ctx context.Context, tenantID, eventID string) (bool, error) {
	key := "dedup:" + dedupmem.Fingerprint(tenantID, eventID)
	created, err := c.client.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		return false, err
	}
	return created, nil
}

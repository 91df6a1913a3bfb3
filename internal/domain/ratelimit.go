package domain

import (
	"context"
	"time"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter hands out one token per Allow call against the bucket for key.
// A denied decision is a transient condition; callers either back off or
// reject with Retry-After.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitDecision, error)
}

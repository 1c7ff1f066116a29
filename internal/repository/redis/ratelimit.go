package redis

import (
	"context"
	"fmt"
	"time"
)

const (
	rateLimitPrefix = "ratelimit:chat:"
)

// RateLimiter is a fixed one-minute window limiter for chat sends
type RateLimiter struct {
	client            *Client
	requestsPerMinute int
	burst             int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
	}
}

// Allow counts one send for key in the current window.
// Returns (allowed, remaining, error).
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	window := time.Now().Truncate(time.Minute).Unix()
	fullKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, window)

	pipe := r.client.rdb.TxPipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := incrCmd.Val()
	limit := int64(r.requestsPerMinute + r.burst)
	remaining := int(limit - count)
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, nil
}

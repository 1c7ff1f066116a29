package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rrens/langly/internal/domain"
)

const (
	historyCachePrefix = "history:"
	historyCacheTTL    = 10 * time.Minute
)

// HistoryCache caches per-session message history in Redis
type HistoryCache struct {
	client *Client
}

// NewHistoryCache creates a new history cache
func NewHistoryCache(client *Client) *HistoryCache {
	return &HistoryCache{client: client}
}

func historyKey(sessionID int64) string {
	return fmt.Sprintf("%s%d", historyCachePrefix, sessionID)
}

// Get retrieves cached history for a session. A miss returns (nil, nil).
func (c *HistoryCache) Get(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	data, err := c.client.rdb.Get(ctx, historyKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history cache: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}

	return messages, nil
}

// Set caches history for a session
func (c *HistoryCache) Set(ctx context.Context, sessionID int64, messages []domain.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	return c.client.rdb.Set(ctx, historyKey(sessionID), data, historyCacheTTL).Err()
}

// Invalidate removes cached history for a session
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID int64) error {
	return c.client.rdb.Del(ctx, historyKey(sessionID)).Err()
}

// FlushAll removes all cached histories
func (c *HistoryCache) FlushAll(ctx context.Context) (int64, error) {
	pattern := historyCachePrefix + "*"
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

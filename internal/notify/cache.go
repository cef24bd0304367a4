package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/soudan-ai/soudan/internal/model"
)

// statsTTL bounds staleness of the unread badge between invalidations.
const statsTTL = 60 * time.Second

// StatsCache caches per-user notification counts in Redis. The badge is hit
// on nearly every page load, so counts are served from cache and invalidated
// whenever notifications are written or marked read.
//
// A nil *StatsCache is valid and disables caching.
type StatsCache struct {
	client *redis.Client
}

// NewStatsCache connects to Redis using a redis:// URL.
func NewStatsCache(redisURL string) (*StatsCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("notify: connect to redis: %w", err)
	}
	return &StatsCache{client: client}, nil
}

// NewStatsCacheWithClient creates a cache from an existing Redis client.
// Used in tests with miniredis.
func NewStatsCacheWithClient(client *redis.Client) *StatsCache {
	return &StatsCache{client: client}
}

func statsKey(userID uuid.UUID) string {
	return "notifstats:" + userID.String()
}

// Get returns cached stats for the user, or ok=false on miss, disabled cache,
// or Redis error. Cache errors are never surfaced to the request path.
func (c *StatsCache) Get(ctx context.Context, userID uuid.UUID) (model.NotificationStats, bool) {
	if c == nil {
		return model.NotificationStats{}, false
	}
	data, err := c.client.Get(ctx, statsKey(userID)).Bytes()
	if err != nil {
		return model.NotificationStats{}, false
	}
	var stats model.NotificationStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return model.NotificationStats{}, false
	}
	return stats, true
}

// Set stores stats for the user with the cache TTL.
func (c *StatsCache) Set(ctx context.Context, userID uuid.UUID, stats model.NotificationStats) {
	if c == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, statsKey(userID), data, statsTTL).Err()
}

// Invalidate drops cached stats for the given users. Called after any write
// that changes notification counts.
func (c *StatsCache) Invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	if c == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = statsKey(id)
	}
	_ = c.client.Del(ctx, keys...).Err()
}

// Close shuts down the Redis connection.
func (c *StatsCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chirpfeed/internal/metrics"
	"chirpfeed/internal/ranking"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "chirpfeed:feed"

// CachedFeed is a rendered feed page as stored in Redis.
type CachedFeed struct {
	Posts    []ranking.EnrichedPost `json:"posts"`
	Source   ranking.Source         `json:"source"`
	RankedAt time.Time              `json:"ranked_at"`
}

// RedisFeedCache keeps rendered feed pages per viewer and page size. Keys
// include the current TTL bucket so every viewer's page turns over on the
// same boundary.
type RedisFeedCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisFeedCache(client goredis.UniversalClient, ttl time.Duration) *RedisFeedCache {
	return &RedisFeedCache{client: client, ttl: ttl, now: time.Now}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisFeedCache) key(viewerID string, limit int) string {
	bucket := c.now().Truncate(c.ttl).Unix()
	return fmt.Sprintf("%s:%s:%d:%d", keyPrefix, viewerID, limit, bucket)
}

// Get returns the cached page, or ok=false on a miss.
func (c *RedisFeedCache) Get(ctx context.Context, viewerID string, limit int) (*CachedFeed, bool, error) {
	raw, err := c.client.Get(ctx, c.key(viewerID, limit)).Bytes()
	if errors.Is(err, goredis.Nil) {
		metrics.FeedCacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.FeedCacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("failed to read cached feed: %w", err)
	}

	var feed CachedFeed
	if err := json.Unmarshal(raw, &feed); err != nil {
		metrics.FeedCacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("failed to decode cached feed: %w", err)
	}

	metrics.FeedCacheLookups.WithLabelValues("hit").Inc()
	return &feed, true, nil
}

// Set stores a page until the end of the TTL.
func (c *RedisFeedCache) Set(ctx context.Context, viewerID string, limit int, feed *CachedFeed) error {
	raw, err := json.Marshal(feed)
	if err != nil {
		return fmt.Errorf("failed to encode feed: %w", err)
	}

	if err := c.client.Set(ctx, c.key(viewerID, limit), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache feed: %w", err)
	}
	return nil
}

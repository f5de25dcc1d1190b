package activities

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SearchCache memoizes search results in Redis so that at-least-once
// activity retries return the findings already produced instead of paying
// for the search again. Keys are derived from (topic, query, iteration), the
// identity of one search within a run.
type SearchCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSearchCache connects to Redis and verifies the connection. ttl bounds
// how long a memoized result outlives its run; zero means 1 hour.
func NewSearchCache(addr, password string, ttl time.Duration, logger *zap.Logger) (*SearchCache, error) {
	if ttl == 0 {
		ttl = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &SearchCache{client: client, ttl: ttl, logger: logger}, nil
}

// Get returns the memoized content for a search, if present. Redis errors
// are treated as misses; the cache is an optimization, not a dependency.
func (c *SearchCache) Get(ctx context.Context, in RunSearchInput) (string, bool) {
	val, err := c.client.Get(ctx, c.key(in)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("Search cache read failed", zap.Error(err))
		return "", false
	}
	return val, true
}

// Put stores the content for a search under its identity key.
func (c *SearchCache) Put(ctx context.Context, in RunSearchInput, content string) error {
	return c.client.Set(ctx, c.key(in), content, c.ttl).Err()
}

// Close releases the Redis connection.
func (c *SearchCache) Close() error {
	return c.client.Close()
}

func (c *SearchCache) key(in RunSearchInput) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", in.TopicID, in.Iteration, in.Query)))
	return "search:" + hex.EncodeToString(sum[:])
}

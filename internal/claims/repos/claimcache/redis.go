package claimcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "handlegate:taken:"

// redisCache is a positive cache shared by every replica. SET NX EX keeps
// the first insertion time; the entry bound is left to the server's
// maxmemory policy.
type redisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string

	hits   atomic.Uint64
	misses atomic.Uint64
}

// RedisOption configures a Redis-backed cache.
type RedisOption func(*redisCache)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// NewRedis returns a Cache storing markers in Redis for ttl.
func NewRedis(client redis.Cmdable, ttl time.Duration, opts ...RedisOption) Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &redisCache{client: client, ttl: ttl, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *redisCache) MarkTaken(ctx context.Context, token string) error {
	if err := c.client.SetNX(ctx, c.prefix+token, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("mark taken: %w", err)
	}
	return nil
}

func (c *redisCache) IsTaken(ctx context.Context, token string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("is taken: %w", err)
	}
	if n == 0 {
		c.misses.Add(1)
		return false, nil
	}
	c.hits.Add(1)
	return true, nil
}

// Stats reports local hit/miss counters only; Len is not tracked.
func (c *redisCache) Stats() Stats {
	return Stats{Backend: "redis", Hits: c.hits.Load(), Misses: c.misses.Load()}
}

var _ Cache = (*redisCache)(nil)

// Package cache keeps short-lived JSON read models in Redis. Keys are laid
// out as <prefix><scope>[:<suffix>] so dropping a scope also drops
// everything nested under it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "cache:"
	DefaultTTL    = 5 * time.Minute

	scanCount = 100
)

type Cache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{redis: rdb, prefix: prefix, ttl: ttl}
}

func (c *Cache) Key(scope string) string {
	return c.prefix + scope
}

// Get decodes the cached value into dst and reports whether it was present.
func (c *Cache) Get(ctx context.Context, scope string, dst any) (bool, error) {
	raw, err := c.redis.Get(ctx, c.Key(scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("c.redis.Get(%v): %w", scope, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %v: %w", scope, err)
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, scope string, v any) error {
	return c.SetFor(ctx, scope, v, c.ttl)
}

// SetFor stores v for ttl, capped at the cache's own TTL. Read models that
// can race with an in-flight invalidation use a short ttl to bound staleness.
func (c *Cache) SetFor(ctx context.Context, scope string, v any, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %v: %w", scope, err)
	}
	if err := c.redis.Set(ctx, c.Key(scope), raw, ttl).Err(); err != nil {
		return fmt.Errorf("c.redis.Set(%v): %w", scope, err)
	}
	return nil
}

// Invalidate drops the scope key and every key nested under it.
func (c *Cache) Invalidate(ctx context.Context, scope string) error {
	keys := []string{c.Key(scope)}
	match := c.Key(scope) + ":*"

	var cursor uint64
	for {
		batch, next, err := c.redis.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return fmt.Errorf("c.redis.Scan(%v): %w", match, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("c.redis.Del(%v): %w", scope, err)
	}
	return nil
}

// Package cache is the read-side cache used by order queries. It never
// participates in transactional writes; mutations invalidate after commit.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the injected read-side collaborator.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

type store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

// RedisCache stores JSON encoded values in redis.
type RedisCache struct {
	store store
}

func NewRedisCache(store store) (*RedisCache, error) {
	if store == nil {
		return nil, errors.New("redis store required")
	}
	return &RedisCache{store: store}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, string(payload), ttl)
}

func (c *RedisCache) InvalidatePattern(ctx context.Context, pattern string) error {
	_, err := c.store.DeleteByPattern(ctx, pattern)
	return err
}

// Noop satisfies Cache without storing anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Noop) InvalidatePattern(context.Context, string) error       { return nil }

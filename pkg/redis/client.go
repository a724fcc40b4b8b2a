// Package redis wraps go-redis with the key layout and the few primitives the
// storefront needs: idempotency records, fixed-window counters, locks and
// pattern deletes for the read cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Key layout: sf:<kind>:<parts...>
const (
	keyNamespace  = "sf"
	kindIdem      = "idempotency"
	kindRateLimit = "rate_limit"
	kindLock      = "lock"
	kindCache     = "cache"

	scanBatchSize = 200
)

var errNotInitialized = errors.New("redis client not initialized")

// cmdable is the slice of go-redis used here; tests substitute an in-memory fake.
type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	TTL(context.Context, string) *redis.DurationCmd
	Del(context.Context, ...string) *redis.IntCmd
	Scan(context.Context, uint64, string, int64) *redis.ScanCmd
}

type Client struct {
	store cmdable
	raw   *redis.Client
}

// IdempotencyStore is what the HTTP idempotency middleware needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// New dials redis and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

// options prefers STOREFRONT_REDIS_URL. Pool and timeout settings fill in
// whatever the URL leaves unset.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}
	setDefault(&opts.DB, cfg.DB)
	setDefault(&opts.PoolSize, cfg.PoolSize)
	setDefault(&opts.MinIdleConns, cfg.MinIdleConns)
	setDefault(&opts.DialTimeout, cfg.DialTimeout)
	setDefault(&opts.ReadTimeout, cfg.ReadTimeout)
	setDefault(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

func (c *Client) cmd() (cmdable, error) {
	if c == nil || c.store == nil {
		return nil, errNotInitialized
	}
	return c.store, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	s, err := c.cmd()
	if err != nil {
		return "", err
	}
	return s.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s, err := c.cmd()
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Del(ctx, keys...).Err()
}

// IncrWithTTL increments key and makes sure it expires. The TTL is set on the
// first increment, and re-applied if a previous caller died between INCR and
// EXPIRE and left the counter without one.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s, err := c.cmd()
	if err != nil {
		return 0, err
	}
	count, err := s.Incr(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return count, err
	}
	if count > 1 {
		remaining, err := s.TTL(ctx, key).Result()
		if err != nil || remaining >= 0 {
			return count, err
		}
	}
	return count, s.Expire(ctx, key, ttl).Err()
}

// FixedWindowAllow counts one hit against scope and reports whether the
// caller is still within limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	count, err := c.IncrWithTTL(ctx, c.RateLimitKey(scope), window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// DeleteByPattern removes keys matching a glob with SCAN, never KEYS.
func (c *Client) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	s, err := c.cmd()
	if err != nil {
		return 0, err
	}
	var cursor uint64
	var deleted int64
	for {
		keys, next, err := s.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := s.Del(ctx, keys...).Result()
			deleted += n
			if err != nil {
				return deleted, fmt.Errorf("delete %s: %w", pattern, err)
			}
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func (c *Client) Ping(ctx context.Context) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) IdempotencyKey(scope, id string) string { return key(kindIdem, scope, id) }

func (c *Client) RateLimitKey(scope string) string { return key(kindRateLimit, scope) }

func (c *Client) LockKey(scope, id string) string { return key(kindLock, scope, id) }

func (c *Client) CacheKey(parts ...string) string {
	return key(kindCache, parts...)
}

// key joins non-empty parts under the namespace.
func key(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}

// Package cache holds the fallback copies of catalog reads, the provider
// model lists, and the fixed-window rate limit counters.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache must be safe for concurrent use. Get reports a miss as ok=false with
// a nil error.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	// IncrWithExpiry increments key and arms its expiry only when the key is
	// new, so a fixed window is not extended by later hits.
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache value %s: %w", key, err)
	}
	return c.Set(ctx, key, b, ttl)
}

// GetJSON decodes the value under key into v. A miss returns false and
// leaves v untouched.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	b, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decoding cache value %s: %w", key, err)
	}
	return true, nil
}

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache parses a redis:// or rediss:// URL. It does not connect;
// call Ping to check reachability.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

var _ Cache = (*RedisCache)(nil)

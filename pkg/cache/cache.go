// Package cache is a best-effort string key/value layer with per-key TTLs.
//
// Redis is the primary backend; a small in-process cache absorbs reads while
// Redis is unreachable. Cache failures never fail a request: errors are
// logged and treated as misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// TTLs for the reserved key domains.
const (
	TTLOnChainHash   = 5 * time.Minute
	TTLStatus        = 5 * time.Minute
	TTLStatusAll     = 5 * time.Minute
	TTLLastExecution = time.Hour
	TTLAuthority     = time.Hour
)

// Key builders for the reserved domains.
const (
	KeyLastExecution = "background_job:last_execution"
	statusPrefix     = "check_is_verified:"
	statusAllPrefix  = "get_all_verification_info:"
	authorityPrefix  = "program_authority:"
)

func StatusKey(programID string) string    { return statusPrefix + programID }
func StatusAllKey(programID string) string { return statusAllPrefix + programID }
func AuthorityKey(programID string) string { return authorityPrefix + programID }

// ErrMiss is returned by Get when the key is absent or unreadable.
var ErrMiss = errors.New("cache: miss")

// Cache wraps a multiplexed Redis client, lazily connected under a mutex,
// with a local in-process fallback.
type Cache struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	client *redis.Client

	local *gocache.Cache
}

// New prepares a cache for the given Redis URL. No connection is made until
// first use.
func New(redisURL string) *Cache {
	return &Cache{
		url:    redisURL,
		logger: slog.Default().With("component", "cache"),
		local:  gocache.New(time.Minute, 5*time.Minute),
	}
}

func (c *Cache) redis() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	opts, err := redis.ParseURL(c.url)
	if err != nil {
		return nil, err
	}
	c.client = redis.NewClient(opts)
	return c.client, nil
}

// Set stores value under key with the given TTL. Best-effort.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.local.Set(key, value, ttl)
	client, err := c.redis()
	if err != nil {
		c.logger.Warn("redis unavailable, local set only", "key", key, "error", err)
		return
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Get returns the value for key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	client, err := c.redis()
	if err == nil {
		v, rerr := client.Get(ctx, key).Result()
		if rerr == nil {
			return v, nil
		}
		if !errors.Is(rerr, redis.Nil) {
			c.logger.Warn("cache get failed, falling back to local", "key", key, "error", rerr)
			if lv, ok := c.local.Get(key); ok {
				return lv.(string), nil
			}
		}
		return "", ErrMiss
	}
	if lv, ok := c.local.Get(key); ok {
		return lv.(string), nil
	}
	return "", ErrMiss
}

// Del drops keys. Best-effort.
func (c *Cache) Del(ctx context.Context, keys ...string) {
	for _, k := range keys {
		c.local.Delete(k)
	}
	client, err := c.redis()
	if err != nil {
		return
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache del failed", "keys", keys, "error", err)
	}
}

// Compare reports whether key is present and equal to value.
func (c *Cache) Compare(ctx context.Context, key, value string) bool {
	v, err := c.Get(ctx, key)
	return err == nil && v == value
}

// SetJSON serializes v and stores it under key. Best-effort.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	enc, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache marshal failed", "key", key, "error", err)
		return
	}
	c.Set(ctx, key, string(enc), ttl)
}

// GetJSON loads key and deserializes into v. Any failure, including a decode
// error, reads as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return ErrMiss
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		c.logger.Warn("cache decode failed, treating as miss", "key", key, "error", err)
		return ErrMiss
	}
	return nil
}

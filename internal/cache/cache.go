// Package cache provides the short-lived lookup cache in front of the contact
// store. Redis is used when configured; otherwise an in-process TTL map is
// used, which is only correct for a single instance.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a string key/value store with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Incr increments the integer counter at each key, creating it at 1,
	// and resets its TTL.
	Incr(ctx context.Context, ttl time.Duration, keys ...string) error
}

// RedisCache wraps a go-redis client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	res, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return res, err
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) Incr(ctx context.Context, ttl time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Incr(ctx, k)
			p.PExpire(ctx, k, ttl)
		}
		return nil
	})
	return err
}

// Close closes the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memItem{}, now: time.Now}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return "", ErrMiss
	}
	if !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return "", ErrMiss
	}
	return item.value, nil
}

func (m *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	m.items[key] = memItem{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *MemoryCache) Incr(ctx context.Context, ttl time.Duration, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, k := range keys {
		var n int64
		if item, ok := m.items[k]; ok && now.Before(item.expiresAt) {
			v, err := strconv.ParseInt(item.value, 10, 64)
			if err != nil {
				return fmt.Errorf("incrementing %s: %w", k, err)
			}
			n = v
		}
		m.items[k] = memItem{value: strconv.FormatInt(n+1, 10), expiresAt: now.Add(ttl)}
	}
	return nil
}

// size returns the number of entries, including expired ones not yet evicted.
func (m *MemoryCache) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryCache) cleanupLocked() {
	now := m.now()
	for k, v := range m.items {
		if !now.Before(v.expiresAt) {
			delete(m.items, k)
		}
	}
}

// New returns a MemoryCache when redisURL is empty and a RedisCache
// otherwise. An unreachable Redis is not replaced by a local cache: other
// instances could not see this one's invalidations. Its errors read as
// misses until it recovers.
func New(ctx context.Context, redisURL string) (Cache, error) {
	if redisURL == "" {
		return NewMemoryCache(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("cache: redis unreachable, lookups go to the store until it recovers", "addr", opts.Addr, "error", err)
	} else {
		slog.Info("cache: using redis", "addr", opts.Addr)
	}
	return NewRedisCache(client), nil
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ConfigCache is the read-through cache in front of the configuration
// store. Entries are whole-value swaps; a Get either returns a value
// that was set atomically or nothing.
type ConfigCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context)
}

// ===========================
// IN-PROCESS CACHE
// ===========================

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a TTL map for single-node deployments and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryCache) Flush(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
}

// ===========================
// REDIS CACHE
// ===========================

// RedisCache backs the config cache with Redis so multiple API nodes
// share one bounded-staleness view. Redis errors degrade to cache
// misses; the store below is the source of truth.
type RedisCache struct {
	Client *redis.Client
	Prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{Client: client, Prefix: "floworx:config:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.Client.Get(ctx, c.Prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = c.Client.Set(ctx, c.Prefix+key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	_ = c.Client.Del(ctx, c.Prefix+key).Err()
}

func (c *RedisCache) Flush(ctx context.Context) {
	iter := c.Client.Scan(ctx, 0, c.Prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		_ = c.Client.Del(ctx, keys...).Err()
	}
}

package forecast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores generated forecasts keyed by (model, horizon, confidence).
// Misses and backend failures are equivalent: the generator recomputes.
type Cache interface {
	Get(ctx context.Context, key string) (*Forecast, bool)
	Set(ctx context.Context, key string, fc *Forecast)
}

// MemoryCache is a TTL cache in process memory, for single-node use.
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	fc      *Forecast
	expires time.Time
}

// NewMemoryCache creates a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Forecast, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.fc, true
}

func (c *MemoryCache) Set(_ context.Context, key string, fc *Forecast) {
	c.mu.Lock()
	c.entries[key] = memoryEntry{fc: fc, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// RedisCache shares forecast results across nodes through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Forecast, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var fc Forecast
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, false
	}
	return &fc, true
}

func (c *RedisCache) Set(ctx context.Context, key string, fc *Forecast) {
	raw, err := json.Marshal(fc)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, raw, c.ttl)
}

package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/payflux/monitor-core/internal/monitoring"
)

// lruCache is the in-process cache backend: a single ordered structure
// (map into a recency list) giving O(1) get and put-with-eviction, with a
// per-entry TTL. Expired entries are dropped on access and by Set-time
// eviction, never served.
type lruCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type lruEntry struct {
	key      string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e *lruEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storedAt) >= e.ttl
}

// NewLRU builds an in-process cache with the given capacity and default TTL.
func NewLRU(capacity int, defaultTTL time.Duration) Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &lruCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      defaultTTL,
		now:      time.Now,
	}
}

func (c *lruCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, ErrCacheMiss
	}
	entry := el.Value.(*lruEntry)
	if entry.expired(c.now()) {
		c.removeLocked(el)
		monitoring.RecordCacheOperation("get", "expired")
		return nil, ErrCacheMiss
	}
	c.order.MoveToFront(el)
	monitoring.RecordCacheOperation("get", "hit")
	return entry.value, nil
}

func (c *lruCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = data
		entry.storedAt = now
		entry.ttl = ttl
		c.order.MoveToFront(el)
		monitoring.RecordCacheOperation("set", "success")
		return nil
	}

	if c.order.Len() >= c.capacity {
		c.evictLocked(now)
	}
	el := c.order.PushFront(&lruEntry{key: key, value: data, storedAt: now, ttl: ttl})
	c.entries[key] = el
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

// evictLocked removes one entry to make room: any expired entry first,
// otherwise the least recently used.
func (c *lruCache) evictLocked(now time.Time) {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		if el.Value.(*lruEntry).expired(now) {
			c.removeLocked(el)
			return
		}
	}
	if el := c.order.Back(); el != nil {
		c.removeLocked(el)
		monitoring.RecordCacheOperation("evict", "lru")
	}
}

func (c *lruCache) removeLocked(el *list.Element) {
	entry := el.Value.(*lruEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}

func (c *lruCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

func (c *lruCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// HealthCheck always succeeds; the in-process cache has no external
// dependency to probe.
func (c *lruCache) HealthCheck(ctx context.Context) error {
	return nil
}

// Len reports current entry count. Used by tests.
func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache for tests and single-node development.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// WithClock replaces the clock used for expiry. Test helper.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	var n int64
	if ok {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	} else {
		e = memoryEntry{expiresAt: c.now().Add(expiry)}
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	c.entries[key] = e
	return n, nil
}

// lookup must be called with mu held.
func (c *MemoryCache) lookup(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

var _ Cache = (*MemoryCache)(nil)

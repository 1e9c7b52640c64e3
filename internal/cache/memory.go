package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	answer  Answer
	expires time.Time
}

// MemoryCache is an in-process Cache with the same invalidation rules as
// RedisCache.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	byDoc    map[uuid.UUID]map[string]struct{}
	unscoped map[string]struct{}
	now      func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:  make(map[string]memoryEntry),
		byDoc:    make(map[uuid.UUID]map[string]struct{}),
		unscoped: make(map[string]struct{}),
		now:      time.Now,
	}
}

func (c *MemoryCache) GetAnswer(_ context.Context, key string) (*Answer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	a := e.answer
	return &a, nil
}

func (c *MemoryCache) SetAnswer(_ context.Context, key string, answer *Answer, scope []uuid.UUID, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{answer: *answer}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	if len(scope) == 0 {
		c.unscoped[key] = struct{}{}
		return nil
	}
	for _, id := range scope {
		if c.byDoc[id] == nil {
			c.byDoc[id] = make(map[string]struct{})
		}
		c.byDoc[id][key] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) InvalidateDocument(_ context.Context, docID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.byDoc[docID] {
		delete(c.entries, key)
	}
	for key := range c.unscoped {
		delete(c.entries, key)
	}
	delete(c.byDoc, docID)
	c.unscoped = make(map[string]struct{})
	return nil
}

func (c *MemoryCache) Close() error { return nil }

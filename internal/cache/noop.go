package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NoOpCache is a cache implementation that does nothing.
// Used as a fallback when Redis is unavailable - all operations succeed
// but no actual caching occurs (always cache miss).
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetAnswer always returns nil (cache miss)
func (c *NoOpCache) GetAnswer(ctx context.Context, key string) (*Answer, error) {
	return nil, nil
}

func (c *NoOpCache) SetAnswer(ctx context.Context, key string, answer *Answer, scope []uuid.UUID, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) InvalidateDocument(ctx context.Context, docID uuid.UUID) error {
	return nil
}

func (c *NoOpCache) Close() error {
	return nil
}

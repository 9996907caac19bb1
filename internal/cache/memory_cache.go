package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InMemoryRequestCache implements RequestCache using an in-memory map.
// Entries are never evicted.
type InMemoryRequestCache struct {
	data   map[string]Entry
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryRequestCache creates a new in-memory request cache
func NewInMemoryRequestCache(logger *zap.Logger) *InMemoryRequestCache {
	return &InMemoryRequestCache{
		data:   make(map[string]Entry),
		logger: logger,
	}
}

// Get retrieves an entry
func (c *InMemoryRequestCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[key]
	return entry, exists, nil
}

// MarkIssued records a network answer for key
func (c *InMemoryRequestCache) MarkIssued(ctx context.Context, key string, resultCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.data[key]
	entry.Issued = true
	if resultCount >= 0 {
		entry.LastResultCount = resultCount
	}
	c.data[key] = entry
	return nil
}

// Invalidate removes one entry
func (c *InMemoryRequestCache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Reset removes every entry
func (c *InMemoryRequestCache) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("Request cache reset", zap.Int("entries", len(c.data)))
	c.data = make(map[string]Entry)
	return nil
}

// Size returns the number of entries
func (c *InMemoryRequestCache) Size(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data), nil
}

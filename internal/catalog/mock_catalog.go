package catalog

import (
	"context"
	"fmt"
	"sync"
)

// MockCatalog implements the Catalog interface for testing, backed by an
// in-memory item map.
type MockCatalog struct {
	mutex sync.RWMutex
	items map[string]Item

	RefreshFn func(ctx context.Context) (int, error)
}

// NewMockCatalog creates a MockCatalog seeded with the given items.
func NewMockCatalog(items ...Item) *MockCatalog {
	c := &MockCatalog{items: make(map[string]Item)}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

// Item returns metadata for one item.
func (c *MockCatalog) Item(ctx context.Context, itemID string) (Item, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	it, ok := c.items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemUnknown, itemID)
	}
	return it, nil
}

// Items returns the current snapshot.
func (c *MockCatalog) Items(ctx context.Context) ([]Item, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	return out, nil
}

// Refresh delegates to RefreshFn or reports the current item count.
func (c *MockCatalog) Refresh(ctx context.Context) (int, error) {
	if c.RefreshFn != nil {
		return c.RefreshFn(ctx)
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items), nil
}

// MarkAcquired flips the acquired flag for an item.
func (c *MockCatalog) MarkAcquired(ctx context.Context, itemID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	it, ok := c.items[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemUnknown, itemID)
	}
	it.Acquired = true
	c.items[itemID] = it
	return nil
}

// Add inserts or replaces an item.
func (c *MockCatalog) Add(it Item) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items[it.ID] = it
}

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPCatalog reads the account's library from the upstream catalog
// endpoint and caches the snapshot in memory. Acquired flags set locally
// survive a refresh: the upstream knows ownership, not what is on this
// device's disk.
type HTTPCatalog struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mutex    sync.RWMutex
	items    map[string]Item
	acquired map[string]bool
}

// NewHTTPCatalog creates an HTTPCatalog for the given endpoint.
func NewHTTPCatalog(endpoint string, logger *slog.Logger) *HTTPCatalog {
	return &HTTPCatalog{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.With("component", "catalog"),
		items:    make(map[string]Item),
		acquired: make(map[string]bool),
	}
}

// remoteItem is the upstream's item shape.
type remoteItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// Item implements Catalog.
func (c *HTTPCatalog) Item(ctx context.Context, itemID string) (Item, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, ok := c.items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemUnknown, itemID)
	}
	return item, nil
}

// Items implements Catalog.
func (c *HTTPCatalog) Items(ctx context.Context) ([]Item, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	return out, nil
}

// Refresh implements Catalog.
func (c *HTTPCatalog) Refresh(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/library", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("catalog request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("catalog endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog response: %w", err)
	}

	var remote []remoteItem
	if err := json.Unmarshal(body, &remote); err != nil {
		return 0, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]Item, len(remote))
	for _, ri := range remote {
		c.items[ri.ID] = Item{
			ID:       ri.ID,
			Title:    ri.Title,
			Author:   ri.Author,
			Acquired: c.acquired[ri.ID],
		}
	}

	c.logger.Info("catalog refreshed", "items", len(c.items))
	return len(c.items), nil
}

// MarkAcquired implements Catalog.
func (c *HTTPCatalog) MarkAcquired(ctx context.Context, itemID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	item, ok := c.items[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemUnknown, itemID)
	}
	item.Acquired = true
	c.items[itemID] = item
	c.acquired[itemID] = true
	return nil
}

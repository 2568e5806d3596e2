// Package catalog defines read access to the library source of truth: which
// items the account owns, which are already acquired locally, and the
// metadata needed to display and place them.
package catalog

import (
	"context"
	"errors"
)

// ErrItemUnknown is returned when an item ID is not present in the catalog.
var ErrItemUnknown = errors.New("catalog item not found")

// Item is one entry in the account's library.
type Item struct {
	ID       string
	Title    string
	Author   string
	Acquired bool
}

// Catalog is the source-of-truth collaborator.
type Catalog interface {
	// Item returns metadata for one item by business key.
	Item(ctx context.Context, itemID string) (Item, error)

	// Items returns the current catalog snapshot.
	Items(ctx context.Context) ([]Item, error)

	// Refresh re-reads the remote library into the local snapshot and
	// returns the refreshed item count.
	Refresh(ctx context.Context) (int, error)

	// MarkAcquired records that an item's media is now present locally.
	MarkAcquired(ctx context.Context, itemID string) error
}

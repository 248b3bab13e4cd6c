package state

import (
	"context"

	"github.com/aretw0/labrun/pkg/domain"
)

// UnitEvent is what a consumer reports for one item.
type UnitEvent struct {
	Location    any
	Settled     bool
	Failed      bool
	Diagnostics []domain.Diagnostic
}

// NotifyFunc publishes a consumer's view of one item.
type NotifyFunc func(UnitEvent)

// Consumer serves one namespace across all items.
//
// Apply must call the notify function of every item it receives at least once
// before returning.
type Consumer interface {
	Add(item *Item, value any, notify NotifyFunc) error
	Apply(ctx context.Context, items []*Item) error
	Suspend(ctx context.Context, item *Item) error
	// Clear runs before an item is destroyed and releases what the item holds.
	Clear(item *Item) error
	Remove(item *Item)
}

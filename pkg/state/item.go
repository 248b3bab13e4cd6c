package state

import (
	"sync"

	"github.com/aretw0/labrun/internal/latch"
	"github.com/aretw0/labrun/pkg/claim"
	"github.com/aretw0/labrun/pkg/domain"
)

// UpdateFunc receives the item's record whenever a consumer reports.
type UpdateFunc func(Record)

// Record is the exported view of an item.
type Record struct {
	Locations   map[string]any      `json:"locations,omitempty"`
	Applied     bool                `json:"applied"`
	Settled     bool                `json:"settled"`
	Failed      bool                `json:"failed"`
	Terminal    bool                `json:"terminal,omitempty"`
	Diagnostics []domain.Diagnostic `json:"diagnostics,omitempty"`
}

type entry struct {
	location    any
	settled     bool
	notified    bool
	diagnostics []domain.Diagnostic
}

// Item mirrors the declarative state of one program node.
type Item struct {
	handle     Handle
	parent     *Item
	symbol     *claim.Symbol
	namespaces []string
	update     UpdateFunc
	settle     *latch.Latch

	mu          sync.Mutex
	children    []*Item
	entries     map[string]*entry
	applied     bool
	failed      bool
	terminal    bool
	diagnostics []domain.Diagnostic
}

func newItem(handle Handle, parent *Item, namespaces []string, update UpdateFunc, counter *domain.Counter) *Item {
	var symbol *claim.Symbol
	if parent != nil {
		symbol = parent.symbol.Child(handle.Name())
	} else {
		symbol = claim.NewSymbol(handle.Name(), counter)
	}
	if update == nil {
		update = func(Record) {}
	}
	it := &Item{
		handle:     handle,
		parent:     parent,
		symbol:     symbol,
		namespaces: namespaces,
		update:     update,
		entries:    make(map[string]*entry, len(namespaces)),
		settle:     latch.New(len(namespaces) == 0),
	}
	for _, ns := range namespaces {
		it.entries[ns] = &entry{}
	}
	return it
}

func (it *Item) Handle() Handle { return it.handle }

// Parent returns the enclosing item, or nil at the root.
func (it *Item) Parent() *Item { return it.parent }

// Symbol is the claim symbol consumers use to hold resources for this item.
func (it *Item) Symbol() *claim.Symbol { return it.symbol }

func (it *Item) Children() []*Item {
	it.mu.Lock()
	defer it.mu.Unlock()
	return append([]*Item(nil), it.children...)
}

// Namespaces lists the namespaces the item declares, in registration order.
func (it *Item) Namespaces() []string { return it.namespaces }

func (it *Item) Applied() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.applied
}

func (it *Item) Failed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.failed
}

// Terminal reports whether the item was last applied as the final state of
// its scope. Consumers may release resources once a terminal item settles.
func (it *Item) Terminal() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.terminal
}

func (it *Item) Settled() bool { return it.settle.IsSet() }

// SettleDone is closed once the item settles.
func (it *Item) SettleDone() <-chan struct{} { return it.settle.Done() }

// Record exports the item.
func (it *Item) Record() Record {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.recordLocked()
}

func (it *Item) recordLocked() Record {
	r := Record{
		Applied:  it.applied,
		Settled:  it.settle.IsSet(),
		Failed:   it.failed,
		Terminal: it.terminal,
	}
	if len(it.entries) > 0 {
		r.Locations = make(map[string]any, len(it.entries))
	}
	r.Diagnostics = append(r.Diagnostics, it.diagnostics...)
	for _, ns := range it.namespaces {
		e := it.entries[ns]
		r.Locations[ns] = e.location
		r.Diagnostics = append(r.Diagnostics, e.diagnostics...)
	}
	return r
}

// notify applies a consumer report. It is the only writer of entry locations.
func (it *Item) notify(ns string, ev UnitEvent) {
	it.mu.Lock()
	e, ok := it.entries[ns]
	if !ok {
		it.mu.Unlock()
		return
	}
	e.location = ev.Location
	e.settled = ev.Settled
	e.notified = true
	e.diagnostics = ev.Diagnostics
	if ev.Failed {
		it.failed = true
	}
	it.recomputeLocked()
	rec := it.recordLocked()
	it.mu.Unlock()

	it.update(rec)
}

// abandon marks a failed entry settled so that it does not block Apply.
func (it *Item) abandon(ns string) {
	it.mu.Lock()
	if e, ok := it.entries[ns]; ok {
		e.settled = true
		e.notified = true
	}
	it.recomputeLocked()
	it.mu.Unlock()
}

func (it *Item) recomputeLocked() {
	for _, e := range it.entries {
		if !e.settled {
			it.settle.Clear()
			return
		}
	}
	it.settle.Set()
}

func (it *Item) addDiagnostic(d domain.Diagnostic, fail bool) {
	it.mu.Lock()
	it.diagnostics = append(it.diagnostics, d)
	if fail {
		it.failed = true
	}
	rec := it.recordLocked()
	it.mu.Unlock()
	it.update(rec)
}

func (it *Item) publish() {
	it.update(it.Record())
}

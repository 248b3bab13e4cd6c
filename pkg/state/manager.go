package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/internal/metrics"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/sourcegraph/conc/panics"
)

// Handle is the part of a program handle the manager relies on.
type Handle interface {
	// StateParent returns the enclosing handle, or nil at the root.
	StateParent() Handle
	Name() string
}

// Manager owns the item tree and dispatches to namespace consumers.
type Manager struct {
	logger  *slog.Logger
	stats   *metrics.Collector
	counter *domain.Counter

	order     []string
	consumers map[string]Consumer

	mu    sync.Mutex
	items map[Handle]*Item
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(stats *metrics.Collector) Option {
	return func(m *Manager) {
		m.stats = stats
	}
}

// WithCounter orders the claim symbols of root items. Share it with the
// master that owns the run.
func WithCounter(c *domain.Counter) Option {
	return func(m *Manager) {
		m.counter = c
	}
}

// WithConsumer serves namespace ns with c. Consumers are applied in the order
// they are registered and suspended in reverse.
func WithConsumer(ns string, c Consumer) Option {
	return func(m *Manager) {
		m.order = append(m.order, ns)
		m.consumers[ns] = c
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:    logging.NewNop(),
		counter:   domain.NewCounter(),
		consumers: make(map[string]Consumer),
		items:     make(map[Handle]*Item),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Item returns the item registered for handle, or nil.
func (m *Manager) Item(handle Handle) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[handle]
}

func (m *Manager) nearest(handle Handle) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h := handle; h != nil; h = h.StateParent() {
		if it, ok := m.items[h]; ok {
			return it
		}
	}
	return nil
}

// Add registers an item for handle under the nearest registered ancestor and
// hands each namespace value to its consumer. update receives the item's
// record whenever it changes.
func (m *Manager) Add(handle Handle, state map[string]any, update UpdateFunc) (*Item, error) {
	var parent *Item
	if p := handle.StateParent(); p != nil {
		parent = m.nearest(p)
	}

	var namespaces, unknown []string
	for _, ns := range m.order {
		if _, ok := state[ns]; ok {
			namespaces = append(namespaces, ns)
		}
	}
	for ns := range state {
		if _, ok := m.consumers[ns]; !ok {
			unknown = append(unknown, ns)
		}
	}
	slices.Sort(unknown)

	it := newItem(handle, parent, namespaces, update, m.counter)

	m.mu.Lock()
	if _, dup := m.items[handle]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("state item for %s already registered", handle.Name())
	}
	m.items[handle] = it
	m.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, it)
		parent.mu.Unlock()
	}

	for _, ns := range unknown {
		it.addDiagnostic(domain.NewWarning("state.unknown_namespace", "no consumer for namespace %q", ns), false)
	}
	for _, ns := range namespaces {
		notify := func(ev UnitEvent) { it.notify(ns, ev) }
		c := m.consumers[ns]
		value := state[ns]
		if !m.guard(ns, it, func() error { return c.Add(it, value, notify) }) {
			it.abandon(ns)
		}
	}
	return it, nil
}

// Apply applies the nearest registered item for handle along with every
// unapplied ancestor, then waits until the item and all its ancestors are
// settled. It reports whether any of them failed. Only ctx cancellation is
// returned as an error.
func (m *Manager) Apply(ctx context.Context, handle Handle, terminal bool) (bool, error) {
	item := m.nearest(handle)
	if item == nil {
		return false, nil
	}
	start := time.Now()

	var relevant []*Item
	for it := item; it != nil && !it.Applied(); it = it.parent {
		relevant = append(relevant, it)
	}
	slices.Reverse(relevant)

	for _, it := range relevant {
		it.mu.Lock()
		it.terminal = terminal
		for _, e := range it.entries {
			e.notified = false
		}
		it.mu.Unlock()
	}

	for _, ns := range m.order {
		var items []*Item
		for _, it := range relevant {
			if _, ok := it.entries[ns]; ok {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		c := m.consumers[ns]
		ok := m.guard(ns, items[0], func() error { return c.Apply(ctx, items) })

		for _, it := range items {
			it.mu.Lock()
			notified := it.entries[ns].notified
			it.mu.Unlock()
			if !ok && !notified {
				it.abandon(ns)
				continue
			}
			if !notified {
				perr := &ProtocolError{Namespace: ns, Reason: "apply returned without reporting a location"}
				m.logger.Error("state protocol violation", "item", it.handle.Name(), "err", perr)
				m.stats.DiagnosticRecorded(string(domain.DiagnosticError))
				it.addDiagnostic(perr.Diagnostic(), false)
			}
		}
	}

	for _, it := range relevant {
		it.mu.Lock()
		it.applied = true
		it.mu.Unlock()
		it.publish()
	}

	failed := false
	for it := item; it != nil; it = it.parent {
		if err := it.settle.Wait(ctx); err != nil {
			return false, err
		}
		if it.Failed() {
			failed = true
		}
	}
	m.stats.ObserveApply(time.Since(start))
	return failed, nil
}

// Suspend reverses Apply for exactly the item registered for handle and
// returns its record.
func (m *Manager) Suspend(ctx context.Context, handle Handle) (Record, error) {
	it := m.Item(handle)
	if it == nil {
		return Record{}, domain.ErrHandleNotFound
	}

	it.mu.Lock()
	it.applied = false
	for _, e := range it.entries {
		e.settled = false
	}
	it.recomputeLocked()
	it.mu.Unlock()

	for i := len(it.namespaces) - 1; i >= 0; i-- {
		ns := it.namespaces[i]
		c := m.consumers[ns]
		m.guard(ns, it, func() error { return c.Suspend(ctx, it) })
		if err := ctx.Err(); err != nil {
			return it.Record(), err
		}
	}
	it.publish()
	return it.Record(), nil
}

// Clear runs every consumer's cleanup for the item registered for handle. A
// failed cleanup is recorded on the item as a diagnostic.
func (m *Manager) Clear(handle Handle) {
	it := m.Item(handle)
	if it == nil {
		return
	}
	for i := len(it.namespaces) - 1; i >= 0; i-- {
		ns := it.namespaces[i]
		c := m.consumers[ns]
		m.guard(ns, it, func() error { return c.Clear(it) })
	}
}

// Remove unregisters the item for handle.
func (m *Manager) Remove(handle Handle) {
	m.mu.Lock()
	it, ok := m.items[handle]
	delete(m.items, handle)
	m.mu.Unlock()
	if !ok {
		return
	}

	for _, ns := range it.namespaces {
		c := m.consumers[ns]
		m.guard(ns, it, func() error { c.Remove(it); return nil })
	}
	if it.parent != nil {
		it.parent.mu.Lock()
		it.parent.children = slices.DeleteFunc(it.parent.children, func(c *Item) bool { return c == it })
		it.parent.mu.Unlock()
	}
}

// guard runs a consumer call, turning errors and panics into a diagnostic on
// it. Context cancellation is not a consumer failure. It reports false when
// the call failed.
func (m *Manager) guard(ns string, it *Item, fn func() error) bool {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	ierr := &InternalError{Namespace: ns, Err: err}
	m.logger.Warn("state consumer failed", "item", it.handle.Name(), "namespace", ns, "err", err)
	m.stats.DiagnosticRecorded(string(domain.DiagnosticError))
	it.addDiagnostic(ierr.Diagnostic(), true)
	return false
}

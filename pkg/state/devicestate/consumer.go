// Package devicestate serves the "devices" state namespace: it holds device
// value nodes at their declared targets for as long as a scope is applied.
package devicestate

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aretw0/labrun/internal/logging"
	"github.com/aretw0/labrun/pkg/claim"
	"github.com/aretw0/labrun/pkg/device"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/pool"
	"github.com/aretw0/labrun/pkg/state"
)

// Namespace is the state key served by this consumer.
const Namespace = "devices"

var errOwnershipLost = errors.New("ownership lost before write")

// Resolver finds value nodes by path. *device.Registry satisfies it.
type Resolver interface {
	Lookup(path string) (device.ValueNode, error)
}

// NodeLocation is the exported status of one node within an item. Lent is set
// while a nested scope holds the node.
type NodeLocation struct {
	Target  any    `json:"target"`
	Value   any    `json:"value"`
	Owned   bool   `json:"owned"`
	Lent    bool   `json:"lent,omitempty"`
	Settled bool   `json:"settled"`
	Error   string `json:"error,omitempty"`
}

type config struct {
	logger     *slog.Logger
	newBackoff func() backoff.BackOff
}

// Option configures the consumer.
type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithBackoff sets the retry policy for writes to disconnected nodes.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(c *config) { c.newBackoff = newBackoff }
}

// NewConsumer returns the consumer for the devices namespace.
func NewConsumer(nodes Resolver, opts ...Option) state.Consumer {
	cfg := &config{
		logger: logging.NewNop(),
		newBackoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(50*time.Millisecond),
				backoff.WithMaxInterval(time.Second),
				backoff.WithMaxElapsedTime(0),
			)
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return state.NewInstanceConsumer(func(item *state.Item, value any, notify state.NotifyFunc) (state.Instance, error) {
		targets, err := Decode(value)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(targets))
		for p := range targets {
			paths = append(paths, p)
		}
		slices.Sort(paths)

		inst := &instance{
			item:   item,
			notify: notify,
			cfg:    cfg,
			logger: cfg.logger.With("item", item.Handle().Name()),
		}
		for _, p := range paths {
			node, err := nodes.Lookup(p)
			if err != nil {
				return nil, err
			}
			inst.units = append(inst.units, &unit{path: p, node: node, target: targets[p]})
		}
		inst.publish()
		return inst, nil
	})
}

type unit struct {
	path   string
	node   device.ValueNode
	target Target

	token        *claim.Token
	unwatch      func()
	unwatchOwner func()
	owned        bool
	lent         bool
	writing      bool
	rewrite      bool
	value        any
	settled      bool
	released     bool
	err          error
}

type instance struct {
	item   *state.Item
	notify state.NotifyFunc
	cfg    *config
	logger *slog.Logger
	units  []*unit

	mu    sync.Mutex
	tasks *pool.Pool
}

func (i *instance) Apply(ctx context.Context, resume bool) error {
	i.mu.Lock()
	i.tasks = pool.New(context.Background(), pool.WithLogger(i.logger))
	for _, u := range i.units {
		u.released = false
		u.err = nil
		u.unwatch = u.node.WatchValue(func(v any) { i.observe(u, v) })
		u.unwatchOwner = u.node.Claimable().WatchOwner(func() { i.ownerChanged(u) })
		u.token = claim.NewToken(u.node.Claimable(), i.item.Symbol(),
			claim.WithTokenLogger(i.logger),
			claim.OnChange(func(owned bool) { i.ownership(u, owned) }),
		)
	}
	i.mu.Unlock()

	i.logger.Debug("devices applied", "resume", resume, "nodes", len(i.units))
	i.publish()
	return nil
}

// borrowed reports whether u's node is held by a scope nested in this item.
// A borrowed unit counts as settled until the node comes back. Called with
// i.mu held; the claimable never calls out while holding its own lock.
func (i *instance) borrowed(u *unit) bool {
	owner := u.node.Claimable().Owner()
	return owner != nil && i.item.Symbol().IsAncestorOf(owner.Symbol())
}

func (i *instance) ownership(u *unit, owned bool) {
	i.mu.Lock()
	u.owned = owned
	u.lent = !owned && i.borrowed(u)
	switch {
	case u.released:
	case u.lent:
		u.settled = true
	default:
		u.settled = false
	}
	if owned {
		i.startWriteLocked(u)
	}
	i.mu.Unlock()
	i.publish()
}

// startWriteLocked drives u's node to its target. A request made while a
// write is in flight runs once that write returns.
func (i *instance) startWriteLocked(u *unit) {
	if i.tasks == nil {
		return
	}
	if u.writing {
		u.rewrite = true
		return
	}
	u.writing, u.rewrite = true, false
	i.tasks.StartSoon("write "+u.path, func(ctx context.Context) error {
		defer i.wrote(u)
		return i.write(ctx, u)
	}, false)
}

func (i *instance) wrote(u *unit) {
	i.mu.Lock()
	defer i.mu.Unlock()
	u.writing = false
	if u.rewrite || i.driftedLocked(u) {
		i.startWriteLocked(u)
	}
}

// driftedLocked reports whether an owned node moved off its target.
func (i *instance) driftedLocked(u *unit) bool {
	return u.owned && !u.released && u.err == nil && !u.target.Matches(u.value)
}

// ownerChanged covers a descendant taking the node before this item ever
// owned it, and the node coming back unowned after a descendant released it.
func (i *instance) ownerChanged(u *unit) {
	i.mu.Lock()
	lent := i.borrowed(u)
	if i.tasks == nil || u.released || u.lent == lent {
		i.mu.Unlock()
		return
	}
	u.lent = lent
	if lent {
		u.settled = true
	} else if u.err == nil {
		u.settled = u.owned && u.target.Matches(u.value)
	}
	i.mu.Unlock()
	i.publish()
}

func (i *instance) write(ctx context.Context, u *unit) error {
	op := func() error {
		i.mu.Lock()
		owned := u.owned
		i.mu.Unlock()
		if !owned {
			return backoff.Permanent(errOwnershipLost)
		}
		err := u.node.Write(ctx, u.target.Value)
		if errors.Is(err, device.ErrDisconnected) {
			i.logger.Debug("node disconnected, retrying write", "node", u.path)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(i.cfg.newBackoff(), ctx)); err != nil {
		if ctx.Err() != nil || errors.Is(err, errOwnershipLost) {
			return nil
		}
		i.logger.Warn("device write failed", "node", u.path, "err", err)
		i.mu.Lock()
		u.err = err
		u.settled = true
		i.mu.Unlock()
		i.publish()
		return nil
	}

	v, err := u.node.Read(ctx)
	if err != nil {
		return nil
	}
	i.observe(u, v)
	return nil
}

func (i *instance) observe(u *unit, v any) {
	i.mu.Lock()
	u.value = v
	if !u.writing && i.driftedLocked(u) {
		i.startWriteLocked(u)
	}
	if !u.released && !u.lent && u.err == nil {
		u.settled = u.owned && u.target.Matches(v)
		if u.settled && i.item.Terminal() {
			u.released = true
			tok := u.token
			go tok.Cancel()
		}
	}
	i.mu.Unlock()
	i.publish()
}

func (i *instance) publish() {
	i.mu.Lock()
	loc := make(map[string]NodeLocation, len(i.units))
	settled, failed := true, false
	var diags []domain.Diagnostic
	for _, u := range i.units {
		nl := NodeLocation{
			Target:  u.target.Value,
			Value:   u.value,
			Owned:   u.owned,
			Lent:    u.lent,
			Settled: u.settled,
		}
		if u.err != nil {
			nl.Error = u.err.Error()
			failed = true
			diags = append(diags, domain.NewError("devices.write_failed", "write %s: %v", u.path, u.err))
		}
		loc[u.path] = nl
		settled = settled && u.settled
	}
	i.mu.Unlock()

	i.notify(state.UnitEvent{
		Location:    loc,
		Settled:     settled,
		Failed:      failed,
		Diagnostics: diags,
	})
}

// stop cancels tokens and write tasks. Tokens are cancelled outside the lock
// because their ownership callbacks take it.
func (i *instance) stop(ctx context.Context) error {
	i.mu.Lock()
	tasks := i.tasks
	i.tasks = nil
	var tokens []*claim.Token
	for _, u := range i.units {
		if u.token != nil {
			tokens = append(tokens, u.token)
			u.token = nil
		}
		if u.unwatch != nil {
			u.unwatch()
			u.unwatch = nil
		}
		if u.unwatchOwner != nil {
			u.unwatchOwner()
			u.unwatchOwner = nil
		}
	}
	i.mu.Unlock()

	for _, tok := range tokens {
		tok.Cancel()
	}
	if tasks != nil {
		tasks.Close()
		if err := tasks.Wait(ctx, false); err != nil {
			return err
		}
	}

	i.mu.Lock()
	for _, u := range i.units {
		u.owned = false
		u.lent = false
		u.settled = false
	}
	i.mu.Unlock()
	return nil
}

func (i *instance) Suspend(ctx context.Context) error {
	if err := i.stop(ctx); err != nil {
		return err
	}
	i.publish()
	return nil
}

func (i *instance) Close() error {
	return i.stop(context.Background())
}

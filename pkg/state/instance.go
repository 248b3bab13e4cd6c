package state

import (
	"context"
	"errors"
	"sync"
)

// Instance holds one namespace's side effects for one item.
//
// Apply must report through its notify function before returning. Suspend may
// block until the effect is withdrawn and may report again. Close releases
// everything the instance holds.
type Instance interface {
	Apply(ctx context.Context, resume bool) error
	Suspend(ctx context.Context) error
	Close() error
}

// InstanceFactory builds the instance for item from its namespace value.
type InstanceFactory func(item *Item, value any, notify NotifyFunc) (Instance, error)

type instanceState struct {
	inst    Instance
	applied bool
}

type instanceConsumer struct {
	factory InstanceFactory

	mu        sync.Mutex
	instances map[*Item]*instanceState
}

// NewInstanceConsumer adapts a per-item factory into a Consumer.
func NewInstanceConsumer(factory InstanceFactory) Consumer {
	return &instanceConsumer{
		factory:   factory,
		instances: make(map[*Item]*instanceState),
	}
}

func (c *instanceConsumer) lookup(item *Item) *instanceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instances[item]
}

func (c *instanceConsumer) Add(item *Item, value any, notify NotifyFunc) error {
	inst, err := c.factory(item, value, notify)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.instances[item] = &instanceState{inst: inst}
	c.mu.Unlock()
	return nil
}

func (c *instanceConsumer) Apply(ctx context.Context, items []*Item) error {
	var errs []error
	for _, item := range items {
		st := c.lookup(item)
		if st == nil {
			continue
		}
		if err := st.inst.Apply(ctx, st.applied); err != nil {
			errs = append(errs, err)
		}
		st.applied = true
	}
	return errors.Join(errs...)
}

func (c *instanceConsumer) Suspend(ctx context.Context, item *Item) error {
	if st := c.lookup(item); st != nil {
		return st.inst.Suspend(ctx)
	}
	return nil
}

func (c *instanceConsumer) Clear(item *Item) error {
	if st := c.lookup(item); st != nil {
		return st.inst.Close()
	}
	return nil
}

func (c *instanceConsumer) Remove(item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.instances, item)
}

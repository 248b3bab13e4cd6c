package device

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// Registry indexes value nodes by ID.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]ValueNode
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]ValueNode)}
}

// Register adds node. IDs are unique.
func (r *Registry) Register(node ValueNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, node.ID())
	}
	r.nodes[node.ID()] = node
	return nil
}

// Lookup returns the node registered under id.
func (r *Registry) Lookup(id string) (ValueNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// IDs returns the registered IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close closes every node that implements io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, n := range r.nodes {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

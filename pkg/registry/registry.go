// Package registry maps process names used in protocol files to Process
// implementations.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/labrun/pkg/program"
)

// Registry manages the available processes.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]program.Process
	pausable  map[string]bool
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processes: make(map[string]program.Process),
		pausable:  make(map[string]bool),
	}
}

// Register adds a process to the registry. pausable states whether the
// process honours pause requests. An existing entry is overwritten.
func (r *Registry) Register(name string, p program.Process, pausable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[name] = p
	r.pausable[name] = pausable
}

// Lookup returns the process registered under name.
func (r *Registry) Lookup(name string) (program.Process, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processes[name]
	if !ok {
		return nil, false, fmt.Errorf("process not found: %s", name)
	}
	return p, r.pausable[name], nil
}

// Names lists registered processes in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.processes))
	for name := range r.processes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

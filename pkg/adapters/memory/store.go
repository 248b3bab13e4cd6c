package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/labrun/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Snapshots are kept encoded, so loads observe the same shapes as the
// persistent stores. Safe for concurrent use.
type Store struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Save persists the snapshot in memory.
func (s *Store) Save(ctx context.Context, runID string, snap *domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[runID] = data
	return nil
}

// Load retrieves the snapshot from memory.
func (s *Store) Load(ctx context.Context, runID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.data[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// List returns stored run IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

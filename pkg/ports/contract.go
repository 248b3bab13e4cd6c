package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/labrun/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a
// SnapshotStore implementation adheres to the interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405")

	t.Run("Load Missing", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+runID)
		assert.True(t, errors.Is(err, domain.ErrSnapshotNotFound), "expected ErrSnapshotNotFound, got %v", err)
	})

	t.Run("Save and Load", func(t *testing.T) {
		snap := &domain.Snapshot{
			RunID:     runID,
			Protocol:  "contract",
			UpdatedAt: time.Now().UTC().Truncate(time.Second),
			Event: domain.Event{
				Path:    []int{},
				Stopped: true,
				Diagnostics: []domain.Diagnostic{
					domain.NewWarning("contract.warn", "heads up"),
				},
			},
			Root: map[string]any{"kind": "sequence", "mode": "paused"},
		}
		require.NoError(t, store.Save(ctx, runID, snap))

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, runID, loaded.RunID)
		assert.Equal(t, "contract", loaded.Protocol)
		assert.True(t, loaded.UpdatedAt.Equal(snap.UpdatedAt))
		assert.True(t, loaded.Event.Stopped)
		require.Len(t, loaded.Event.Diagnostics, 1)
		assert.Equal(t, "contract.warn", loaded.Event.Diagnostics[0].ID)

		root, ok := loaded.Root.(map[string]any)
		require.True(t, ok, "root should decode as a map, got %T", loaded.Root)
		assert.Equal(t, "paused", root["mode"])
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		snap := &domain.Snapshot{RunID: runID, Event: domain.Event{Terminated: true}}
		require.NoError(t, store.Save(ctx, runID, snap))

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err)
		assert.True(t, loaded.Event.Terminated)
		assert.False(t, loaded.Event.Stopped)
	})

	t.Run("List", func(t *testing.T) {
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, runID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, runID))
		_, err := store.Load(ctx, runID)
		assert.True(t, errors.Is(err, domain.ErrSnapshotNotFound))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, runID)

		assert.NoError(t, store.Delete(ctx, runID))
	})
}

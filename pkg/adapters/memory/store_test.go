package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/labrun/pkg/adapters/memory"
	"github.com/aretw0/labrun/pkg/domain"
	"github.com/aretw0/labrun/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSnapshotStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	snap := &domain.Snapshot{RunID: "r1", Protocol: "before"}
	require.NoError(t, store.Save(ctx, "r1", snap))
	snap.Protocol = "after"

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "before", loaded.Protocol)

	loaded.Protocol = "mutated"
	again, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "before", again.Protocol)
}

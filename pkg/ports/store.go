package ports

import (
	"context"

	"github.com/aretw0/labrun/pkg/domain"
)

// SnapshotStore persists run snapshots so an operator can inspect or resume a
// run after the process exits.
type SnapshotStore interface {
	// Save replaces the snapshot for runID.
	Save(ctx context.Context, runID string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for runID.
	// Returns domain.ErrSnapshotNotFound if the run does not exist.
	Load(ctx context.Context, runID string) (*domain.Snapshot, error)

	// Delete removes the snapshot for runID. Deleting a missing run is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns the stored run IDs.
	List(ctx context.Context) ([]string, error)
}

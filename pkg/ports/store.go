package ports

import (
	"context"

	"github.com/aretw0/flows/pkg/domain"
)

// SnapshotStore persists suspended process continuations.
// This allows a process to be suspended by one run and resumed by another.
type SnapshotStore interface {
	// Save persists the snapshot under the given ID, replacing any previous one.
	Save(ctx context.Context, id string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for the given ID.
	// Returns domain.ErrSnapshotNotFound if it does not exist.
	Load(ctx context.Context, id string) (*domain.Snapshot, error)

	// Delete removes the snapshot for the given ID.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of stored snapshots.
	List(ctx context.Context) ([]string, error)
}

package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore
// implementation adheres to the interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	id := "contract-test-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		snap := domain.NewSnapshot("checkout", 2)
		snap.Input = []byte("payload")
		snap.Savepoints = []domain.SavepointState{{Cursor: 1, Input: []byte("first")}}
		snap.Tasks = []domain.TaskState{{Index: 0, State: []byte(`{"n":3}`)}}

		require.NoError(t, store.Save(ctx, id, snap))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, snap.Version, loaded.Version)
		assert.Equal(t, "checkout", loaded.Process)
		assert.Equal(t, 2, loaded.Cursor)
		assert.Equal(t, []byte("payload"), loaded.Input)
		assert.Equal(t, snap.Savepoints, loaded.Savepoints)
		assert.Equal(t, snap.Tasks, loaded.Tasks)
	})

	t.Run("Loaded copy is isolated", func(t *testing.T) {
		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		loaded.Cursor = 99

		again, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Cursor)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+id)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, id, domain.NewSnapshot("checkout", 0)))
		require.NoError(t, store.Delete(ctx, id))

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := id + "-1"
		id2 := id + "-2"
		_ = store.Save(ctx, id1, domain.NewSnapshot("a", 0))
		_ = store.Save(ctx, id2, domain.NewSnapshot("b", 0))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}

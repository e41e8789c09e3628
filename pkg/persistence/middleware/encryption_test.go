package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/flows/pkg/adapters/memory"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/persistence/middleware"
	"github.com/aretw0/flows/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func sealed(t *testing.T, store ports.SnapshotStore, cfg middleware.EncryptionConfig) ports.SnapshotStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return middleware.Chain(store, mw)
}

func secretSnapshot() *domain.Snapshot {
	snap := domain.NewSnapshot("approval", 2)
	snap.Input = []byte("card=4111-1111")
	snap.Savepoints = []domain.SavepointState{{Cursor: 1, Input: []byte("card=4111-1111")}}
	return snap
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	secure := sealed(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	require.NoError(t, secure.Save(ctx, "order-1", secretSnapshot()))

	// the underlying store only holds the envelope
	stored, err := underlying.Load(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, stored.Sealed)
	assert.Equal(t, "approval", stored.Process)
	assert.Zero(t, stored.Cursor)
	assert.Empty(t, stored.Savepoints)
	assert.NotContains(t, string(stored.Input), "4111")

	loaded, err := secure.Load(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, loaded.Sealed)
	assert.Equal(t, 2, loaded.Cursor)
	assert.Equal(t, []byte("card=4111-1111"), loaded.Input)

	ids, err := secure.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, ids)
	require.NoError(t, secure.Delete(ctx, "order-1"))
	_, err = secure.Load(ctx, "order-1")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	ctx := context.Background()

	oldStore := sealed(t, underlying, middleware.EncryptionConfig{ActiveKey: oldKey})
	require.NoError(t, oldStore.Save(ctx, "rotation", secretSnapshot()))

	newStore := sealed(t, underlying, middleware.EncryptionConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}})
	loaded, err := newStore.Load(ctx, "rotation")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Cursor)

	// saving again seals with the new key only
	require.NoError(t, newStore.Save(ctx, "rotation", loaded))
	_, err = oldStore.Load(ctx, "rotation")
	assert.Error(t, err)
}

func TestEncryptionMiddleware_Rejections(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	assert.Error(t, err)

	underlying := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, underlying.Save(ctx, "plain", secretSnapshot()))

	secure := sealed(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	_, err = secure.Load(ctx, "plain")
	assert.Error(t, err)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunSnapshotStoreContract(t, sealed(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

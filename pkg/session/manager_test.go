package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/flows/internal/testutils"
	"github.com/aretw0/flows/pkg/adapters/memory"
	"github.com/aretw0/flows/pkg/adapters/redis"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/registry"
	"github.com/aretw0/flows/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvalRegistry() *registry.Registry {
	reg := registry.NewRegistry()
	reg.RegisterEntries("approval", func() []any {
		return []any{
			flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
				return fmt.Sprintf("%v:requested", in), nil
			}),
			flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
				return fmt.Sprintf("%v:approved", in), nil
			}),
		}
	})
	return reg
}

func TestManager_SuspendRestore(t *testing.T) {
	ctx := context.Background()
	reg := approvalRegistry()
	mgr := session.NewManager(memory.NewStore())

	p, err := reg.Lookup("approval")
	require.NoError(t, err)
	require.NoError(t, mgr.Suspend(ctx, "snap-1", p, "order-1"))

	ids, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-1"}, ids)

	restored, in, err := mgr.Restore(ctx, "snap-1", reg, true)
	require.NoError(t, err)
	assert.Equal(t, "order-1", in)
	assert.Equal(t, "approval", restored.Name())

	y, err := restored.Resume(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "order-1:requested:approved", y.Output)
	assert.True(t, restored.Done())

	_, err = mgr.Store().Load(ctx, "snap-1")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	_, _, err = mgr.Restore(ctx, "snap-1", reg, false)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

// slowStore delays every call so unserialized access would interleave.
type slowStore struct {
	*memory.Store
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (s *slowStore) Save(ctx context.Context, id string, snap *domain.Snapshot) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return s.Store.Save(ctx, id, snap)
}

func TestManager_SerializesPerID(t *testing.T) {
	store := &slowStore{Store: memory.NewStore()}
	mgr := session.NewManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.WithLock(ctx, "same", func(ctx context.Context) error {
				return store.Save(ctx, "same", domain.NewSnapshot("approval", 0))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.maxSeen)
}

func TestManager_DistributedLock(t *testing.T) {
	mr, client := testutils.SetupRedis(t)
	store := redis.NewFromClient(client)
	mgr := session.NewManager(store, session.WithLocker(redis.NewLocker(client, "flows:")))
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = mgr.WithLock(ctx, "snap-2", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	assert.True(t, mr.Exists("flows:lock:snap-2"))

	// another instance cannot take the same snapshot meanwhile
	other := session.NewManager(store, session.WithLocker(redis.NewLocker(client, "flows:")))
	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err := other.Delete(short, "snap-2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Eventually(t, func() bool { return !mr.Exists("flows:lock:snap-2") }, time.Second, 10*time.Millisecond)
}

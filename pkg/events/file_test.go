package events_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/flows/pkg/events"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// race runs a gate holding ev until it resolves or expires and returns the winner.
func race(t *testing.T, timeout time.Duration, ev flow.GateEvent, opts ...flow.EventOption) flow.GateEvent {
	t.Helper()
	gate := flow.NewEventGate(
		func(_ context.Context, g *flow.EventGate) error { return g.PushEvent(ev, opts...) },
		func(context.Context, flow.GateEvent, flow.IO) (string, error) { return "", nil },
		flow.WithTimeout(timeout),
		flow.WithHealthInterval(20*time.Millisecond),
	)
	ctx := context.Background()
	require.NoError(t, gate.Register(ctx))
	defer gate.CleanUp(false)
	require.NoError(t, gate.WaitForEvent(ctx))
	return gate.Winner()
}

func TestFileModification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	ev, err := events.NewFileModification(path, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, ev.Frequency())

	ok, err := ev.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("version 2"), 0o600)
	}()
	assert.Same(t, ev, race(t, 2*time.Second, ev))

	t.Run("hook", func(t *testing.T) {
		ev, err := events.NewFileModification(path, 0)
		require.NoError(t, err)
		assert.Equal(t, events.DefaultFrequency, ev.Frequency())
		ev.OnChange(func(_ context.Context, info os.FileInfo) (bool, error) {
			return info.Size() > 100, nil
		})
		require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
		ok, err := ev.Resolve(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := events.NewFileModification(filepath.Join(t.TempDir(), "nope"), 0)
		assert.Error(t, err)

		_, err = events.NewFileModification(t.TempDir(), 0)
		assert.Error(t, err)

		ev, err := events.NewFileModification(path, 0)
		require.NoError(t, err)
		require.NoError(t, os.Remove(path))
		_, err = ev.Resolve(context.Background(), nil)
		assert.Error(t, err)
	})
}

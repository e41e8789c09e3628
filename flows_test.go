package flows_test

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/aretw0/flows"
	"github.com/aretw0/flows/internal/testutils"
	"github.com/aretw0/flows/pkg/adapters/memory"
	"github.com/aretw0/flows/pkg/config"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/persistence/middleware"
	"github.com/aretw0/flows/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workerEnv switches the test binary into worker mode.
const workerEnv = "FLOWS_ENGINE_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		eng, err := flows.New(orders())
		if err == nil {
			err = eng.ServeWorker(context.Background())
		}
		if err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func suffix(s string) flow.TaskFunc {
	return func(_ context.Context, in flow.IO) (flow.IO, error) {
		return fmt.Sprint(in) + s, nil
	}
}

var joinNames = flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
	col, ok := in.(*flow.Collection)
	if !ok {
		return nil, fmt.Errorf("expected a collection, got %T", in)
	}
	var parts []string
	for _, e := range col.Entries {
		parts = append(parts, fmt.Sprintf("%s=%v", e.Name, e.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ","), nil
})

func orders() *registry.Registry {
	reg := registry.NewRegistry()
	reg.RegisterEntries("order", func() []any {
		return []any{
			suffix(":received"),
			flow.Exclusive(func(_ context.Context, in flow.IO) (string, error) {
				if strings.HasPrefix(fmt.Sprint(in), "vip") {
					return "priority", nil
				}
				return "standard", nil
			}),
		}
	})
	reg.RegisterEntries("priority", func() []any { return []any{suffix(":priority")} })
	reg.RegisterEntries("standard", func() []any { return []any{suffix(":standard")} })
	reg.RegisterEntries("batch", func() []any {
		return []any{flow.OffloadedJoin(flow.Branches("priority", "standard")), joinNames}
	})
	reg.RegisterEntries("approval", func() []any {
		return []any{suffix(":requested"), suffix(":approved")}
	})
	return reg
}

func TestEngine_Process(t *testing.T) {
	rec := testutils.NewRecorder()
	eng, err := flows.New(orders(), flows.WithObserverSink(rec), flows.WithEventSink(rec))
	require.NoError(t, err)
	ctx := context.Background()

	out, err := eng.Process(ctx, "order", "vip-1")
	require.NoError(t, err)
	assert.Equal(t, "vip-1:received:priority", out)

	out, err = eng.Process(ctx, "order", "o-2")
	require.NoError(t, err)
	assert.Equal(t, "o-2:received:standard", out)

	assert.Contains(t, rec.Observed(), "o-2:received")

	_, err = eng.Process(ctx, "missing", nil)
	assert.ErrorIs(t, err, domain.ErrProcessNotFound)
}

func TestEngine_OffloadedJoin(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	t.Setenv(workerEnv, "1")

	eng, err := flows.New(orders(), flows.WithWorkerCommand(exe, "-test.run=^$"))
	require.NoError(t, err)

	out, err := eng.Process(context.Background(), "batch", "b")
	require.NoError(t, err)
	assert.Equal(t, "priority=b:priority,standard=b:standard", out)
}

func TestEngine_Settings(t *testing.T) {
	cfg := config.New()
	require.NoError(t, cfg.Set(domain.KeyOffloadCommand, []string{"/usr/local/bin/flows", "worker"}))
	require.NoError(t, cfg.Set(domain.KeyHTTPServerListenOn, "8181"))

	eng, err := flows.New(orders(), flows.WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/bin/flows", "worker"}, eng.WorkerCommand())
	assert.Equal(t, "127.0.0.1:8181", eng.Settings().HTTP.Server.PingAddress())
	assert.NotNil(t, eng.Relay())

	// the configuration is frozen once the engine runs on it
	assert.ErrorIs(t, cfg.Set(domain.KeyKeepIO, true), domain.ErrReadOnlyConfig)

	eng, err = flows.New(orders(), flows.WithConfig(config.New()), flows.WithWorkerCommand("custom-worker"))
	require.NoError(t, err)
	assert.Equal(t, []string{"custom-worker"}, eng.WorkerCommand())
}

func TestEngine_SuspendAndResume(t *testing.T) {
	reg := orders()
	eng, err := flows.New(reg, flows.WithSnapshotStore(memory.NewStore()))
	require.NoError(t, err)
	ctx := context.Background()

	p, err := reg.Lookup("approval")
	require.NoError(t, err)
	require.NoError(t, eng.Suspend(ctx, "order-7", p, "order-7"))

	ids, err := eng.Sessions().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-7"}, ids)

	out, err := eng.ResumeSnapshot(ctx, "order-7", nil)
	require.NoError(t, err)
	assert.Equal(t, "order-7:requested:approved", out)

	_, err = eng.ResumeSnapshot(ctx, "order-7", nil)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	t.Run("sealed store", func(t *testing.T) {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: make([]byte, 32)})
		require.NoError(t, err)
		underlying := memory.NewStore()
		eng, err := flows.New(reg, flows.WithSnapshotStore(middleware.Chain(underlying, mw)))
		require.NoError(t, err)

		p, err := reg.Lookup("approval")
		require.NoError(t, err)
		require.NoError(t, eng.Suspend(ctx, "order-8", p, "order-8"))

		raw, err := underlying.Load(ctx, "order-8")
		require.NoError(t, err)
		assert.True(t, raw.Sealed)

		out, err := eng.ResumeSnapshot(ctx, "order-8", nil)
		require.NoError(t, err)
		assert.Equal(t, "order-8:requested:approved", out)
	})

	t.Run("without a store", func(t *testing.T) {
		bare, err := flows.New(reg)
		require.NoError(t, err)
		assert.ErrorIs(t, bare.Suspend(ctx, "x", p, nil), flows.ErrNoSnapshotStore)
		_, err = bare.ResumeSnapshot(ctx, "x", nil)
		assert.ErrorIs(t, err, flows.ErrNoSnapshotStore)
	})
}

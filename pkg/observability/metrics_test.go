package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnProcessStart(ctx, &domain.ProcessEvent{Process: "checkout"})
	hooks.OnProcessStart(ctx, &domain.ProcessEvent{Process: "checkout", Resumed: true})
	hooks.OnProcessStart(ctx, &domain.ProcessEvent{Process: "checkout", Resumed: true})
	hooks.OnGate(ctx, &domain.GateEvent{Kind: "parallel_join"})
	hooks.OnOffload(ctx, &domain.OffloadEvent{Duration: time.Second})
	hooks.OnOffload(ctx, &domain.OffloadEvent{Duration: time.Second, Err: errors.New("x")})
	hooks.OnFlowStop(ctx, &domain.ProcessEvent{Process: "checkout"})
	hooks.OnEventGate(ctx, &domain.RaceEvent{Winner: "*events.FileModification"})
	hooks.OnEventGate(ctx, &domain.RaceEvent{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessRuns.WithLabelValues("checkout", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProcessRuns.WithLabelValues("checkout", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Gates.WithLabelValues("parallel_join")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlowStops.WithLabelValues("checkout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventGates.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventGates.WithLabelValues("expired")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.OffloadDuration))

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err, "collectors register once per registry")
}

func TestCombine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var gates int
	counting := domain.LifecycleHooks{
		OnGate: func(context.Context, *domain.GateEvent) { gates++ },
	}
	hooks := observability.Combine(observability.LogHooks(logger), counting, domain.LifecycleHooks{})

	hooks.OnGate(context.Background(), &domain.GateEvent{Process: "p", Kind: "exclusive"})
	hooks.OnFlowStop(context.Background(), &domain.ProcessEvent{Process: "p", Position: 2})

	assert.Equal(t, 1, gates)
	assert.Contains(t, buf.String(), "msg=gate")
	assert.Contains(t, buf.String(), "kind=exclusive")
	assert.Contains(t, buf.String(), "msg=flow_stop")
}

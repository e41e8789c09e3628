package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/flows/pkg/domain"
)

// LogHooks returns lifecycle hooks writing one debug line per hook.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnProcessStart: func(ctx context.Context, e *domain.ProcessEvent) {
			logger.DebugContext(ctx, "process_start", "process", e.Process, "position", e.Position, "resumed", e.Resumed)
		},
		OnProcessYield: func(ctx context.Context, e *domain.ProcessEvent) {
			logger.DebugContext(ctx, "process_yield", "process", e.Process, "position", e.Position)
		},
		OnGate: func(ctx context.Context, e *domain.GateEvent) {
			logger.DebugContext(ctx, "gate", "process", e.Process, "kind", e.Kind, "branches", e.Branches)
		},
		OnOffload: func(ctx context.Context, e *domain.OffloadEvent) {
			logger.DebugContext(ctx, "offload", "process", e.Process, "branches", e.Branches, "results", e.Results, "duration", e.Duration, "err", e.Err)
		},
		OnFlowStop: func(ctx context.Context, e *domain.ProcessEvent) {
			logger.InfoContext(ctx, "flow_stop", "process", e.Process, "position", e.Position)
		},
		OnEventGate: func(ctx context.Context, e *domain.RaceEvent) {
			logger.DebugContext(ctx, "event_gate", "process", e.Process, "winner", e.Winner, "duration", e.Duration)
		},
	}
}

// Combine merges hook sets; each hook runs the non-nil hooks of every set in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, s := range sets {
		out.OnProcessStart = chain(out.OnProcessStart, s.OnProcessStart)
		out.OnProcessYield = chain(out.OnProcessYield, s.OnProcessYield)
		out.OnGate = chain(out.OnGate, s.OnGate)
		out.OnOffload = chain(out.OnOffload, s.OnOffload)
		out.OnFlowStop = chain(out.OnFlowStop, s.OnFlowStop)
		out.OnEventGate = chain(out.OnEventGate, s.OnEventGate)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}

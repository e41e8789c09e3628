package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors.
type Metrics struct {
	ProcessRuns     *prometheus.CounterVec
	Gates           *prometheus.CounterVec
	OffloadDuration *prometheus.HistogramVec
	FlowStops       *prometheus.CounterVec
	EventGates      *prometheus.CounterVec
	EventGateWait   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ProcessRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flows_process_runs_total",
				Help: "Processes started or resumed by the kernel",
			},
			[]string{"process", "resumed"},
		),
		Gates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flows_gates_total",
				Help: "Gates acted on by the kernel",
			},
			[]string{"kind"},
		),
		OffloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flows_offload_duration_seconds",
				Help:    "Duration of offloaded join batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		FlowStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flows_flow_stops_total",
				Help: "Flows aborted by a full stop",
			},
			[]string{"process"},
		),
		EventGates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flows_event_gate_total",
				Help: "Event gate races by outcome",
			},
			[]string{"outcome"},
		),
		EventGateWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flows_event_gate_wait_seconds",
				Help:    "Time spent waiting in event gate races",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	for _, c := range []prometheus.Collector{m.ProcessRuns, m.Gates, m.OffloadDuration, m.FlowStops, m.EventGates, m.EventGateWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnProcessStart: func(_ context.Context, e *domain.ProcessEvent) {
			m.ProcessRuns.WithLabelValues(e.Process, strconv.FormatBool(e.Resumed)).Inc()
		},
		OnGate: func(_ context.Context, e *domain.GateEvent) {
			m.Gates.WithLabelValues(e.Kind).Inc()
		},
		OnOffload: func(_ context.Context, e *domain.OffloadEvent) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.OffloadDuration.WithLabelValues(outcome).Observe(e.Duration.Seconds())
		},
		OnFlowStop: func(_ context.Context, e *domain.ProcessEvent) {
			m.FlowStops.WithLabelValues(e.Process).Inc()
		},
		OnEventGate: func(_ context.Context, e *domain.RaceEvent) {
			outcome := "resolved"
			if e.Winner == "" {
				outcome = "expired"
			}
			m.EventGates.WithLabelValues(outcome).Inc()
			m.EventGateWait.Observe(e.Duration.Seconds())
		},
	}
}

package domain

import (
	"context"
	"time"
)

// Event is a notification handed to the configured event sink.
type Event interface {
	EventName() string
}

// Notification names.
const (
	EventFlowStopped           = "flow_stopped"
	EventOffloadedProcessError = "offloaded_process_error"
	EventFuseBlown             = "fuse_blown"
)

// FlowStopped is emitted once when a flow is aborted by a full stop.
type FlowStopped struct {
	Process  string `json:"process"`
	Position int    `json:"position"`
	Cause    error  `json:"-"`
}

func (FlowStopped) EventName() string { return EventFlowStopped }

// OffloadedProcessError is emitted when a worker signals a fatal error or breaks the wire protocol.
type OffloadedProcessError struct {
	Process string `json:"process"`
	Input   any    `json:"input,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (OffloadedProcessError) EventName() string { return EventOffloadedProcessError }

// FuseBlown is emitted when a fuse gate stops a process.
type FuseBlown struct {
	Process  string `json:"process"`
	Position int    `json:"position"`
}

func (FuseBlown) EventName() string { return EventFuseBlown }

// HookType defines the category of a lifecycle hook event.
type HookType string

const (
	HookProcessStart HookType = "process_start"
	HookProcessYield HookType = "process_yield"
	HookGate         HookType = "gate"
	HookOffload      HookType = "offload"
	HookFlowStop     HookType = "flow_stop"
	HookEventGate    HookType = "event_gate"
)

// HookBase contains common fields for all lifecycle hook events.
type HookBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      HookType  `json:"type"`
}

// NewHookBase stamps a hook event with the current time.
func NewHookBase(t HookType) HookBase {
	return HookBase{Timestamp: time.Now(), Type: t}
}

// ProcessEvent represents a process being started, resumed, yielding or being stopped.
type ProcessEvent struct {
	HookBase
	Process  string `json:"process"`
	Position int    `json:"position"`
	Resumed  bool   `json:"resumed,omitempty"`
}

// GateEvent represents the kernel acting on a gate.
type GateEvent struct {
	HookBase
	Process  string   `json:"process"`
	Kind     string   `json:"kind"`
	Branches []string `json:"branches,omitempty"`
}

// OffloadEvent represents a finished offload batch.
type OffloadEvent struct {
	HookBase
	Process  string        `json:"process"`
	Branches []string      `json:"branches"`
	Results  int           `json:"results"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// RaceEvent represents a finished event gate race.
type RaceEvent struct {
	HookBase
	Process  string        `json:"process"`
	Winner   string        `json:"winner,omitempty"`
	Duration time.Duration `json:"duration"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnProcessStart func(context.Context, *ProcessEvent)
	OnProcessYield func(context.Context, *ProcessEvent)
	OnGate         func(context.Context, *GateEvent)
	OnOffload      func(context.Context, *OffloadEvent)
	OnFlowStop     func(context.Context, *ProcessEvent)
	OnEventGate    func(context.Context, *RaceEvent)
}

package notify

import (
	"context"
	"sync"
)

// Timing selects when a handler runs.
type Timing int

const (
	Realtime Timing = iota
	DeferFromProcess
	DeferFromFlow
)

func (t Timing) String() string {
	switch t {
	case Realtime:
		return "realtime"
	case DeferFromProcess:
		return "defer_from_process"
	case DeferFromFlow:
		return "defer_from_flow"
	default:
		return "unknown"
	}
}

// queues holds the deferred calls of one dispatcher.
type queues struct {
	mu      sync.Mutex
	process []func(context.Context)
	flow    []func(context.Context)
}

func (q *queues) push(t Timing, call func(context.Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t == DeferFromProcess {
		q.process = append(q.process, call)
	} else {
		q.flow = append(q.flow, call)
	}
}

// drain runs and clears the calls queued for t, in arrival order.
func (q *queues) drain(ctx context.Context, t Timing) {
	q.mu.Lock()
	var calls []func(context.Context)
	if t == DeferFromProcess {
		calls, q.process = q.process, nil
	} else {
		calls, q.flow = q.flow, nil
	}
	q.mu.Unlock()

	for _, call := range calls {
		call(ctx)
	}
}

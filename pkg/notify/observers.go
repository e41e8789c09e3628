package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ObserverHandler receives one observed value.
type ObserverHandler func(ctx context.Context, subject any)

type observerEntry struct {
	timing  Timing
	handler ObserverHandler
}

// Observers dispatches observed values (task outputs and yielded gates) to handlers.
type Observers struct {
	mu       sync.RWMutex
	entries  []observerEntry
	deferred queues
	logger   *slog.Logger
}

// NewObservers creates an empty observer dispatcher.
func NewObservers(opts ...Option) *Observers {
	o := buildOptions(opts)
	return &Observers{logger: o.logger}
}

// On registers h for every observed value.
func (o *Observers) On(timing Timing, h ObserverHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, observerEntry{timing: timing, handler: h})
}

// Observe registers fn for values of type T only.
func Observe[T any](o *Observers, timing Timing, fn func(ctx context.Context, subject T)) {
	o.On(timing, func(ctx context.Context, subject any) {
		if v, ok := subject.(T); ok {
			fn(ctx, v)
		}
	})
}

// Observe offers subject to every handler. Realtime handlers run now, deferred ones are
// queued with the subject.
func (o *Observers) Observe(ctx context.Context, subject any) {
	o.mu.RLock()
	entries := o.entries
	o.mu.RUnlock()

	if len(entries) == 0 {
		o.logger.Debug("observation dropped", "subject", fmt.Sprintf("%T", subject))
		return
	}
	for _, entry := range entries {
		if entry.timing == Realtime {
			entry.handler(ctx, subject)
			continue
		}
		h := entry.handler
		o.deferred.push(entry.timing, func(ctx context.Context) { h(ctx, subject) })
	}
}

func (o *Observers) HandleDeferFromProcess(ctx context.Context) {
	o.deferred.drain(ctx, DeferFromProcess)
}

func (o *Observers) HandleDeferFromFlow(ctx context.Context) {
	o.deferred.drain(ctx, DeferFromFlow)
}

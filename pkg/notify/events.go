package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/domain"
)

// EventHandler handles one notification.
type EventHandler func(ctx context.Context, ev domain.Event)

type eventEntry struct {
	timing  Timing
	handler EventHandler
}

// Events dispatches notifications by name.
type Events struct {
	mu       sync.RWMutex
	handlers map[string][]eventEntry
	deferred queues
	logger   *slog.Logger
}

// Option configures a dispatcher.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewEvents creates an empty event dispatcher.
func NewEvents(opts ...Option) *Events {
	o := buildOptions(opts)
	return &Events{handlers: make(map[string][]eventEntry), logger: o.logger}
}

// On registers h for the notifications named name.
func (e *Events) On(name string, timing Timing, h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = append(e.handlers[name], eventEntry{timing: timing, handler: h})
}

// Handle runs or queues the handlers of ev. Notifications nobody listens to are dropped.
func (e *Events) Handle(ctx context.Context, ev domain.Event) {
	e.mu.RLock()
	entries := e.handlers[ev.EventName()]
	e.mu.RUnlock()

	if len(entries) == 0 {
		e.logger.Debug("event dropped", "event", ev.EventName())
		return
	}
	for _, entry := range entries {
		if entry.timing == Realtime {
			entry.handler(ctx, ev)
			continue
		}
		h := entry.handler
		e.deferred.push(entry.timing, func(ctx context.Context) { h(ctx, ev) })
	}
}

func (e *Events) HandleDeferFromProcess(ctx context.Context) {
	e.deferred.drain(ctx, DeferFromProcess)
}

func (e *Events) HandleDeferFromFlow(ctx context.Context) {
	e.deferred.drain(ctx, DeferFromFlow)
}

package runtime

import (
	"context"
	"log/slog"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/offload"
	"github.com/aretw0/flows/pkg/ports"
)

// Offloader runs a batch of branches in worker processes.
type Offloader interface {
	Run(ctx context.Context, req offload.Request) (*flow.Collection, error)
	CleanUp()
}

// OffloaderFactory creates the offloader of one OffloadedJoin gate. fullStop aborts
// the whole flow.
type OffloaderFactory func(fullStop context.CancelCauseFunc) Offloader

// Registry builds processes by name.
type Registry interface {
	Lookup(name string) (*flow.Process, error)
}

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithConfig sets the configuration source.
func WithConfig(cfg ports.Config) KernelOption {
	return func(k *Kernel) {
		k.config = cfg
	}
}

// WithEventSink sets where notifications are sent. Processes are bound to it.
func WithEventSink(sink ports.EventSink) KernelOption {
	return func(k *Kernel) {
		k.events = sink
	}
}

// WithObserverSink sets where process outputs are observed. Processes are bound to it.
func WithObserverSink(sink ports.ObserverSink) KernelOption {
	return func(k *Kernel) {
		k.observers = sink
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) KernelOption {
	return func(k *Kernel) {
		k.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) KernelOption {
	return func(k *Kernel) {
		k.hooks = hooks
	}
}

// WithOffloader enables OffloadedJoin gates.
func WithOffloader(factory OffloaderFactory) KernelOption {
	return func(k *Kernel) {
		k.offloader = factory
	}
}

// WithHTTPRelayStarter sets the function making sure the HTTP relay server runs before
// an event gate with HTTP events waits.
func WithHTTPRelayStarter(start func(ctx context.Context) error) KernelOption {
	return func(k *Kernel) {
		k.startRelay = start
	}
}

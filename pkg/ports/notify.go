package ports

import (
	"context"

	"github.com/aretw0/flows/pkg/domain"
)

// Deferrer flushes notifications queued for a later point of execution.
type Deferrer interface {
	// HandleDeferFromProcess runs handlers deferred until the current process is cleaned up.
	HandleDeferFromProcess(ctx context.Context)

	// HandleDeferFromFlow runs handlers deferred until the whole flow has returned.
	HandleDeferFromFlow(ctx context.Context)
}

// EventSink receives engine notifications.
type EventSink interface {
	Deferrer
	Handle(ctx context.Context, event domain.Event)
}

// ObserverSink receives every value a process produces (task outputs and gates).
type ObserverSink interface {
	Deferrer
	Observe(ctx context.Context, subject any)
}

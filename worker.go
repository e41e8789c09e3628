package flows

import (
	"context"
	"os"

	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/offload"
)

// ServeWorker runs the worker side of an offloaded branch on the process standard
// streams: it reads the spawn line, runs the named process on the engine kernel and
// writes the framed result. The binary started by the offloader calls it.
func (e *Engine) ServeWorker(ctx context.Context) error {
	return offload.ServeWorker(ctx, os.Stdin, os.Stdout, os.Stderr, e.runBranch)
}

func (e *Engine) runBranch(ctx context.Context, name string, in flow.IO) (flow.IO, error) {
	e.logger.Debug("worker running process", "process", name)
	return e.kernel.Process(ctx, name, in)
}

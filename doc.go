/*
Package flows is a workflow execution engine. It runs named processes, ordered lists of
tasks, and follows the gates they yield: branching to other processes, joining their
outputs, fanning work out to worker processes or waiting for external events.

# Concept

A process is registered by name in a registry.Registry as a constructor, so every run
gets a fresh instance. A task turns its input into an output that becomes the input of
the next task. A gate takes the place of an output and tells the engine where the flow
goes next:

  - Exclusive continues with exactly one process.
  - Inclusive and InclusiveJoin fan out to several processes, the latter resuming the
    originating process with the collected outputs.
  - ParallelJoin interleaves its branches on the engine stack and rejoins.
  - OffloadedJoin runs each branch in its own OS process and rejoins.
  - Event races timers, streams, named pipes and relayed HTTP requests.
  - Fuse and Undo stop or rewind the process they belong to.

The engine never runs two branches at the same time inside one OS process. Parallelism
comes from offloaded workers, started from the same binary through its worker command
(see Engine.ServeWorker).

# Usage

	reg := registry.NewRegistry()
	reg.RegisterEntries("greet", func() []any {
		return []any{
			flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
				return fmt.Sprintf("hello %v", in), nil
			}),
		}
	})

	eng, err := flows.New(reg)
	if err != nil {
		log.Fatal(err)
	}
	out, err := eng.Process(ctx, "greet", "world")

Cancelling the context stops the whole flow: Process returns a nil output and a nil
error. Suspended processes are kept in a ports.SnapshotStore configured with
WithSnapshotStore and resumed with ResumeSnapshot.
*/
package flows

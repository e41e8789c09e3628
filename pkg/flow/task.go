package flow

import "context"

// Task is a single step of a process.
type Task interface {
	// Invoke transforms the input into the output handed to the next entry.
	Invoke(ctx context.Context, in IO) (IO, error)

	// CleanUp releases resources held by the task. It runs once the owning process is
	// done, torn down or suspended (forSuspension is true in the latter case).
	CleanUp(forSuspension bool)
}

// TaskFunc adapts a function to a stateless Task.
type TaskFunc func(ctx context.Context, in IO) (IO, error)

// Invoke calls f.
func (f TaskFunc) Invoke(ctx context.Context, in IO) (IO, error) {
	return f(ctx, in)
}

// CleanUp does nothing.
func (TaskFunc) CleanUp(bool) {}

// Stateful is implemented by tasks whose state must survive a suspension.
// Tasks that do not implement it are rebuilt from scratch on restore.
type Stateful interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

type marker struct {
	name string
}

func (m *marker) String() string { return m.name }

// SaveState is a process entry that records a savepoint (cursor and current input)
// an Undo gate can rewind to.
var SaveState = &marker{name: "save_state"}

package domain

import "time"

// SnapshotVersion is the format version written by this module.
const SnapshotVersion = 1

// Snapshot is the serializable continuation of a suspended process.
// It holds the cursor and the state of every task that can be persisted; tasks holding
// live resources are not captured and are rebuilt by the registry on restore.
type Snapshot struct {
	// Version identifies the encoding format.
	Version int `json:"version"`

	// Process is the registry name used to rebuild the task list.
	Process string `json:"process"`

	// Cursor is the index of the next entry to execute.
	Cursor int `json:"cursor"`

	// Input is the encoded pending input, if any.
	Input []byte `json:"input,omitempty"`

	// Savepoints are the save-state frames pushed so far, oldest first.
	Savepoints []SavepointState `json:"savepoints,omitempty"`

	// Tasks holds the persisted state of stateful tasks.
	Tasks []TaskState `json:"tasks,omitempty"`

	// Sealed marks an encrypted envelope; Input then holds the sealed snapshot.
	Sealed bool `json:"sealed,omitempty"`

	// CreatedAt records when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`
}

// SavepointState is a persisted (cursor, input) pair.
type SavepointState struct {
	Cursor int    `json:"cursor"`
	Input  []byte `json:"input,omitempty"`
}

// TaskState is the persisted state of the task at Index.
type TaskState struct {
	Index int    `json:"index"`
	State []byte `json:"state"`
}

// NewSnapshot creates an empty snapshot for a process.
func NewSnapshot(process string, cursor int) *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		Process:   process,
		Cursor:    cursor,
		CreatedAt: time.Now(),
	}
}

package domain

import "errors"

// Construction errors. They indicate a process or gate authoring bug and are never retried.
var (
	// ErrEmptyTaskList is returned when a Process is built without entries.
	ErrEmptyTaskList = errors.New("process has no tasks")

	// ErrInvalidTaskEntry is returned when a Process entry is neither a task, a gate nor a marker.
	ErrInvalidTaskEntry = errors.New("invalid process entry")

	// ErrProcessNotFound is returned when a name is missing from the process registry.
	ErrProcessNotFound = errors.New("process not found")

	// ErrEmptyBranchList is returned when a join-type gate decides on zero branches.
	ErrEmptyBranchList = errors.New("gate returned no branches")
)

// Runtime errors.
var (
	// ErrProcessCompleted is returned by Run or Resume on a process that is already done.
	ErrProcessCompleted = errors.New("process already completed")

	// ErrNoSavepoint is returned when an undo gate asks for more savepoints than exist.
	ErrNoSavepoint = errors.New("no savepoint to undo to")

	// ErrNoEvents is returned by an event gate asked to wait without registered events.
	ErrNoEvents = errors.New("event gate has no events")

	// ErrInvalidFailPolicy is returned when a fail policy is attached to a polling event
	// or uses an action that cannot be applied.
	ErrInvalidFailPolicy = errors.New("invalid fail policy")

	// ErrProtocolViolation is returned when a worker writes something that is not an encoded payload.
	ErrProtocolViolation = errors.New("offload protocol violation")
)

// Persistence and collaborator errors.
var (
	// ErrSnapshotNotFound is returned when a snapshot ID cannot be found in the store.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotVersion is returned when decoding a snapshot written by an unknown format version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")

	// ErrSnapshotSealed is returned when an encrypted snapshot is restored without its key.
	ErrSnapshotSealed = errors.New("snapshot is sealed")

	// ErrReadOnlyConfig is returned when writing to a frozen configuration.
	ErrReadOnlyConfig = errors.New("configuration is read-only")

	// ErrRelayCommand is returned when the HTTP relay server rejects a command.
	ErrRelayCommand = errors.New("relay command rejected")
)

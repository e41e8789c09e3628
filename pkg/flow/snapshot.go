package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/flows/pkg/domain"
)

// Lookup builds a fresh process by registry name.
type Lookup interface {
	Lookup(name string) (*Process, error)
}

// Suspend cleans the process up for suspension and captures its continuation together
// with the input it should be resumed with. Only Stateful tasks contribute state.
func (p *Process) Suspend(ctx context.Context, pending IO) (*domain.Snapshot, error) {
	p.CleanUp(ctx, true)

	snap := domain.NewSnapshot(p.name, p.position)
	if pending != nil {
		data, err := MarshalIO(pending)
		if err != nil {
			return nil, fmt.Errorf("suspend %s: %w", p.name, err)
		}
		snap.Input = data
	}
	for _, sp := range p.savepoints {
		data, err := MarshalIO(sp.input)
		if err != nil {
			return nil, fmt.Errorf("suspend %s: savepoint %d: %w", p.name, sp.cursor, err)
		}
		snap.Savepoints = append(snap.Savepoints, domain.SavepointState{Cursor: sp.cursor, Input: data})
	}
	for i, e := range p.entries {
		s, ok := e.(Stateful)
		if !ok {
			continue
		}
		data, err := s.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("suspend %s: task %d: %w", p.name, i, err)
		}
		snap.Tasks = append(snap.Tasks, domain.TaskState{Index: i, State: data})
	}
	return snap, nil
}

// Restore rebuilds a suspended process through lookup and returns it with its pending input.
func Restore(lookup Lookup, snap *domain.Snapshot) (*Process, IO, error) {
	if snap.Sealed {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrSnapshotSealed, snap.Process)
	}
	if snap.Version != domain.SnapshotVersion {
		return nil, nil, fmt.Errorf("%w: %d", domain.ErrSnapshotVersion, snap.Version)
	}
	p, err := lookup.Lookup(snap.Process)
	if err != nil {
		return nil, nil, err
	}
	if snap.Cursor < 0 || snap.Cursor > len(p.entries) {
		return nil, nil, fmt.Errorf("restore %s: cursor %d out of range", snap.Process, snap.Cursor)
	}

	for _, ts := range snap.Tasks {
		if ts.Index < 0 || ts.Index >= len(p.entries) {
			return nil, nil, fmt.Errorf("restore %s: task %d out of range", snap.Process, ts.Index)
		}
		s, ok := p.entries[ts.Index].(Stateful)
		if !ok {
			return nil, nil, fmt.Errorf("restore %s: task %d holds no state", snap.Process, ts.Index)
		}
		if err := s.UnmarshalState(ts.State); err != nil {
			return nil, nil, fmt.Errorf("restore %s: task %d: %w", snap.Process, ts.Index, err)
		}
	}

	for _, sp := range snap.Savepoints {
		in, err := UnmarshalIO(sp.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("restore %s: savepoint %d: %w", snap.Process, sp.Cursor, err)
		}
		p.savepoints = append(p.savepoints, savepoint{cursor: sp.Cursor, input: in})
	}

	var pending IO
	if len(snap.Input) > 0 {
		if pending, err = UnmarshalIO(snap.Input); err != nil {
			return nil, nil, fmt.Errorf("restore %s: %w", snap.Process, err)
		}
	}
	p.position = snap.Cursor
	return p, pending, nil
}

// EncodeSnapshot serializes a snapshot as JSON.
func EncodeSnapshot(snap *domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Version != domain.SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", domain.ErrSnapshotVersion, snap.Version)
	}
	return &snap, nil
}

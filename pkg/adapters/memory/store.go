package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/flows/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Snapshot
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Snapshot),
	}
}

// Save persists a copy of the snapshot.
func (s *Store) Save(ctx context.Context, id string, snap *domain.Snapshot) error {
	copied := clone(snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = copied
	return nil
}

// Load returns a copy so callers cannot mutate the stored snapshot.
func (s *Store) Load(ctx context.Context, id string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[id]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return clone(snap), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// List returns the stored IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func clone(snap *domain.Snapshot) *domain.Snapshot {
	c := *snap
	c.Input = slices.Clone(snap.Input)
	c.Savepoints = make([]domain.SavepointState, len(snap.Savepoints))
	for i, sp := range snap.Savepoints {
		c.Savepoints[i] = domain.SavepointState{Cursor: sp.Cursor, Input: slices.Clone(sp.Input)}
	}
	c.Tasks = make([]domain.TaskState, len(snap.Tasks))
	for i, ts := range snap.Tasks {
		c.Tasks[i] = domain.TaskState{Index: ts.Index, State: slices.Clone(ts.State)}
	}
	if len(c.Savepoints) == 0 {
		c.Savepoints = nil
	}
	if len(c.Tasks) == 0 {
		c.Tasks = nil
	}
	return &c
}

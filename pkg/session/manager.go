package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager suspends processes into a SnapshotStore and restores them, serializing access
// per snapshot ID. Unused locks are garbage collected by reference counting.
type Manager struct {
	store ports.SnapshotStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets how long a distributed lock is held at most. Default 30s.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// Suspend cleans p up for suspension and stores its continuation under id.
// pending is the input the process will be resumed with when none is given.
func (m *Manager) Suspend(ctx context.Context, id string, p *flow.Process, pending flow.IO) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		snap, err := p.Suspend(ctx, pending)
		if err != nil {
			return err
		}
		if err := m.store.Save(ctx, id, snap); err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", id, err)
		}
		m.logger.Debug("process suspended", "snapshot_id", id, "process", snap.Process, "cursor", snap.Cursor)
		return nil
	})
}

// Restore rebuilds the process stored under id. The snapshot stays stored; with
// consume set it is deleted once the process has been rebuilt.
func (m *Manager) Restore(ctx context.Context, id string, lookup flow.Lookup, consume bool) (*flow.Process, flow.IO, error) {
	var (
		p  *flow.Process
		in flow.IO
	)
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		snap, err := m.store.Load(ctx, id)
		if err != nil {
			return err
		}
		p, in, err = flow.Restore(lookup, snap)
		if err != nil {
			return err
		}
		if consume {
			return m.store.Delete(ctx, id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return p, in, nil
}

// Delete removes the snapshot from the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		return m.store.Delete(ctx, id)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// WithLock executes fn while holding the in-process lock and, when configured,
// the distributed lock for id.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"snapshot_id", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

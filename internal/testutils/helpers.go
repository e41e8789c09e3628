package testutils

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Recorder is an event and observer sink that remembers everything it receives.
// It is safe for concurrent use.
type Recorder struct {
	mu             sync.Mutex
	events         []domain.Event
	observed       []any
	processFlushes int
	flowFlushes    int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Handle(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Observe(_ context.Context, subject any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, subject)
}

func (r *Recorder) HandleDeferFromProcess(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processFlushes++
}

func (r *Recorder) HandleDeferFromFlow(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flowFlushes++
}

// Events returns a copy of the received events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// EventsNamed returns the received events with the given name.
func (r *Recorder) EventsNamed(name string) []domain.Event {
	var out []domain.Event
	for _, ev := range r.Events() {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

// Observed returns a copy of the observed subjects.
func (r *Recorder) Observed() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.observed...)
}

// ProcessFlushes returns how many times process-deferred handlers were flushed.
func (r *Recorder) ProcessFlushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processFlushes
}

// FlowFlushes returns how many times flow-deferred handlers were flushed.
func (r *Recorder) FlowFlushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flowFlushes
}

// SetupRedis starts an in-memory redis server and returns a client connected to it.
// Both are closed when the test ends.
func SetupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "Failed to start miniredis")
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

package flow_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollEvent resolves on its nth poll; zero means never.
type pollEvent struct {
	every    time.Duration
	resolves int
	polls    int
	err      error
}

func (e *pollEvent) Frequency() time.Duration { return e.every }

func (e *pollEvent) Resolve(context.Context, any) (bool, error) {
	e.polls++
	if e.err != nil {
		return false, e.err
	}
	return e.resolves > 0 && e.polls >= e.resolves, nil
}

// pipeEvent resolves when a line is written to its pipe.
type pipeEvent struct {
	r, w     *os.File
	healthy  bool
	checks   atomic.Int32
	closes   int
	received string
}

func newPipeEvent(t *testing.T) *pipeEvent {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return &pipeEvent{r: r, w: w, healthy: true}
}

func (e *pipeEvent) Stream() (reactor.Stream, error) { return reactor.Conn(e.r) }

func (e *pipeEvent) Resolve(_ context.Context, data any) (bool, error) {
	if _, ok := data.(reactor.Stream); !ok {
		return false, errors.New("expected the ready stream")
	}
	buf := make([]byte, 64)
	n, err := e.r.Read(buf)
	if err != nil {
		return false, err
	}
	e.received = string(buf[:n])
	return true, nil
}

func (e *pipeEvent) Healthy(context.Context) bool {
	e.checks.Add(1)
	return e.healthy
}

func (e *pipeEvent) Close() error {
	e.closes++
	return nil
}

func chooseByWinner(paths map[flow.GateEvent]string) flow.ChooseFunc {
	return func(_ context.Context, winner flow.GateEvent, _ flow.IO) (string, error) {
		if winner == nil {
			return "default", nil
		}
		return paths[winner], nil
	}
}

func TestEventGate_FrequentRace(t *testing.T) {
	fast := &pollEvent{every: 5 * time.Millisecond}
	slow := &pollEvent{every: 20 * time.Millisecond, resolves: 2}

	gate := flow.NewEventGate(
		func(_ context.Context, g *flow.EventGate) error {
			if err := g.PushEvent(fast); err != nil {
				return err
			}
			return g.PushEvent(slow)
		},
		chooseByWinner(map[flow.GateEvent]string{fast: "fast", slow: "slow"}),
		flow.WithTimeout(time.Second),
	)

	ctx := context.Background()
	require.NoError(t, gate.Register(ctx))
	require.NoError(t, gate.Register(ctx), "registering twice is a no-op")
	assert.True(t, gate.HasFrequentEvents())
	assert.False(t, gate.HasStreamEvents())
	assert.False(t, gate.HasHTTPEvents())

	start := time.Now()
	require.NoError(t, gate.WaitForEvent(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	assert.Same(t, slow, gate.Winner())
	assert.Greater(t, fast.polls, slow.polls)

	path, err := gate.Decide(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slow", path)
}

func TestEventGate_Expires(t *testing.T) {
	idle := &pollEvent{every: 5 * time.Millisecond}
	gate := flow.NewEventGate(nil, chooseByWinner(nil), flow.WithTimeout(30*time.Millisecond))
	require.NoError(t, gate.PushEvent(idle))

	start := time.Now()
	require.NoError(t, gate.WaitForEvent(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Nil(t, gate.Winner())

	path, err := gate.Decide(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", path)
}

func TestEventGate_StreamEvent(t *testing.T) {
	ev := newPipeEvent(t)
	gate := flow.NewEventGate(nil, chooseByWinner(nil), flow.WithTimeout(time.Second))
	require.NoError(t, gate.PushEvent(ev))
	assert.True(t, gate.HasStreamEvents())

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = ev.w.WriteString("ping")
	}()

	require.NoError(t, gate.WaitForEvent(context.Background()))
	assert.Same(t, ev, gate.Winner())
	assert.Equal(t, "ping", ev.received)

	gate.CleanUp(false)
	gate.CleanUp(true)
	assert.Equal(t, 1, ev.closes)
}

func TestEventGate_FailPolicy(t *testing.T) {
	interval := 10 * time.Millisecond

	t.Run("exit after the tolerated failures", func(t *testing.T) {
		ev := newPipeEvent(t)
		ev.healthy = false
		gate := flow.NewEventGate(nil, chooseByWinner(nil),
			flow.WithTimeout(time.Second),
			flow.WithHealthInterval(interval),
		)
		require.NoError(t, gate.PushEvent(ev, flow.WithFailPolicy(2, flow.Exit)))

		start := time.Now()
		require.NoError(t, gate.WaitForEvent(context.Background()))
		elapsed := time.Since(start)

		assert.Nil(t, gate.Winner())
		assert.EqualValues(t, 3, ev.checks.Load())
		assert.GreaterOrEqual(t, elapsed, 3*interval)
		assert.Less(t, elapsed, time.Second)
	})

	t.Run("resolve makes the failing event win", func(t *testing.T) {
		ev := newPipeEvent(t)
		ev.healthy = false
		gate := flow.NewEventGate(nil, chooseByWinner(nil),
			flow.WithTimeout(time.Second),
			flow.WithHealthInterval(interval),
		)
		require.NoError(t, gate.PushEvent(ev, flow.WithFailPolicy(0, flow.Resolve)))

		require.NoError(t, gate.WaitForEvent(context.Background()))
		assert.Same(t, ev, gate.Winner())
		assert.EqualValues(t, 1, ev.checks.Load())
	})

	t.Run("continue drops the event and keeps racing", func(t *testing.T) {
		failing := newPipeEvent(t)
		failing.healthy = false
		poll := &pollEvent{every: 5 * time.Millisecond, resolves: 12}
		gate := flow.NewEventGate(nil, chooseByWinner(nil),
			flow.WithTimeout(time.Second),
			flow.WithHealthInterval(interval),
		)
		require.NoError(t, gate.PushEvent(failing, flow.WithFailPolicy(1, flow.Continue)))
		require.NoError(t, gate.PushEvent(poll))

		require.NoError(t, gate.WaitForEvent(context.Background()))
		assert.Same(t, poll, gate.Winner())
	})

	t.Run("healthy checks reset the counter", func(t *testing.T) {
		ev := newPipeEvent(t)
		gate := flow.NewEventGate(nil, chooseByWinner(nil),
			flow.WithTimeout(60*time.Millisecond),
			flow.WithHealthInterval(interval),
		)
		require.NoError(t, gate.PushEvent(ev, flow.WithFailPolicy(0, flow.Exit)))

		require.NoError(t, gate.WaitForEvent(context.Background()))
		assert.Nil(t, gate.Winner())
		assert.GreaterOrEqual(t, ev.checks.Load(), int32(3))
	})
}

func TestEventGate_PushEventValidation(t *testing.T) {
	gate := flow.NewEventGate(nil, chooseByWinner(nil))

	err := gate.PushEvent(&pollEvent{every: time.Millisecond}, flow.WithFailPolicy(1, flow.Exit))
	assert.ErrorIs(t, err, domain.ErrInvalidFailPolicy)

	err = gate.PushEvent(newPipeEvent(t), flow.WithFailPolicy(-1, flow.Exit))
	assert.ErrorIs(t, err, domain.ErrInvalidFailPolicy)

	err = gate.PushEvent(newPipeEvent(t), flow.WithFailPolicy(1, flow.Serialize))
	assert.ErrorIs(t, err, domain.ErrInvalidFailPolicy)

	assert.NoError(t, gate.PushEvent(newPipeEvent(t), flow.WithFailPolicy(1, flow.Continue)))
}

func TestEventGate_Errors(t *testing.T) {
	t.Run("no events", func(t *testing.T) {
		gate := flow.NewEventGate(nil, chooseByWinner(nil))
		assert.ErrorIs(t, gate.WaitForEvent(context.Background()), domain.ErrNoEvents)
	})

	t.Run("event error aborts the race", func(t *testing.T) {
		boom := errors.New("boom")
		gate := flow.NewEventGate(nil, chooseByWinner(nil), flow.WithTimeout(time.Second))
		require.NoError(t, gate.PushEvent(&pollEvent{every: time.Millisecond, err: boom}))

		err := gate.WaitForEvent(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, gate.Winner())
	})

	t.Run("cancelled context", func(t *testing.T) {
		gate := flow.NewEventGate(nil, chooseByWinner(nil), flow.WithTimeout(time.Minute))
		require.NoError(t, gate.PushEvent(&pollEvent{every: 5 * time.Millisecond}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, gate.WaitForEvent(ctx), context.DeadlineExceeded)
	})
}

func TestEventGate_InsideProcess(t *testing.T) {
	gate := flow.NewEventGate(nil, chooseByWinner(nil))
	p := flow.MustProcess("waiting",
		flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) { return in, nil }),
		gate,
	)

	y, err := p.Run(context.Background(), "payload")
	require.NoError(t, err)
	require.Same(t, gate, y.Gate)
	assert.Equal(t, flow.KindEvent, y.Gate.Kind())
	assert.Equal(t, "payload", gate.IO())
	assert.True(t, p.Done())
}

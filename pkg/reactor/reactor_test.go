package reactor_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aretw0/flows/pkg/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipe(t *testing.T) (*os.File, *os.File, reactor.Stream) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	s, err := reactor.Conn(r)
	require.NoError(t, err)
	return r, w, s
}

func TestReactor_Timers(t *testing.T) {
	t.Run("one-shot fires once", func(t *testing.T) {
		r := reactor.New()
		calls := 0
		r.AddTimer(5*time.Millisecond, func(*reactor.Reactor) { calls++ }, false)

		require.NoError(t, r.Run(context.Background()))
		assert.Equal(t, 1, calls)
		assert.Zero(t, r.Len())
	})

	t.Run("repeating timer is spaced by its interval", func(t *testing.T) {
		r := reactor.New()
		interval := 10 * time.Millisecond
		var fired []time.Time
		r.AddTimer(interval, func(r *reactor.Reactor) {
			fired = append(fired, time.Now())
			if len(fired) == 4 {
				r.Stop()
			}
		}, true)

		require.NoError(t, r.Run(context.Background()))
		require.Len(t, fired, 4)
		for i := 1; i < len(fired); i++ {
			assert.GreaterOrEqual(t, fired[i].Sub(fired[i-1]), interval)
		}
	})

	t.Run("stop inside a timer skips the rest of the pass", func(t *testing.T) {
		r := reactor.New()
		second := false
		r.AddTimer(time.Millisecond, func(r *reactor.Reactor) { r.Stop() }, false)
		r.AddTimer(time.Millisecond, func(*reactor.Reactor) { second = true }, false)

		time.Sleep(3 * time.Millisecond)
		require.NoError(t, r.Run(context.Background()))
		assert.False(t, second)
		assert.Zero(t, r.Len())
	})

	t.Run("cancelled timer never fires", func(t *testing.T) {
		r := reactor.New()
		fired := false
		id := r.AddTimer(5*time.Millisecond, func(*reactor.Reactor) { fired = true }, false)
		r.AddTimer(time.Millisecond, func(r *reactor.Reactor) { r.CancelTimer(id) }, false)

		require.NoError(t, r.Run(context.Background()))
		assert.False(t, fired)
	})
}

func TestReactor_Streams(t *testing.T) {
	t.Run("readable callback receives the stream", func(t *testing.T) {
		rf, wf, s := newPipe(t)
		_, err := wf.WriteString("hello\n")
		require.NoError(t, err)

		r := reactor.New()
		var got string
		r.OnReadable(s, func(st reactor.Stream, r *reactor.Reactor) {
			buf := make([]byte, 64)
			n, err := rf.Read(buf)
			require.NoError(t, err)
			got = string(buf[:n])
			r.Remove(st)
		})

		require.NoError(t, r.Run(context.Background()))
		assert.Equal(t, "hello\n", got)
	})

	t.Run("removing a sibling mid-pass prevents its callback", func(t *testing.T) {
		_, w1, s1 := newPipe(t)
		_, w2, s2 := newPipe(t)
		_, _ = w1.WriteString("a")
		_, _ = w2.WriteString("b")

		r := reactor.New()
		calls := 0
		cb := func(st reactor.Stream, r *reactor.Reactor) {
			calls++
			r.Remove(s1)
			r.Remove(s2)
		}
		r.OnReadable(s1, cb)
		r.OnReadable(s2, cb)

		require.NoError(t, r.Run(context.Background()))
		assert.Equal(t, 1, calls)
	})

	t.Run("writable callback fires on an empty pipe", func(t *testing.T) {
		_, wf, _ := newPipe(t)
		ws, err := reactor.Conn(wf)
		require.NoError(t, err)

		r := reactor.New()
		wrote := false
		r.OnWritable(ws, func(st reactor.Stream, r *reactor.Reactor) {
			wrote = true
			r.RemoveWritable(st)
		})
		require.NoError(t, r.Run(context.Background()))
		assert.True(t, wrote)
	})

	t.Run("stop from a stream callback skips due timers", func(t *testing.T) {
		_, wf, s := newPipe(t)
		_, _ = wf.WriteString("x")

		r := reactor.New()
		timerFired := false
		r.AddTimer(0, func(*reactor.Reactor) { timerFired = true }, false)
		r.OnReadable(s, func(_ reactor.Stream, r *reactor.Reactor) { r.Stop() })

		require.NoError(t, r.Run(context.Background()))
		assert.False(t, timerFired)
	})
}

func TestReactor_ContextCancellation(t *testing.T) {
	_, _, s := newPipe(t)
	r := reactor.New(reactor.WithMaxWait(5 * time.Millisecond))
	r.OnReadable(s, func(reactor.Stream, *reactor.Reactor) {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, r.Len())
}

func TestReactor_RunTwice(t *testing.T) {
	r := reactor.New()
	var inner error
	r.AddTimer(0, func(r *reactor.Reactor) { inner = r.Run(context.Background()) }, false)

	require.NoError(t, r.Run(context.Background()))
	assert.ErrorIs(t, inner, reactor.ErrRunning)
}

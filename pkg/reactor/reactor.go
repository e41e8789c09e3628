package reactor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrRunning is returned by Run when the reactor is already running.
	ErrRunning = errors.New("reactor: already running")
)

// defaultMaxWait bounds a single multiplex wait when Run has a cancellable context,
// so cancellation is observed even while no timer is pending.
const defaultMaxWait = 100 * time.Millisecond

// Stream is anything backed by a pollable file descriptor.
type Stream interface {
	Fd() uintptr
}

// FD is a raw file descriptor usable as a Stream.
type FD int

// Fd returns the descriptor.
func (f FD) Fd() uintptr { return uintptr(f) }

// Conn adapts a syscall.Conn (sockets, listeners, pipes opened with os.Pipe) to a Stream.
// Unlike (*os.File).Fd it does not put the descriptor in blocking mode.
func Conn(c syscall.Conn) (Stream, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("reactor: raw conn: %w", err)
	}
	var fd uintptr
	if err := rc.Control(func(f uintptr) { fd = f }); err != nil {
		return nil, fmt.Errorf("reactor: control: %w", err)
	}
	return FD(fd), nil
}

// Callback is invoked when a stream becomes ready.
type Callback func(s Stream, r *Reactor)

// TimerFunc is invoked when a timer is due.
type TimerFunc func(r *Reactor)

// TimerID identifies a registered timer.
type TimerID uint64

type handler struct {
	stream Stream
	cb     Callback
}

type timer struct {
	id       TimerID
	due      time.Time
	interval time.Duration
	repeat   bool
	cb       TimerFunc
	index    int
	canceled bool
}

// timerHeap orders timers by due time, then by registration order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Reactor is a single-threaded I/O and timer loop. It is not safe for concurrent use:
// every method must be called from the goroutine running Run, or before Run starts.
type Reactor struct {
	readers map[uintptr]*handler
	writers map[uintptr]*handler
	timers  map[TimerID]*timer
	queue   timerHeap
	nextID  TimerID
	stopped bool
	running bool
	maxWait time.Duration
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithMaxWait bounds every multiplex wait while Run has a cancellable context.
func WithMaxWait(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.maxWait = d
		}
	}
}

// New creates an empty reactor.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		readers: make(map[uintptr]*handler),
		writers: make(map[uintptr]*handler),
		timers:  make(map[TimerID]*timer),
		maxWait: defaultMaxWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnReadable registers cb to run whenever s has data (or EOF) to read.
// A previous readable handler for the same descriptor is replaced.
func (r *Reactor) OnReadable(s Stream, cb Callback) {
	r.readers[s.Fd()] = &handler{stream: s, cb: cb}
}

// OnWritable registers cb to run whenever s accepts writes.
func (r *Reactor) OnWritable(s Stream, cb Callback) {
	r.writers[s.Fd()] = &handler{stream: s, cb: cb}
}

// Remove drops every handler registered for s.
func (r *Reactor) Remove(s Stream) {
	fd := s.Fd()
	delete(r.readers, fd)
	delete(r.writers, fd)
}

// RemoveReadable drops only the readable handler of s.
func (r *Reactor) RemoveReadable(s Stream) {
	delete(r.readers, s.Fd())
}

// RemoveWritable drops only the writable handler of s.
func (r *Reactor) RemoveWritable(s Stream) {
	delete(r.writers, s.Fd())
}

// AddTimer schedules cb after interval; a repeating timer is rescheduled interval after
// each firing.
func (r *Reactor) AddTimer(interval time.Duration, cb TimerFunc, repeat bool) TimerID {
	if repeat && interval <= 0 {
		interval = time.Millisecond
	}
	r.nextID++
	t := &timer{
		id:       r.nextID,
		due:      time.Now().Add(interval),
		interval: interval,
		repeat:   repeat,
		cb:       cb,
	}
	r.timers[t.id] = t
	heap.Push(&r.queue, t)
	return t.id
}

// CancelTimer removes a timer. Cancelling an unknown or already fired timer is a no-op.
func (r *Reactor) CancelTimer(id TimerID) {
	t, ok := r.timers[id]
	if !ok {
		return
	}
	t.canceled = true
	delete(r.timers, id)
	if t.index >= 0 {
		heap.Remove(&r.queue, t.index)
	}
}

// Len reports the number of registered handlers and timers.
func (r *Reactor) Len() int {
	return len(r.readers) + len(r.writers) + len(r.timers)
}

// Stop clears every registration. When called from a callback, Run returns right after
// that callback.
func (r *Reactor) Stop() {
	r.stopped = true
	for _, t := range r.timers {
		t.canceled = true
	}
	r.readers = make(map[uintptr]*handler)
	r.writers = make(map[uintptr]*handler)
	r.timers = make(map[TimerID]*timer)
	r.queue = nil
}

// Run loops until nothing is registered, Stop is called or ctx is done.
// It returns ctx.Err() on cancellation and the poll error if multiplexing fails.
func (r *Reactor) Run(ctx context.Context) error {
	if r.running {
		return ErrRunning
	}
	r.running = true
	r.stopped = false
	defer func() { r.running = false }()

	for r.Len() > 0 {
		if err := ctx.Err(); err != nil {
			r.Stop()
			return err
		}

		wait := r.nextWait(ctx)
		if len(r.readers)+len(r.writers) == 0 {
			if err := sleep(ctx, wait); err != nil {
				r.Stop()
				return err
			}
		} else {
			fds := r.pollSet()
			if _, err := poll(fds, wait); err != nil {
				return fmt.Errorf("reactor: poll: %w", err)
			}
			r.dispatch(fds)
			if r.stopped {
				return nil
			}
		}

		r.runTimers()
		if r.stopped {
			return nil
		}
	}
	return nil
}

// nextWait returns how long the multiplex wait may block, -1 meaning forever.
func (r *Reactor) nextWait(ctx context.Context) time.Duration {
	wait := time.Duration(-1)
	if len(r.queue) > 0 {
		wait = max(time.Until(r.queue[0].due), 0)
	}
	if ctx.Done() != nil && (wait < 0 || wait > r.maxWait) {
		wait = r.maxWait
	}
	return wait
}

func (r *Reactor) pollSet() []unix.PollFd {
	events := make(map[uintptr]int16, len(r.readers)+len(r.writers))
	for fd := range r.readers {
		events[fd] |= unix.POLLIN
	}
	for fd := range r.writers {
		events[fd] |= unix.POLLOUT
	}
	fds := make([]unix.PollFd, 0, len(events))
	for fd, ev := range events {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i].Fd < fds[j].Fd })
	return fds
}

// dispatch runs ready read callbacks, then ready write callbacks. Handlers are looked up
// again right before each call, so a callback removing another stream takes effect
// within the same pass.
func (r *Reactor) dispatch(fds []unix.PollFd) {
	const readable = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	const writable = unix.POLLOUT | unix.POLLHUP | unix.POLLERR

	for _, p := range fds {
		fd := uintptr(p.Fd)
		if p.Revents&unix.POLLNVAL != 0 {
			delete(r.readers, fd)
			delete(r.writers, fd)
			continue
		}
		if p.Revents&readable == 0 {
			continue
		}
		if h, ok := r.readers[fd]; ok {
			h.cb(h.stream, r)
			if r.stopped {
				return
			}
		}
	}
	for _, p := range fds {
		fd := uintptr(p.Fd)
		if p.Revents&writable == 0 || p.Revents&unix.POLLNVAL != 0 {
			continue
		}
		if h, ok := r.writers[fd]; ok {
			h.cb(h.stream, r)
			if r.stopped {
				return
			}
		}
	}
}

func (r *Reactor) runTimers() {
	now := time.Now()
	var due []*timer
	for len(r.queue) > 0 && !r.queue[0].due.After(now) {
		due = append(due, heap.Pop(&r.queue).(*timer))
	}

	for _, t := range due {
		if t.canceled {
			continue
		}
		firedAt := time.Now()
		t.cb(r)
		if r.stopped {
			return
		}
		if t.canceled {
			continue
		}
		if t.repeat {
			t.due = firedAt.Add(t.interval)
			heap.Push(&r.queue, t)
			continue
		}
		delete(r.timers, t.id)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

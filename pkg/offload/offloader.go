package offload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/ports"
	"github.com/aretw0/flows/pkg/reactor"
	"golang.org/x/sys/unix"
)

const (
	defaultStatusCheck = time.Second
	defaultGracePeriod = 2 * time.Second
	readChunk          = 64 * 1024
	maxDiagnostics     = 20
)

// ErrWorkerFailed is the full stop cause raised when a worker signals a fatal error.
var ErrWorkerFailed = errors.New("offload: worker failed")

// Request is one batch of branches sharing an input.
type Request struct {
	Names []string
	Input flow.IO
}

// Option configures an Offloader.
type Option func(*Offloader)

// WithCommand sets the worker argv. It defaults to the current executable followed by
// "worker".
func WithCommand(argv ...string) Option {
	return func(o *Offloader) {
		o.command = argv
	}
}

// WithRootDir sets the directory sent to workers. It defaults to the working directory.
func WithRootDir(dir string) Option {
	return func(o *Offloader) {
		o.rootDir = dir
	}
}

// WithEnv adds KEY=VALUE pairs to the worker environment.
func WithEnv(env ...string) Option {
	return func(o *Offloader) {
		o.env = append(o.env, env...)
	}
}

// WithStatusCheckFrequency sets how often worker liveness is checked.
func WithStatusCheckFrequency(d time.Duration) Option {
	return func(o *Offloader) {
		if d > 0 {
			o.statusCheck = d
		}
	}
}

// WithMaxExecutionTime bounds a batch. Branches still running then are abandoned.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(o *Offloader) {
		o.maxExecution = d
	}
}

// WithStopOnError makes a worker failure end the batch and stop the flow.
func WithStopOnError(stop bool) Option {
	return func(o *Offloader) {
		o.stopOnError = stop
	}
}

// WithFullStop sets the function aborting the flow.
func WithFullStop(stop context.CancelCauseFunc) Option {
	return func(o *Offloader) {
		o.fullStop = stop
	}
}

// WithEventSink sets where worker failures are reported.
func WithEventSink(sink ports.EventSink) Option {
	return func(o *Offloader) {
		o.events = sink
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Offloader) {
		o.logger = logger
	}
}

// WithGracePeriod sets how long CleanUp waits after SIGTERM before killing a worker.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Offloader) {
		o.grace = d
	}
}

// Offloader spawns one worker per branch and collects their outputs.
// An Offloader runs a single batch; CleanUp must be called once it is done.
type Offloader struct {
	command      []string
	rootDir      string
	env          []string
	statusCheck  time.Duration
	maxExecution time.Duration
	stopOnError  bool
	fullStop     context.CancelCauseFunc
	events       ports.EventSink
	logger       *slog.Logger
	grace        time.Duration

	input      flow.IO
	terminator string
	children   []*child
}

// New creates an offloader.
func New(opts ...Option) *Offloader {
	o := &Offloader{
		statusCheck: defaultStatusCheck,
		logger:      logging.NewNop(),
		grace:       defaultGracePeriod,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// child is the parent-side state of one worker.
type child struct {
	name string
	cmd  *exec.Cmd

	// parent ends of the pipes, -1 once closed
	stdin, stdout, stderr int

	pending []byte
	out     lineBuffer
	errs    lineBuffer

	// stdout and stderr are still registered on the reactor
	reading, readingErr bool

	finished    bool
	failed      bool
	settled     bool
	hasResult   bool
	result      flow.IO
	diagnostics []string

	exited chan struct{}
}

func (c *child) active() bool { return c.reading || c.readingErr || c.pending != nil }

// Run spawns the workers and drives them until every one has finished, the batch timed
// out or a failure stopped it. The collection holds one entry per worker that produced
// a value, in request order.
func (o *Offloader) Run(ctx context.Context, req Request) (*flow.Collection, error) {
	if len(req.Names) == 0 {
		return nil, domain.ErrEmptyBranchList
	}
	if o.children != nil {
		return nil, errors.New("offload: offloader already used")
	}

	argv, err := o.argv()
	if err != nil {
		return nil, err
	}
	rootDir := o.rootDir
	if rootDir == "" {
		if rootDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("offload: working directory: %w", err)
		}
	}
	payload, err := flow.EncodeIO(req.Input)
	if err != nil {
		return nil, err
	}

	o.input = req.Input
	o.terminator = NewTerminator()
	o.children = make([]*child, 0, len(req.Names))

	r := reactor.New()
	for _, name := range req.Names {
		line := SpawnLine{Name: name, Terminator: o.terminator, RootDir: rootDir, Payload: payload}
		if err := line.Validate(); err != nil {
			return nil, err
		}
		c, err := o.spawn(argv, name)
		if err != nil {
			return nil, err
		}
		c.pending = []byte(line.String() + "\n")
		o.children = append(o.children, c)
		o.watch(r, c)
	}

	r.AddTimer(o.statusCheck, o.checkLiveness, true)
	if o.maxExecution > 0 {
		r.AddTimer(o.maxExecution, func(r *reactor.Reactor) {
			o.logger.Warn("offload batch timed out", "max_execution_time", o.maxExecution)
			r.Stop()
		}, false)
	}

	start := time.Now()
	err = r.Run(ctx)
	o.logger.Debug("offload batch done", "branches", req.Names, "elapsed", time.Since(start))

	results := flow.NewCollection()
	for _, c := range o.children {
		if c.hasResult {
			results.Add(c.name, c.result)
		}
	}
	return results, err
}

func (o *Offloader) argv() ([]string, error) {
	if len(o.command) > 0 {
		return o.command, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("offload: locate executable: %w", err)
	}
	return []string{exe, "worker"}, nil
}

func (o *Offloader) spawn(argv []string, name string) (*child, error) {
	var in, out, errp [2]int
	for _, p := range []*[2]int{&in, &out, &errp} {
		if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
			return nil, fmt.Errorf("offload: pipe: %w", err)
		}
	}
	// parent ends
	for _, fd := range []int{in[1], out[0], errp[0]} {
		if err := unix.SetNonblock(fd, true); err != nil {
			closeAll(in[0], in[1], out[0], out[1], errp[0], errp[1])
			return nil, fmt.Errorf("offload: nonblock: %w", err)
		}
	}

	childIn := os.NewFile(uintptr(in[0]), "stdin")
	childOut := os.NewFile(uintptr(out[1]), "stdout")
	childErr := os.NewFile(uintptr(errp[1]), "stderr")
	defer func() {
		_ = childIn.Close()
		_ = childOut.Close()
		_ = childErr.Close()
	}()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = childErr
	cmd.Env = append(os.Environ(), o.env...)
	if err := cmd.Start(); err != nil {
		closeAll(in[1], out[0], errp[0])
		return nil, fmt.Errorf("offload: start %s: %w", name, err)
	}

	c := &child{
		name:       name,
		cmd:        cmd,
		stdin:      in[1],
		stdout:     out[0],
		stderr:     errp[0],
		reading:    true,
		readingErr: true,
		exited:     make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(c.exited)
	}()
	o.logger.Debug("worker started", "process", name, "pid", cmd.Process.Pid)
	return c, nil
}

func (o *Offloader) watch(r *reactor.Reactor, c *child) {
	r.OnWritable(reactor.FD(c.stdin), func(_ reactor.Stream, r *reactor.Reactor) {
		o.writeSpawnLine(r, c)
	})
	r.OnReadable(reactor.FD(c.stdout), func(_ reactor.Stream, r *reactor.Reactor) {
		o.readStdout(r, c)
		o.stopWhenDone(r)
	})
	r.OnReadable(reactor.FD(c.stderr), func(_ reactor.Stream, r *reactor.Reactor) {
		o.readStderr(r, c)
		o.stopWhenDone(r)
	})
}

func (o *Offloader) writeSpawnLine(r *reactor.Reactor, c *child) {
	n, err := unix.Write(c.stdin, c.pending)
	if errors.Is(err, unix.EAGAIN) {
		return
	}
	if err != nil {
		o.logger.Error("failed to write spawn line", "process", c.name, "err", err)
		o.fail(r, c, fmt.Sprintf("write spawn line: %v", err))
		o.closeStdin(r, c)
		return
	}
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		o.closeStdin(r, c)
	}
}

func (o *Offloader) closeStdin(r *reactor.Reactor, c *child) {
	c.pending = nil
	if c.stdin < 0 {
		return
	}
	r.Remove(reactor.FD(c.stdin))
	_ = unix.Close(c.stdin)
	c.stdin = -1
}

// drain reads fd until it would block. eof is true when the writer is gone.
func drain(fd int, buf *lineBuffer) (lines []string, eof bool, err error) {
	chunk := make([]byte, readChunk)
	for {
		n, err := unix.Read(fd, chunk)
		if n > 0 {
			lines = append(lines, buf.feed(chunk[:n])...)
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			return lines, false, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return lines, true, err
		}
		if rest := buf.rest(); rest != "" {
			lines = append(lines, rest)
		}
		return lines, true, nil
	}
}

func (o *Offloader) readStdout(r *reactor.Reactor, c *child) {
	if !c.reading {
		return
	}
	lines, eof, err := drain(c.stdout, &c.out)
	for _, line := range lines {
		if !c.reading {
			break
		}
		if line == o.terminator {
			c.finished = true
			o.stopReading(r, c)
			break
		}
		v, decErr := flow.DecodeIO(line)
		if decErr != nil {
			o.logger.Error("invalid worker output", "process", c.name, "err", decErr)
			o.notify(c, fmt.Sprintf("invalid output: %v", decErr))
			continue
		}
		c.result = v
		c.hasResult = true
	}
	if err != nil {
		o.logger.Error("failed to read worker output", "process", c.name, "err", err)
	}
	if eof {
		o.stopReading(r, c)
	}
}

func (o *Offloader) readStderr(r *reactor.Reactor, c *child) {
	if !c.readingErr {
		return
	}
	lines, eof, err := drain(c.stderr, &c.errs)
	for _, line := range lines {
		if line == o.terminator {
			o.fail(r, c, strings.Join(c.diagnostics, "\n"))
			return
		}
		o.logger.Debug("worker", "process", c.name, "line", line)
		if len(c.diagnostics) < maxDiagnostics {
			c.diagnostics = append(c.diagnostics, line)
		}
	}
	if err != nil {
		o.logger.Error("failed to read worker diagnostics", "process", c.name, "err", err)
	}
	if eof {
		r.Remove(reactor.FD(c.stderr))
		c.readingErr = false
	}
}

func (o *Offloader) stopReading(r *reactor.Reactor, c *child) {
	if c.reading {
		r.Remove(reactor.FD(c.stdout))
		c.reading = false
	}
}

// fail handles a worker-side fatal error.
func (o *Offloader) fail(r *reactor.Reactor, c *child, reason string) {
	if c.failed {
		return
	}
	c.failed = true
	o.stopReading(r, c)
	if c.readingErr {
		r.Remove(reactor.FD(c.stderr))
		c.readingErr = false
	}
	o.logger.Error("worker failed", "process", c.name, "reason", reason)
	o.notify(c, reason)

	if o.stopOnError {
		r.Stop()
		if o.fullStop != nil {
			o.fullStop(fmt.Errorf("%w: %s", ErrWorkerFailed, c.name))
		}
	}
}

func (o *Offloader) notify(c *child, reason string) {
	if o.events == nil {
		return
	}
	o.events.Handle(context.Background(), domain.OffloadedProcessError{
		Process: c.name,
		Input:   o.input,
		Reason:  reason,
	})
}

// checkLiveness drains and deregisters the pipes of workers that have exited, in case
// their end of stream was missed.
func (o *Offloader) checkLiveness(r *reactor.Reactor) {
	for _, c := range o.children {
		if !c.active() {
			continue
		}
		select {
		case <-c.exited:
		default:
			continue
		}
		o.closeStdin(r, c)
		o.readStderr(r, c)
		o.readStdout(r, c)
		if c.readingErr {
			r.Remove(reactor.FD(c.stderr))
			c.readingErr = false
		}
		o.stopReading(r, c)
	}
	o.stopWhenDone(r)
}

// stopWhenDone reports workers that ended without a result, then stops the reactor once
// no worker is active.
func (o *Offloader) stopWhenDone(r *reactor.Reactor) {
	done := true
	for _, c := range o.children {
		if c.active() {
			done = false
			continue
		}
		if !c.settled {
			c.settled = true
			if !c.finished && !c.failed {
				o.logger.Warn("worker exited without terminator", "process", c.name)
				o.notify(c, "worker exited without result")
			}
		}
	}
	if done {
		r.Stop()
	}
}

// CleanUp terminates every worker still running, waits for them and closes the pipes.
// It is safe to call more than once.
func (o *Offloader) CleanUp() {
	for _, c := range o.children {
		select {
		case <-c.exited:
		default:
			_ = c.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-c.exited:
			case <-time.After(o.grace):
				o.logger.Warn("worker ignored SIGTERM, killing it", "process", c.name)
				_ = c.cmd.Process.Kill()
				<-c.exited
			}
		}
		closeAll(c.stdin, c.stdout, c.stderr)
		c.stdin, c.stdout, c.stderr = -1, -1, -1
	}
}

func closeAll(fds ...int) {
	for _, fd := range fds {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}
}

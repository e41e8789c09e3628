package flow

import (
	"context"
	"fmt"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/ports"
)

// Yield is what Run and Resume hand back: a gate to act on, or the process output.
type Yield struct {
	Gate   Gate
	Output IO
}

// savepoint is a (cursor, input) frame pushed by the SaveState marker.
type savepoint struct {
	cursor int
	input  IO
}

// Process is an ordered, resumable list of tasks and gates.
// It is not safe for concurrent use.
type Process struct {
	name       string
	entries    []any
	position   int
	savepoints []savepoint

	events    ports.EventSink
	observers ports.ObserverSink
}

// NewProcess creates a process from its entries. Every entry must be a Task, a Gate or
// SaveState.
func NewProcess(name string, entries ...any) (*Process, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyTaskList, name)
	}
	for i, e := range entries {
		switch e.(type) {
		case Gate, Task:
		case *marker:
			if e != SaveState {
				return nil, fmt.Errorf("%w: %s[%d] is an unknown marker", domain.ErrInvalidTaskEntry, name, i)
			}
		default:
			return nil, fmt.Errorf("%w: %s[%d] is %T", domain.ErrInvalidTaskEntry, name, i, e)
		}
	}
	return &Process{name: name, entries: entries}, nil
}

// MustProcess is like NewProcess but panics on error.
func MustProcess(name string, entries ...any) *Process {
	p, err := NewProcess(name, entries...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the registry name of the process.
func (p *Process) Name() string { return p.name }

// Done reports whether the cursor has reached the end of the list.
func (p *Process) Done() bool { return p.position >= len(p.entries) }

// Position returns the cursor, or -1 once the process is done.
func (p *Process) Position() int {
	if p.Done() {
		return -1
	}
	return p.position
}

// Progress returns the cursor and the number of entries.
func (p *Process) Progress() (int, int) {
	return p.position, len(p.entries)
}

// Bind attaches the notification sinks. Either may be nil.
func (p *Process) Bind(events ports.EventSink, observers ports.ObserverSink) {
	p.events = events
	p.observers = observers
}

// Run restarts the process from its first entry.
func (p *Process) Run(ctx context.Context, in IO) (Yield, error) {
	if p.Done() {
		return Yield{}, fmt.Errorf("%w: %s", domain.ErrProcessCompleted, p.name)
	}
	p.position = 0
	p.savepoints = nil
	return p.handle(ctx, in)
}

// Resume continues from the cursor with fresh input.
func (p *Process) Resume(ctx context.Context, in IO) (Yield, error) {
	if p.Done() {
		return Yield{}, fmt.Errorf("%w: %s", domain.ErrProcessCompleted, p.name)
	}
	return p.handle(ctx, in)
}

func (p *Process) handle(ctx context.Context, in IO) (Yield, error) {
	for p.position < len(p.entries) {
		switch e := p.entries[p.position].(type) {
		case *marker:
			p.savepoints = append(p.savepoints, savepoint{cursor: p.position, input: in})
			p.position++

		case Gate:
			y, done, err := p.gate(ctx, e, in)
			if err != nil {
				return Yield{}, err
			}
			if done {
				return y, nil
			}
			in = y.Output

		case Task:
			out, err := e.Invoke(ctx, in)
			if err != nil {
				return Yield{}, fmt.Errorf("process %s: task %d: %w", p.name, p.position, err)
			}
			in = out
			p.position++
			p.observe(ctx, out)
		}
	}
	return Yield{Output: in}, nil
}

// gate acts on a gate entry. When done is false, y.Output is the input for the next
// entry and the cursor has already been moved.
func (p *Process) gate(ctx context.Context, g Gate, in IO) (y Yield, done bool, err error) {
	switch g := g.(type) {
	case *ExclusiveGate, *EventGate:
		g.SetIO(in)
		p.position = len(p.entries)
		p.observe(ctx, g)
		return Yield{Gate: g}, true, nil

	case *InclusiveGate, *InclusiveJoinGate, *ParallelJoinGate, *OffloadedJoinGate:
		g.SetIO(in)
		p.position++
		p.observe(ctx, g)
		return Yield{Gate: g}, true, nil

	case *FuseGate:
		g.SetIO(in)
		ok, err := g.Check(ctx)
		if err != nil {
			return Yield{}, false, fmt.Errorf("process %s: fuse %d: %w", p.name, p.position, err)
		}
		if !ok {
			p.notify(ctx, domain.FuseBlown{Process: p.name, Position: p.position})
			if g.ReturnsInput() {
				return Yield{Output: in}, true, nil
			}
			return Yield{}, true, nil
		}
		p.position++
		return Yield{Output: in}, false, nil

	case *UndoGate:
		g.SetIO(in)
		n, err := g.Depth(ctx)
		if err != nil {
			return Yield{}, false, fmt.Errorf("process %s: undo %d: %w", p.name, p.position, err)
		}
		if n <= 0 {
			p.position++
			return Yield{Output: in}, false, nil
		}
		if n > len(p.savepoints) {
			return Yield{}, false, fmt.Errorf("%w: %s wants %d, has %d", domain.ErrNoSavepoint, p.name, n, len(p.savepoints))
		}
		sp := p.savepoints[len(p.savepoints)-n]
		p.savepoints = p.savepoints[:len(p.savepoints)-n]
		p.position = sp.cursor
		return Yield{Output: sp.input}, false, nil

	default:
		panic(fmt.Sprintf("flow: unhandled gate %T", g))
	}
}

// CleanUp runs every task and gate cleanup in reverse list order, whatever the cursor,
// then flushes notifications deferred until the end of the process.
func (p *Process) CleanUp(ctx context.Context, forSuspension bool) {
	p.CleanUpExcept(ctx, forSuspension, nil)
}

// CleanUpExcept is CleanUp leaving keep alone. The kernel uses it to release a process
// before racing its event gate, whose events must stay open until the race is over.
func (p *Process) CleanUpExcept(ctx context.Context, forSuspension bool, keep Gate) {
	for i := len(p.entries) - 1; i >= 0; i-- {
		switch e := p.entries[i].(type) {
		case Gate:
			if keep != nil && e == keep {
				continue
			}
			e.CleanUp(forSuspension)
		case Task:
			e.CleanUp(forSuspension)
		}
	}
	if p.events != nil {
		p.events.HandleDeferFromProcess(ctx)
	}
	if p.observers != nil {
		p.observers.HandleDeferFromProcess(ctx)
	}
}

func (p *Process) observe(ctx context.Context, v any) {
	if p.observers != nil {
		p.observers.Observe(ctx, v)
	}
}

func (p *Process) notify(ctx context.Context, ev domain.Event) {
	if p.events != nil {
		p.events.Handle(ctx, ev)
	}
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/config"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/offload"
	"github.com/aretw0/flows/pkg/ports"
)

// Kernel drives processes across their gates until the flow produces an output.
// Frames live on an explicit stack, so fan-out depth is bounded by memory only.
type Kernel struct {
	registry   Registry
	config     ports.Config
	events     ports.EventSink
	observers  ports.ObserverSink
	logger     *slog.Logger
	hooks      domain.LifecycleHooks
	offloader  OffloaderFactory
	startRelay func(ctx context.Context) error
}

// NewKernel creates a kernel looking processes up in registry.
func NewKernel(registry Registry, opts ...KernelOption) *Kernel {
	k := &Kernel{
		registry: registry,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.config == nil {
		k.config = config.New()
	}
	return k
}

// frame is one unit of pending work. source is the process waiting for this frame's
// output, nil for the root of the flow.
type frame struct {
	process *flow.Process
	input   flow.IO
	source  *flow.Process
}

// flowState is the per-call state of Process and Resume.
type flowState struct {
	stack []frame

	// deferred holds branch outputs keyed by the process they are delivered to.
	deferred map[*flow.Process]*flow.Collection

	// lastInclusive is the origin of the most recent fan-out without rejoin.
	lastInclusive *flow.Process

	// released holds the processes whose cleanup already ran during this flow.
	released map[*flow.Process]bool
}

func (s *flowState) push(f frame) { s.stack = append(s.stack, f) }

func (s *flowState) pop() frame {
	f := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return f
}

func (s *flowState) bucket(p *flow.Process) *flow.Collection {
	col, ok := s.deferred[p]
	if !ok {
		col = flow.NewCollection()
		s.deferred[p] = col
	}
	return col
}

// Process runs the named process and everything its gates lead to.
// It returns (nil, nil) when the flow is stopped, by the caller's context or by a
// worker failure with stop-on-error configured.
func (k *Kernel) Process(ctx context.Context, name string, in flow.IO) (flow.IO, error) {
	p, err := k.lookup(name)
	if err != nil {
		return nil, err
	}
	return k.run(ctx, frame{process: p, input: in})
}

// Resume continues a process that was restored from a snapshot.
func (k *Kernel) Resume(ctx context.Context, p *flow.Process, in flow.IO) (flow.IO, error) {
	p.Bind(k.events, k.observers)
	return k.run(ctx, frame{process: p, input: in})
}

func (k *Kernel) lookup(name string) (*flow.Process, error) {
	p, err := k.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	p.Bind(k.events, k.observers)
	return p, nil
}

func (k *Kernel) run(parent context.Context, start frame) (out flow.IO, err error) {
	ctx, fullStop := context.WithCancelCause(parent)
	defer fullStop(nil)
	defer k.flush(context.WithoutCancel(parent))

	st := &flowState{
		deferred: make(map[*flow.Process]*flow.Collection),
		released: make(map[*flow.Process]bool),
	}
	st.push(start)
	keepIO := k.config.GetBool(domain.KeyKeepIO)

	for len(st.stack) > 0 {
		cur := st.pop()
		p := cur.process

		if ctx.Err() != nil {
			// the popped frame did not run: it is torn down with the rest of the stack
			st.push(cur)
			k.tearDown(context.WithoutCancel(parent), st, nil)
			k.stop(context.WithoutCancel(parent), p, context.Cause(ctx))
			return nil, nil
		}

		in := cur.input
		pos, _ := p.Progress()
		resumed := pos > 0
		if resumed {
			if col, ok := st.deferred[p]; ok {
				in = col
				if !keepIO {
					delete(st.deferred, p)
				}
			}
		}

		if k.hooks.OnProcessStart != nil {
			k.hooks.OnProcessStart(ctx, &domain.ProcessEvent{
				HookBase: domain.NewHookBase(domain.HookProcessStart),
				Process:  p.Name(),
				Position: pos,
				Resumed:  resumed,
			})
		}

		var y flow.Yield
		if resumed {
			y, err = p.Resume(ctx, in)
		} else {
			y, err = p.Run(ctx, in)
		}
		if err != nil {
			k.tearDown(ctx, st, p)
			return nil, err
		}
		k.yielded(ctx, p)

		if y.Gate == nil {
			k.release(ctx, st, p, nil)
			if cur.source == nil {
				// the flow ends here, even with processes still waiting on the stack
				k.tearDown(ctx, st, nil)
				return y.Output, nil
			}
			st.bucket(cur.source).Add(p.Name(), y.Output)
			continue
		}

		if err := k.dispatch(ctx, fullStop, st, cur, y.Gate); err != nil {
			if ctx.Err() != nil {
				k.tearDown(context.WithoutCancel(parent), st, p)
				k.stop(context.WithoutCancel(parent), p, context.Cause(ctx))
				return nil, nil
			}
			k.tearDown(ctx, st, p)
			return nil, err
		}
	}

	if ctx.Err() != nil {
		k.tearDown(context.WithoutCancel(parent), st, start.process)
		k.stop(context.WithoutCancel(parent), start.process, context.Cause(ctx))
		return nil, nil
	}
	if st.lastInclusive != nil {
		return st.bucket(st.lastInclusive), nil
	}
	return nil, nil
}

// dispatch acts on the gate the current frame's process returned.
func (k *Kernel) dispatch(ctx context.Context, fullStop context.CancelCauseFunc, st *flowState, cur frame, g flow.Gate) error {
	p := cur.process

	switch g := g.(type) {
	case *flow.ExclusiveGate:
		name, err := g.Decide(ctx)
		if err != nil {
			return fmt.Errorf("process %s: exclusive gate: %w", p.Name(), err)
		}
		k.gateHook(ctx, p, g, name)
		next, err := k.lookup(name)
		if err != nil {
			return err
		}
		k.release(ctx, st, p, nil)
		// a continuation has nothing to resume: it goes forward on its own
		st.push(frame{process: next, input: g.IO()})

	case *flow.InclusiveGate:
		names, err := k.branches(ctx, p, g.Decide)
		if err != nil {
			return err
		}
		k.gateHook(ctx, p, g, names...)
		if err := k.pushBranches(st, p, names, g.IO()); err != nil {
			return err
		}
		k.release(ctx, st, p, nil)
		st.lastInclusive = p
		st.bucket(p)

	case *flow.InclusiveJoinGate:
		names, err := k.branches(ctx, p, g.Decide)
		if err != nil {
			return err
		}
		k.gateHook(ctx, p, g, names...)
		st.push(frame{process: p, input: g.IO(), source: cur.source})
		st.bucket(p)
		return k.pushBranches(st, p, names, g.IO())

	case *flow.ParallelJoinGate:
		names, err := k.branches(ctx, p, g.Decide)
		if err != nil {
			return err
		}
		k.gateHook(ctx, p, g, names...)
		st.push(frame{process: p, input: g.IO(), source: cur.source})
		st.bucket(p)
		return k.pushBranches(st, p, names, g.IO())

	case *flow.OffloadedJoinGate:
		names, err := k.branches(ctx, p, g.Decide)
		if err != nil {
			return err
		}
		k.gateHook(ctx, p, g, names...)
		col, err := k.offload(ctx, fullStop, p, names, g.IO())
		if err != nil {
			return err
		}
		dst := st.bucket(p)
		for _, e := range col.Entries {
			dst.Add(e.Name, e.Value)
		}
		st.push(frame{process: p, input: g.IO(), source: cur.source})

	case *flow.EventGate:
		name, err := k.race(ctx, st, p, g)
		if err != nil {
			return err
		}
		k.gateHook(ctx, p, g, name)
		next, err := k.lookup(name)
		if err != nil {
			return err
		}
		st.push(frame{process: next, input: g.IO()})

	case *flow.FuseGate, *flow.UndoGate:
		panic(fmt.Sprintf("runtime: %s gate handed to the kernel", g.Kind()))

	default:
		panic(fmt.Sprintf("runtime: unhandled gate %T", g))
	}
	return nil
}

func (k *Kernel) branches(ctx context.Context, p *flow.Process, decide func(context.Context) ([]string, error)) ([]string, error) {
	names, err := decide(ctx)
	if err != nil {
		return nil, fmt.Errorf("process %s: branch decision: %w", p.Name(), err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyBranchList, p.Name())
	}
	return names, nil
}

// pushBranches pushes names in reverse so that the first one runs first.
func (k *Kernel) pushBranches(st *flowState, source *flow.Process, names []string, in flow.IO) error {
	frames := make([]frame, 0, len(names))
	for _, name := range names {
		b, err := k.lookup(name)
		if err != nil {
			return err
		}
		frames = append(frames, frame{process: b, input: in, source: source})
	}
	for i := len(frames) - 1; i >= 0; i-- {
		st.push(frames[i])
	}
	return nil
}

func (k *Kernel) offload(ctx context.Context, fullStop context.CancelCauseFunc, p *flow.Process, names []string, in flow.IO) (*flow.Collection, error) {
	if k.offloader == nil {
		return nil, fmt.Errorf("process %s: offloaded join gate without an offloader", p.Name())
	}

	o := k.offloader(fullStop)
	defer o.CleanUp()

	start := time.Now()
	col, err := o.Run(ctx, offload.Request{Names: names, Input: in})
	if k.hooks.OnOffload != nil {
		k.hooks.OnOffload(ctx, &domain.OffloadEvent{
			HookBase: domain.NewHookBase(domain.HookOffload),
			Process:  p.Name(),
			Branches: names,
			Results:  col.Len(),
			Duration: time.Since(start),
			Err:      err,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("process %s: offload: %w", p.Name(), err)
	}
	k.logger.Debug("offload finished", "process", p.Name(), "branches", names, "results", col.Len())
	return col, nil
}

// race suspends the flow on an event gate and returns the chosen path. The rest of
// the process is released first, the gate once the race is over.
func (k *Kernel) race(ctx context.Context, st *flowState, p *flow.Process, g *flow.EventGate) (string, error) {
	k.release(ctx, st, p, g)
	defer g.CleanUp(false)

	if err := g.Register(ctx); err != nil {
		return "", fmt.Errorf("process %s: register events: %w", p.Name(), err)
	}
	if g.HasHTTPEvents() && k.startRelay != nil {
		if err := k.startRelay(ctx); err != nil {
			return "", fmt.Errorf("process %s: start http relay: %w", p.Name(), err)
		}
	}

	start := time.Now()
	if err := g.WaitForEvent(ctx); err != nil {
		return "", fmt.Errorf("process %s: %w", p.Name(), err)
	}
	name, err := g.Decide(ctx)
	if err != nil {
		return "", fmt.Errorf("process %s: event gate: %w", p.Name(), err)
	}

	if k.hooks.OnEventGate != nil {
		ev := &domain.RaceEvent{
			HookBase: domain.NewHookBase(domain.HookEventGate),
			Process:  p.Name(),
			Duration: time.Since(start),
		}
		if w := g.Winner(); w != nil {
			ev.Winner = fmt.Sprintf("%T", w)
		}
		k.hooks.OnEventGate(ctx, ev)
	}
	return name, nil
}

func (k *Kernel) yielded(ctx context.Context, p *flow.Process) {
	if k.hooks.OnProcessYield == nil {
		return
	}
	k.hooks.OnProcessYield(ctx, &domain.ProcessEvent{
		HookBase: domain.NewHookBase(domain.HookProcessYield),
		Process:  p.Name(),
		Position: p.Position(),
	})
}

func (k *Kernel) gateHook(ctx context.Context, p *flow.Process, g flow.Gate, branches ...string) {
	k.logger.Debug("gate", "process", p.Name(), "kind", g.Kind().String(), "branches", branches)
	if k.hooks.OnGate == nil {
		return
	}
	k.hooks.OnGate(ctx, &domain.GateEvent{
		HookBase: domain.NewHookBase(domain.HookGate),
		Process:  p.Name(),
		Kind:     g.Kind().String(),
		Branches: branches,
	})
}

// release runs the cleanup of p, leaving keep out, unless it already ran during this flow.
func (k *Kernel) release(ctx context.Context, st *flowState, p *flow.Process, keep flow.Gate) {
	if st.released[p] {
		return
	}
	st.released[p] = true
	p.CleanUpExcept(ctx, false, keep)
}

// tearDown releases cur, when set, and every process left on the stack, most recent
// first. Branches that never ran hold nothing and are dropped as they are.
func (k *Kernel) tearDown(ctx context.Context, st *flowState, cur *flow.Process) {
	if cur != nil {
		k.release(ctx, st, cur, nil)
	}
	for len(st.stack) > 0 {
		p := st.pop().process
		if pos, _ := p.Progress(); pos == 0 {
			continue
		}
		k.release(ctx, st, p, nil)
	}
}

// stop reports the interrupted process. It is called at most once per flow, after
// the flow was torn down.
func (k *Kernel) stop(ctx context.Context, p *flow.Process, cause error) {
	pos := p.Position()
	if errors.Is(cause, context.Canceled) {
		k.logger.Info("flow stopped", "process", p.Name(), "position", pos)
	} else {
		k.logger.Warn("flow stopped", "process", p.Name(), "position", pos, "cause", cause)
	}

	if k.events != nil {
		k.events.Handle(ctx, domain.FlowStopped{Process: p.Name(), Position: pos, Cause: cause})
	}
	if k.hooks.OnFlowStop != nil {
		k.hooks.OnFlowStop(ctx, &domain.ProcessEvent{
			HookBase: domain.NewHookBase(domain.HookFlowStop),
			Process:  p.Name(),
			Position: pos,
		})
	}
}

func (k *Kernel) flush(ctx context.Context) {
	if k.events != nil {
		k.events.HandleDeferFromFlow(ctx)
	}
	if k.observers != nil {
		k.observers.HandleDeferFromFlow(ctx)
	}
}

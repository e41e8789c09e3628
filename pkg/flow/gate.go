package flow

import (
	"context"
	"fmt"
)

// Kind enumerates the gate variants.
type Kind int

const (
	KindExclusive Kind = iota + 1
	KindInclusive
	KindInclusiveJoin
	KindParallelJoin
	KindOffloadedJoin
	KindEvent
	KindFuse
	KindUndo
)

func (k Kind) String() string {
	switch k {
	case KindExclusive:
		return "exclusive"
	case KindInclusive:
		return "inclusive"
	case KindInclusiveJoin:
		return "inclusive_join"
	case KindParallelJoin:
		return "parallel_join"
	case KindOffloadedJoin:
		return "offloaded_join"
	case KindEvent:
		return "event"
	case KindFuse:
		return "fuse"
	case KindUndo:
		return "undo"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Gate is a decision value a process hands back instead of an output.
// The set of gates is closed: only the variants in this package implement it.
type Gate interface {
	Kind() Kind

	// IO returns the input the gate was reached with.
	IO() IO
	SetIO(v IO)

	// CleanUp releases resources acquired while the gate was active.
	CleanUp(forSuspension bool)

	sealed()
}

type gateBase struct {
	io IO
}

func (g *gateBase) IO() IO { return g.io }
func (g *gateBase) SetIO(v IO) { g.io = v }
func (g *gateBase) CleanUp(bool) {}
func (g *gateBase) sealed() {}

// resolution caches a gate decision so it is computed at most once.
type resolution[T any] struct {
	done bool
	val  T
	err  error
}

func (r *resolution[T]) get(fn func() (T, error)) (T, error) {
	if !r.done {
		r.val, r.err = fn()
		r.done = true
	}
	return r.val, r.err
}

// PathFunc chooses a single follow-on process.
type PathFunc func(ctx context.Context, in IO) (string, error)

// BranchFunc chooses several follow-on processes.
type BranchFunc func(ctx context.Context, in IO) ([]string, error)

// Path returns a PathFunc that always chooses name.
func Path(name string) PathFunc {
	return func(context.Context, IO) (string, error) { return name, nil }
}

// Branches returns a BranchFunc that always chooses names.
func Branches(names ...string) BranchFunc {
	return func(context.Context, IO) ([]string, error) {
		out := make([]string, len(names))
		copy(out, names)
		return out, nil
	}
}

// ExclusiveGate ends its process and continues with exactly one other process.
type ExclusiveGate struct {
	gateBase
	decide PathFunc
	res    resolution[string]
}

// Exclusive creates an exclusive gate.
func Exclusive(decide PathFunc) *ExclusiveGate {
	return &ExclusiveGate{decide: decide}
}

func (g *ExclusiveGate) Kind() Kind { return KindExclusive }

// Decide returns the chosen process name.
func (g *ExclusiveGate) Decide(ctx context.Context) (string, error) {
	return g.res.get(func() (string, error) { return g.decide(ctx, g.io) })
}

// branchGate is shared by every gate that fans out to a list of processes.
type branchGate struct {
	gateBase
	decide BranchFunc
	res    resolution[[]string]
}

// Decide returns the chosen process names.
func (g *branchGate) Decide(ctx context.Context) ([]string, error) {
	return g.res.get(func() ([]string, error) { return g.decide(ctx, g.io) })
}

// InclusiveGate fans out to several processes running in the same kernel. Branch
// outputs are collected for the originating process, which is not resumed: the fan-out
// does not rejoin.
type InclusiveGate struct{ branchGate }

// Inclusive creates a fan-out gate without rejoin.
func Inclusive(decide BranchFunc) *InclusiveGate {
	return &InclusiveGate{branchGate{decide: decide}}
}

func (g *InclusiveGate) Kind() Kind { return KindInclusive }

// InclusiveJoinGate fans out like InclusiveGate, then resumes the originating process
// with the collected branch outputs.
type InclusiveJoinGate struct{ branchGate }

// InclusiveJoin creates a fan-out gate that rejoins its origin.
func InclusiveJoin(decide BranchFunc) *InclusiveJoinGate {
	return &InclusiveJoinGate{branchGate{decide: decide}}
}

func (g *InclusiveJoinGate) Kind() Kind { return KindInclusiveJoin }

// ParallelJoinGate runs every named process as a peer on the kernel stack and resumes
// the originating process with their outputs.
type ParallelJoinGate struct{ branchGate }

// ParallelJoin creates a parallel join gate.
func ParallelJoin(decide BranchFunc) *ParallelJoinGate {
	return &ParallelJoinGate{branchGate{decide: decide}}
}

func (g *ParallelJoinGate) Kind() Kind { return KindParallelJoin }

// OffloadedJoinGate runs every named process in its own OS process and resumes the
// originating process with their outputs.
type OffloadedJoinGate struct{ branchGate }

// OffloadedJoin creates an offloaded join gate.
func OffloadedJoin(decide BranchFunc) *OffloadedJoinGate {
	return &OffloadedJoinGate{branchGate{decide: decide}}
}

func (g *OffloadedJoinGate) Kind() Kind { return KindOffloadedJoin }

// CheckFunc reports whether a process may continue.
type CheckFunc func(ctx context.Context, in IO) (bool, error)

// FuseGate stops its process when the check fails. The cursor stays on the fuse, so a
// later resume checks it again.
type FuseGate struct {
	gateBase
	check       CheckFunc
	returnInput bool
}

// FuseOption configures a FuseGate.
type FuseOption func(*FuseGate)

// FuseReturnsNil makes a blown fuse yield a nil output instead of the current input.
func FuseReturnsNil() FuseOption {
	return func(g *FuseGate) { g.returnInput = false }
}

// Fuse creates a fuse gate. By default a blown fuse yields the current input.
func Fuse(check CheckFunc, opts ...FuseOption) *FuseGate {
	g := &FuseGate{check: check, returnInput: true}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *FuseGate) Kind() Kind { return KindFuse }

// Check evaluates the fuse against the current input.
func (g *FuseGate) Check(ctx context.Context) (bool, error) {
	return g.check(ctx, g.io)
}

// ReturnsInput reports whether a blown fuse yields the current input.
func (g *FuseGate) ReturnsInput() bool { return g.returnInput }

// DepthFunc returns how many savepoints to pop; zero means carry on.
type DepthFunc func(ctx context.Context, in IO) (int, error)

// UndoGate rewinds its process to an earlier savepoint.
type UndoGate struct {
	gateBase
	depth DepthFunc
}

// Undo creates an undo gate.
func Undo(depth DepthFunc) *UndoGate {
	return &UndoGate{depth: depth}
}

func (g *UndoGate) Kind() Kind { return KindUndo }

// Depth evaluates the undo depth against the current input.
func (g *UndoGate) Depth(ctx context.Context) (int, error) {
	return g.depth(ctx, g.io)
}

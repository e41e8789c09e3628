/*
Package flow implements processes, tasks and gates: the resumable state machine driven
by the kernel.

A Process is an ordered list of entries. Each entry is a Task (a step transforming its
input into an output), a Gate (a decision value handed back to the caller in place of
an output) or the SaveState marker. Run and Resume execute tasks in order until the
list is exhausted or a gate is reached, and return a Yield carrying either the final
output or the gate.

Gates form a closed set: Exclusive, Inclusive, InclusiveJoin, ParallelJoin,
OffloadedJoin, Event, Fuse and Undo. Branching gates compute their decision once and
keep it; Fuse and Undo gates are evaluated each time the cursor reaches them.

Values crossing a process boundary (offloaded workers, snapshots) are encoded with
encoding/gob. Concrete types stored behind interfaces must be registered with
RegisterType on both sides.
*/
package flow

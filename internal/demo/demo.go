// Package demo registers the processes the flows CLI can run.
package demo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/adapters/httprelay"
	"github.com/aretw0/flows/pkg/events"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/registry"

	// sqlite driver for the sql-watch process
	_ "modernc.org/sqlite"
)

// Deps are the collaborators of the demo processes.
type Deps struct {
	Relay       *httprelay.Client
	Logger      *slog.Logger
	GateTimeout time.Duration
}

// Register adds every demo process to reg.
func Register(reg *registry.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.GateTimeout <= 0 {
		deps.GateTimeout = time.Minute
	}

	reg.RegisterEntries("greet", func() []any {
		return []any{task(func(s string) string { return "hello " + s })}
	})

	// string tools used as branches
	reg.RegisterEntries("upper", func() []any { return []any{task(strings.ToUpper)} })
	reg.RegisterEntries("reverse", func() []any { return []any{task(reverse)} })
	reg.RegisterEntries("count", func() []any {
		return []any{task(func(s string) string { return fmt.Sprintf("%d", len(s)) })}
	})

	reg.RegisterEntries("route", func() []any {
		return []any{flow.Exclusive(func(_ context.Context, in flow.IO) (string, error) {
			if len(fmt.Sprint(in)) > 10 {
				return "count", nil
			}
			return "upper", nil
		})}
	})
	reg.RegisterEntries("parallel", func() []any {
		return []any{flow.ParallelJoin(flow.Branches("upper", "reverse", "count")), summary}
	})
	reg.RegisterEntries("offloaded", func() []any {
		return []any{flow.OffloadedJoin(flow.Branches("upper", "reverse", "count")), summary}
	})
	reg.RegisterEntries("broadcast", func() []any {
		return []any{flow.Inclusive(flow.Branches("upper", "reverse"))}
	})
	reg.RegisterEntries("guarded", func() []any {
		return []any{
			flow.Fuse(func(_ context.Context, in flow.IO) (bool, error) {
				return strings.TrimSpace(fmt.Sprint(in)) != "", nil
			}, flow.FuseReturnsNil()),
			task(func(s string) string { return "accepted " + s }),
		}
	})
	reg.RegisterEntries("retry", func() []any {
		attempts := 0
		return []any{
			flow.SaveState,
			flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
				attempts++
				return fmt.Sprintf("%v (attempt %d)", in, attempts), nil
			}),
			flow.Undo(func(context.Context, flow.IO) (int, error) {
				if attempts < 3 {
					return 1, nil
				}
				return 0, nil
			}),
		}
	})

	reg.RegisterEntries("file-watch", func() []any {
		return []any{flow.NewEventGate(
			func(_ context.Context, g *flow.EventGate) error {
				ev, err := events.NewFileModification(fmt.Sprint(g.IO()), time.Second)
				if err != nil {
					return err
				}
				return g.PushEvent(ev)
			},
			outcome("changed"),
			flow.WithTimeout(deps.GateTimeout),
			flow.WithGateLogger(deps.Logger),
		)}
	})
	reg.Register("sql-watch", func() (*flow.Process, error) { return sqlWatch(deps) })
	reg.RegisterEntries("webhook", func() []any {
		return []any{flow.NewEventGate(
			func(_ context.Context, g *flow.EventGate) error {
				if deps.Relay == nil {
					return fmt.Errorf("webhook: no relay client")
				}
				path := "/" + strings.TrimPrefix(fmt.Sprint(g.IO()), "/")
				ev := events.NewHTTPRequest(deps.Relay, path, acceptPost, events.WithLogger(deps.Logger))
				return g.PushEvent(ev, flow.WithFailPolicy(3, flow.Exit))
			},
			outcome("received"),
			flow.WithTimeout(deps.GateTimeout),
			flow.WithGateLogger(deps.Logger),
		)}
	})

	for _, name := range []string{"changed", "received", "ready", "timeout"} {
		reg.RegisterEntries(name, func() []any {
			return []any{task(func(s string) string { return name + ": " + s })}
		})
	}
}

// sqlWatch waits until the jobs table of the sqlite database named by the input holds
// a ready job.
func sqlWatch(deps Deps) (*flow.Process, error) {
	var db *sql.DB
	return flow.NewProcess("sql-watch",
		flow.TaskFunc(func(ctx context.Context, in flow.IO) (flow.IO, error) {
			var err error
			if db, err = sql.Open("sqlite", fmt.Sprint(in)); err != nil {
				return nil, err
			}
			_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS jobs (id INTEGER PRIMARY KEY, status TEXT NOT NULL)`)
			return in, err
		}),
		flow.NewEventGate(
			func(_ context.Context, g *flow.EventGate) error {
				return g.PushEvent(events.NewSQLRowCount(db, time.Second, `SELECT id FROM jobs WHERE status = ?`, "ready"))
			},
			func(ctx context.Context, winner flow.GateEvent, in flow.IO) (string, error) {
				defer db.Close()
				return outcome("ready")(ctx, winner, in)
			},
			flow.WithTimeout(deps.GateTimeout),
			flow.WithGateLogger(deps.Logger),
		),
	)
}

// outcome continues with name when an event won and with "timeout" otherwise.
func outcome(name string) flow.ChooseFunc {
	return func(_ context.Context, winner flow.GateEvent, _ flow.IO) (string, error) {
		if winner == nil {
			return "timeout", nil
		}
		return name, nil
	}
}

func acceptPost(_ context.Context, req *events.Request) (bool, error) {
	if req.Method != "POST" {
		return req.TryAgain(400, "fail", "only POST is accepted")
	}
	return req.Accepted(202, "success", "received")
}

func task(fn func(string) string) flow.TaskFunc {
	return func(_ context.Context, in flow.IO) (flow.IO, error) {
		return fn(fmt.Sprint(in)), nil
	}
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// summary renders a join collection as sorted "name=value" pairs.
var summary = flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
	col, ok := in.(*flow.Collection)
	if !ok {
		return nil, fmt.Errorf("expected a collection, got %T", in)
	}
	parts := make([]string, 0, len(col.Entries))
	for _, e := range col.Entries {
		parts = append(parts, fmt.Sprintf("%s=%v", e.Name, e.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, " "), nil
})

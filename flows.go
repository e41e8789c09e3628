package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/internal/runtime"
	"github.com/aretw0/flows/pkg/adapters/httprelay"
	"github.com/aretw0/flows/pkg/config"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/offload"
	"github.com/aretw0/flows/pkg/ports"
	"github.com/aretw0/flows/pkg/registry"
	"github.com/aretw0/flows/pkg/session"
	"github.com/google/uuid"
)

// ErrNoSnapshotStore is returned by Suspend and ResumeSnapshot when the engine was built
// without a snapshot store.
var ErrNoSnapshotStore = errors.New("flows: no snapshot store configured")

// Engine is the high-level entry point of the library. It runs registered processes on
// the kernel, offloads branches to worker processes and keeps suspended flows.
type Engine struct {
	registry  *registry.Registry
	kernel    *runtime.Kernel
	config    *config.Config
	settings  config.Settings
	events    ports.EventSink
	observers ports.ObserverSink
	hooks     domain.LifecycleHooks
	logger    *slog.Logger

	store       ports.SnapshotStore
	sessionOpts []session.Option
	sessions    *session.Manager

	workerArgv []string
	relayArgv  []string
	rootDir    string
	relay      *httprelay.Client
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. It is frozen once the engine is built.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithEventSink sets where domain notifications are sent.
func WithEventSink(sink ports.EventSink) Option {
	return func(e *Engine) {
		e.events = sink
	}
}

// WithObserverSink sets where process outputs are observed.
func WithObserverSink(sink ports.ObserverSink) Option {
	return func(e *Engine) {
		e.observers = sink
	}
}

// WithSnapshotStore enables Suspend and ResumeSnapshot.
func WithSnapshotStore(store ports.SnapshotStore, opts ...session.Option) Option {
	return func(e *Engine) {
		e.store = store
		e.sessionOpts = opts
	}
}

// WithWorkerCommand sets the command started for every offloaded branch.
// It overrides the offload.command setting.
func WithWorkerCommand(argv ...string) Option {
	return func(e *Engine) {
		e.workerArgv = argv
	}
}

// WithRelayCommand sets the command started when the HTTP relay server is not running.
func WithRelayCommand(argv ...string) Option {
	return func(e *Engine) {
		e.relayArgv = argv
	}
}

// WithRootDir sets the directory sent to workers in the spawn line.
func WithRootDir(dir string) Option {
	return func(e *Engine) {
		e.rootDir = dir
	}
}

// New creates an engine running the processes of reg.
func New(reg *registry.Registry, opts ...Option) (*Engine, error) {
	e := &Engine{
		registry: reg,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config == nil {
		e.config = config.New()
	}

	settings, err := e.config.Settings()
	if err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	e.settings = settings
	e.config.SetReadOnly()

	if len(e.workerArgv) == 0 {
		e.workerArgv = settings.Offload.Command
	}
	if len(e.workerArgv) == 0 {
		if exe, err := os.Executable(); err == nil {
			e.workerArgv = []string{exe, "worker"}
		}
	}
	if e.rootDir == "" {
		if e.rootDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to resolve root dir: %w", err)
		}
	}

	srv := settings.HTTP.Server
	e.relay = httprelay.NewClient(srv.CommandSocketPath, srv.PingAddress())
	if len(e.relayArgv) == 0 {
		e.relayArgv = defaultRelayArgv(srv)
	}
	launcher := httprelay.NewLauncher(e.relay, e.relayArgv, httprelay.WithLauncherLogger(e.logger))

	kopts := []runtime.KernelOption{
		runtime.WithConfig(e.config),
		runtime.WithLogger(e.logger),
		runtime.WithLifecycleHooks(e.hooks),
		runtime.WithOffloader(e.newOffloader),
		runtime.WithHTTPRelayStarter(launcher.Ensure),
	}
	if e.events != nil {
		kopts = append(kopts, runtime.WithEventSink(e.events))
	}
	if e.observers != nil {
		kopts = append(kopts, runtime.WithObserverSink(e.observers))
	}
	e.kernel = runtime.NewKernel(reg, kopts...)

	if e.store != nil {
		sopts := append([]session.Option{session.WithLogger(e.logger)}, e.sessionOpts...)
		e.sessions = session.NewManager(e.store, sopts...)
	}
	return e, nil
}

func defaultRelayArgv(srv config.HTTPServerSettings) []string {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	return []string{
		exe, "http-server",
		"--address", srv.Address,
		"--command-socket", srv.CommandSocketPath,
		"--server-uid", uuid.NewString(),
		"--timeout-read-external-process", strconv.FormatFloat(srv.TimeoutReadExternalProcess, 'f', -1, 64),
	}
}

// newOffloader builds the offloader of one OffloadedJoin gate.
func (e *Engine) newOffloader(fullStop context.CancelCauseFunc) runtime.Offloader {
	opts := []offload.Option{
		offload.WithCommand(e.workerArgv...),
		offload.WithRootDir(e.rootDir),
		offload.WithStatusCheckFrequency(e.settings.StatusCheckInterval()),
		offload.WithMaxExecutionTime(e.settings.MaxExecution()),
		offload.WithStopOnError(e.settings.Stop.OnOffloadError),
		offload.WithFullStop(fullStop),
		offload.WithLogger(e.logger),
	}
	if e.events != nil {
		opts = append(opts, offload.WithEventSink(e.events))
	}
	return offload.New(opts...)
}

// Process runs the named process and the processes its gates lead to.
// It returns (nil, nil) when the flow was stopped.
func (e *Engine) Process(ctx context.Context, name string, in flow.IO) (flow.IO, error) {
	return e.kernel.Process(ctx, name, in)
}

// Resume continues a restored process with in.
func (e *Engine) Resume(ctx context.Context, p *flow.Process, in flow.IO) (flow.IO, error) {
	return e.kernel.Resume(ctx, p, in)
}

// Suspend stores p under id together with the input it still has to consume.
func (e *Engine) Suspend(ctx context.Context, id string, p *flow.Process, pending flow.IO) error {
	if e.sessions == nil {
		return ErrNoSnapshotStore
	}
	return e.sessions.Suspend(ctx, id, p, pending)
}

// ResumeSnapshot restores the process stored under id, deletes the snapshot and runs
// the process to its end. A nil in resumes with the pending input of the snapshot.
func (e *Engine) ResumeSnapshot(ctx context.Context, id string, in flow.IO) (flow.IO, error) {
	if e.sessions == nil {
		return nil, ErrNoSnapshotStore
	}
	p, pending, err := e.sessions.Restore(ctx, id, e.registry, true)
	if err != nil {
		return nil, err
	}
	if in == nil {
		in = pending
	}
	e.logger.Debug("resuming snapshot", "id", id, "process", p.Name())
	return e.kernel.Resume(ctx, p, in)
}

// Sessions returns the snapshot manager, nil without a snapshot store.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Relay returns the client of the HTTP relay server, used to build HTTP gate events.
func (e *Engine) Relay() *httprelay.Client { return e.relay }

// Settings returns the decoded configuration.
func (e *Engine) Settings() config.Settings { return e.settings }

// WorkerCommand returns the command started for offloaded branches.
func (e *Engine) WorkerCommand() []string {
	return append([]string(nil), e.workerArgv...)
}

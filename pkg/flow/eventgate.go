package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/reactor"
)

// Behaviour is the action taken when an event's backing resource stays unhealthy.
type Behaviour int

const (
	// Continue stops listening to the failing event and keeps racing the others.
	Continue Behaviour = iota + 1
	// Exit ends the race without a winner.
	Exit
	// Resolve ends the race and declares the failing event the winner.
	Resolve
	// Serialize is reserved for suspending the flow; it is not a valid fail action.
	Serialize
)

func (b Behaviour) String() string {
	switch b {
	case Continue:
		return "continue"
	case Exit:
		return "exit"
	case Resolve:
		return "resolve"
	case Serialize:
		return "serialize"
	default:
		return fmt.Sprintf("behaviour(%d)", int(b))
	}
}

// GateEvent is a candidate trigger of an event gate.
type GateEvent interface {
	// Resolve reports whether the event happened. data is nil for polling events,
	// the ready stream for stream events and the accepted request for HTTP events.
	Resolve(ctx context.Context, data any) (bool, error)
}

// Frequent events are polled on an interval.
type Frequent interface {
	GateEvent
	Frequency() time.Duration
}

// StreamEvent is resolved when its stream becomes readable.
type StreamEvent interface {
	GateEvent
	// Stream opens the backing resource on first use.
	Stream() (reactor.Stream, error)
	// Close releases the backing resource. It must be safe to call more than once.
	Close() error
}

// HTTPEvent is a stream event receiving relayed HTTP requests. Accept takes the next
// relayed request off the stream; its result is passed to Resolve.
type HTTPEvent interface {
	StreamEvent
	Accept() (any, error)
}

// HealthChecker is implemented by events able to report on their backing resource.
// Events without it are always considered healthy.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// RegisterFunc pushes the gate's events right before the kernel waits on it.
type RegisterFunc func(ctx context.Context, g *EventGate) error

// ChooseFunc picks the path once the race is over. winner is nil when the gate expired.
type ChooseFunc func(ctx context.Context, winner GateEvent, in IO) (string, error)

const (
	defaultGateTimeout    = time.Second
	defaultHealthInterval = time.Second
)

type registration struct {
	event       GateEvent
	stream      reactor.Stream
	hasPolicy   bool
	failCounter int
	maxFails    int
	failAction  Behaviour
	closed      bool
}

// EventOption configures an event registration.
type EventOption func(*registration)

// WithFailPolicy tolerates count consecutive failed health checks, then applies action.
func WithFailPolicy(count int, action Behaviour) EventOption {
	return func(r *registration) {
		r.hasPolicy = true
		r.failCounter = count
		r.maxFails = count
		r.failAction = action
	}
}

// EventGate suspends its flow until one of its events resolves or the gate expires.
type EventGate struct {
	gateBase
	register       RegisterFunc
	choose         ChooseFunc
	events         []*registration
	registered     bool
	winner         GateEvent
	err            error
	timeout        time.Duration
	healthInterval time.Duration
	logger         *slog.Logger
	res            resolution[string]
}

// EventGateOption configures an EventGate.
type EventGateOption func(*EventGate)

// WithTimeout sets how long the race may last before the default path is taken.
func WithTimeout(d time.Duration) EventGateOption {
	return func(g *EventGate) { g.timeout = d }
}

// WithHealthInterval sets the period of the health checks of events with a fail policy.
func WithHealthInterval(d time.Duration) EventGateOption {
	return func(g *EventGate) { g.healthInterval = d }
}

// WithGateLogger sets the logger used to report fail policy decisions.
func WithGateLogger(l *slog.Logger) EventGateOption {
	return func(g *EventGate) { g.logger = l }
}

// NewEventGate creates an event gate.
func NewEventGate(register RegisterFunc, choose ChooseFunc, opts ...EventGateOption) *EventGate {
	g := &EventGate{
		register:       register,
		choose:         choose,
		timeout:        defaultGateTimeout,
		healthInterval: defaultHealthInterval,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *EventGate) Kind() Kind { return KindEvent }

// Register runs the registration function once.
func (g *EventGate) Register(ctx context.Context) error {
	if g.registered || g.register == nil {
		return nil
	}
	g.registered = true
	return g.register(ctx, g)
}

// PushEvent adds a candidate trigger. Fail policies only apply to stream events.
func (g *EventGate) PushEvent(ev GateEvent, opts ...EventOption) error {
	reg := &registration{event: ev}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.hasPolicy {
		if _, ok := ev.(Frequent); ok {
			return fmt.Errorf("%w: polling event %T cannot carry a fail policy", domain.ErrInvalidFailPolicy, ev)
		}
		if reg.maxFails < 0 {
			return fmt.Errorf("%w: negative fail count %d", domain.ErrInvalidFailPolicy, reg.maxFails)
		}
		switch reg.failAction {
		case Continue, Exit, Resolve:
		default:
			return fmt.Errorf("%w: action %s", domain.ErrInvalidFailPolicy, reg.failAction)
		}
	}
	g.events = append(g.events, reg)
	return nil
}

// WaitForEvent races the registered events on a private reactor. It returns once an
// event resolves, a fail policy ends the race or the gate expires; the last two are not
// errors. Errors returned by an event abort the race and are returned.
func (g *EventGate) WaitForEvent(ctx context.Context) error {
	if len(g.events) == 0 {
		return domain.ErrNoEvents
	}
	g.winner = nil
	g.err = nil

	r := reactor.New()
	r.AddTimer(g.timeout, func(r *reactor.Reactor) { r.Stop() }, false)

	for i, reg := range g.events {
		switch ev := reg.event.(type) {
		case Frequent:
			r.AddTimer(ev.Frequency(), func(r *reactor.Reactor) {
				g.try(ctx, r, ev, nil)
			}, true)

		case StreamEvent:
			s, err := ev.Stream()
			if err != nil {
				return fmt.Errorf("event gate: open %T: %w", ev, err)
			}
			reg.stream = s
			if hev, ok := ev.(HTTPEvent); ok {
				r.OnReadable(s, func(_ reactor.Stream, r *reactor.Reactor) {
					data, err := hev.Accept()
					if err != nil {
						g.abort(r, fmt.Errorf("event gate: accept %T: %w", ev, err))
						return
					}
					g.try(ctx, r, ev, data)
				})
			} else {
				r.OnReadable(s, func(st reactor.Stream, r *reactor.Reactor) {
					g.try(ctx, r, ev, st)
				})
			}
			if reg.hasPolicy {
				k := i
				r.AddTimer(g.healthInterval, func(r *reactor.Reactor) {
					g.takeAction(healthy(ctx, ev), r, k)
				}, true)
			}

		default:
			return fmt.Errorf("event gate: unsupported event %T", ev)
		}
	}

	if err := r.Run(ctx); err != nil {
		return err
	}
	return g.err
}

func (g *EventGate) try(ctx context.Context, r *reactor.Reactor, ev GateEvent, data any) {
	ok, err := ev.Resolve(ctx, data)
	if err != nil {
		g.abort(r, fmt.Errorf("event gate: resolve %T: %w", ev, err))
		return
	}
	if ok {
		g.winner = ev
		r.Stop()
	}
}

func (g *EventGate) abort(r *reactor.Reactor, err error) {
	g.err = err
	r.Stop()
}

// takeAction applies the fail policy of event k after a health check.
// A counter below zero means the action was already taken.
func (g *EventGate) takeAction(ok bool, r *reactor.Reactor, k int) {
	reg := g.events[k]
	if reg.failCounter < 0 {
		return
	}
	if ok {
		if reg.failCounter != reg.maxFails {
			g.logger.Info("status OK", "behaviour", "reset_counter", "event", fmt.Sprintf("%T", reg.event))
			reg.failCounter = reg.maxFails
		}
		return
	}
	if reg.failCounter > 0 {
		reg.failCounter--
		return
	}

	reg.failCounter--
	switch reg.failAction {
	case Continue:
		if reg.stream != nil {
			r.Remove(reg.stream)
		}
	case Exit:
		r.Stop()
	case Resolve:
		g.winner = reg.event
		r.Stop()
	}
	g.logger.Warn("status NOK", "behaviour", reg.failAction.String(), "event", fmt.Sprintf("%T", reg.event))
}

func healthy(ctx context.Context, ev GateEvent) bool {
	if hc, ok := ev.(HealthChecker); ok {
		return hc.Healthy(ctx)
	}
	return true
}

// Decide returns the path chosen from the race outcome.
func (g *EventGate) Decide(ctx context.Context) (string, error) {
	return g.res.get(func() (string, error) { return g.choose(ctx, g.winner, g.io) })
}

// Winner returns the event that won the last race, or nil.
func (g *EventGate) Winner() GateEvent { return g.winner }

// Timeout returns the race expiry.
func (g *EventGate) Timeout() time.Duration { return g.timeout }

// HasFrequentEvents reports whether a polling event is registered.
func (g *EventGate) HasFrequentEvents() bool {
	return g.has(func(ev GateEvent) bool {
		_, ok := ev.(Frequent)
		return ok
	})
}

// HasHTTPEvents reports whether an HTTP relay event is registered. The kernel uses it
// to make sure the relay server runs before waiting.
func (g *EventGate) HasHTTPEvents() bool {
	return g.has(func(ev GateEvent) bool {
		_, ok := ev.(HTTPEvent)
		return ok
	})
}

// HasStreamEvents reports whether a stream event is registered.
func (g *EventGate) HasStreamEvents() bool {
	return g.has(func(ev GateEvent) bool {
		_, ok := ev.(StreamEvent)
		return ok
	})
}

func (g *EventGate) has(match func(GateEvent) bool) bool {
	for _, reg := range g.events {
		if match(reg.event) {
			return true
		}
	}
	return false
}

// CleanUp closes the resource of every stream event exactly once.
func (g *EventGate) CleanUp(bool) {
	for _, reg := range g.events {
		ev, ok := reg.event.(StreamEvent)
		if !ok || reg.closed {
			continue
		}
		reg.closed = true
		if err := ev.Close(); err != nil {
			g.logger.Warn("failed to close event resource", "event", fmt.Sprintf("%T", ev), "err", err)
		}
	}
}

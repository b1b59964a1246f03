// Package engine implements the Container Lifecycle Engine: one actor per
// container that reconciles a user-requested target state against the
// interior's actually-observed state, driving the transient states in
// between and surfacing divergence as a transition failure.
package engine

import (
	"context"
	"fmt"

	"github.com/boz/contiman/cerrors"
	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/transition"
	"github.com/boz/contiman/types"
	golifecycle "github.com/boz/go-lifecycle"
	"github.com/sirupsen/logrus"
)

// Sink receives the engine's event stream. A Registry implements this to
// forward events onto the pub/sub bus; tests implement it to assert on call
// order.
type Sink interface {
	OnState(id types.ID, state, prev types.State)
	OnStatus(id types.ID, status interface{})
	OnError(id types.ID, err error)
	OnReady(id types.ID, state types.State)
}

// Engine drives one container's interior through the states named in §3 of
// the container lifecycle model: three stable, four transient, reconciled
// against a user-set expectation.
type Engine interface {
	ID() types.ID

	// SetState records target as the new expectation and, if the engine is
	// currently settled, begins driving toward it. target must be one of
	// the three stable states.
	SetState(ctx context.Context, target types.State, opts interior.Opts) error

	// Status asks the interior to report its status. The result arrives
	// asynchronously as an OnStatus event.
	Status(ctx context.Context) error

	// Snapshot returns an atomic read of the engine's current state.
	Snapshot(ctx context.Context) (types.Snapshot, error)

	Shutdown()
	Done() <-chan struct{}
}

// NewInterior constructs the concrete Interior for an engine, given the
// Monitor the engine will deliver its reports through. Registry.Create
// partially applies an interior.Factory's id/config/log arguments into one
// of these before calling New.
type NewInterior func(interior.Monitor) (interior.Interior, error)

// New constructs an engine for id, invoking newInterior to obtain its
// backend once the engine's monitor exists. The engine starts at
// types.Offline with no expectation, and immediately begins running its
// mailbox loop.
func New(ctx context.Context, id types.ID, newInterior NewInterior, sink Sink, log logrus.FieldLogger) (Engine, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	e := &engine{
		id:      id,
		state:   types.Offline,
		sink:    sink,
		settled: true,

		setch:   make(chan setReq),
		statch:  make(chan statReq),
		snapch:  make(chan snapReq),
		eventch: make(chan monitorEvent, 16),

		ctx: ctx,
		lc:  golifecycle.New(),
		l:   log.WithField("cmp", "engine").WithField("id", id),
	}

	in, err := newInterior(newMonitor(e))
	if err != nil {
		return nil, err
	}
	e.interior = in

	go e.lc.WatchContext(ctx)
	go e.run()

	return e, nil
}

type engine struct {
	id types.ID

	state         types.State
	expectation   types.State
	hasExpect     bool
	interiorState types.State
	status        interface{}
	settled       bool

	accepts []types.State

	// activeTarget/activeAction/hasActive describe the interior action
	// currently in flight for the active transition, if any. A SetState
	// call that arrives mid-flight for the same target re-invokes that
	// action with its new opts instead of only updating the expectation,
	// so e.g. a force stop reaches an already-dispatched Stop (§4.3).
	activeTarget types.State
	activeAction types.Action
	hasActive    bool

	interior interior.Interior
	sink     Sink

	setch   chan setReq
	statch  chan statReq
	snapch  chan snapReq
	eventch chan monitorEvent

	ctx context.Context
	lc  golifecycle.Lifecycle
	l   logrus.FieldLogger
}

func (e *engine) ID() types.ID { return e.id }

type setReq struct {
	target types.State
	opts   interior.Opts
	ech    chan<- error
}

func (e *engine) SetState(ctx context.Context, target types.State, opts interior.Opts) error {
	if !target.IsStable() {
		return cerrors.NewInvalidArgument(fmt.Sprintf("container %q: %q is not a stable state", e.id, target))
	}

	ech := make(chan error, 1)
	req := setReq{target: target, opts: opts, ech: ech}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.lc.ShuttingDown():
		return cerrors.NewNotFound(e.id)
	case e.setch <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.lc.ShuttingDown():
		return cerrors.NewNotFound(e.id)
	case err := <-ech:
		return err
	}
}

type statReq struct {
	ech chan<- error
}

func (e *engine) Status(ctx context.Context) error {
	ech := make(chan error, 1)
	req := statReq{ech: ech}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.lc.ShuttingDown():
		return cerrors.NewNotFound(e.id)
	case e.statch <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.lc.ShuttingDown():
		return cerrors.NewNotFound(e.id)
	case err := <-ech:
		return err
	}
}

type snapReq struct {
	ch chan<- types.Snapshot
}

func (e *engine) Snapshot(ctx context.Context) (types.Snapshot, error) {
	ch := make(chan types.Snapshot, 1)
	req := snapReq{ch: ch}

	select {
	case <-ctx.Done():
		return types.Snapshot{}, ctx.Err()
	case <-e.lc.ShuttingDown():
		return types.Snapshot{}, cerrors.NewNotFound(e.id)
	case e.snapch <- req:
	}

	select {
	case <-ctx.Done():
		return types.Snapshot{}, ctx.Err()
	case <-e.lc.ShuttingDown():
		return types.Snapshot{}, cerrors.NewNotFound(e.id)
	case snap := <-ch:
		return snap, nil
	}
}

func (e *engine) Shutdown() {
	e.lc.ShutdownAsync(nil)
}

func (e *engine) Done() <-chan struct{} {
	return e.lc.Done()
}

// monitorEvent is how the interior.Monitor implementation posts reports
// back onto the engine's own mailbox, so every mutation of state,
// interiorState and expectation happens on the single run-loop goroutine.
type monitorEvent struct {
	kind     monitorKind
	state    types.State
	status   interface{}
	err      error
	dispatch func()
}

type monitorKind int

const (
	evState monitorKind = iota
	evStatus
	evError
	evDispatch
)

func (e *engine) run() {
	defer e.lc.ShutdownCompleted()

loop:
	for {
		select {
		case err := <-e.lc.ShutdownRequest():
			e.lc.ShutdownInitiated(err)
			break loop

		case req := <-e.setch:
			e.handleSetState(req)

		case req := <-e.statch:
			if e.interior.Implements(types.ActionStatus) {
				e.interior.Status(interior.Opts{})
			}
			req.ech <- nil

		case req := <-e.snapch:
			req.ch <- types.Snapshot{
				ID:            e.id,
				State:         e.state,
				InteriorState: e.interiorState,
				Status:        e.status,
			}

		case ev := <-e.eventch:
			e.handleMonitorEvent(ev)
		}
	}

	e.interior.Close()
}

func (e *engine) handleSetState(req setReq) {
	e.expectation = req.target
	e.hasExpect = true
	req.ech <- nil

	if !e.state.IsStable() {
		// Mid-flight: expectation is stored and takes effect at the next
		// settle point (§4.2), unless this request targets the same
		// transition already driving the interior, in which case its opts
		// (e.g. force) are passed through to the in-flight action now
		// rather than waiting for it to settle first (§4.3).
		if e.hasActive && req.target == e.activeTarget && e.interior.Implements(e.activeAction) {
			e.redispatch(e.activeAction, req.opts)
		}
		return
	}

	e.beginTransition(req.target, req.opts)
}

// beginTransition looks up the plan from the engine's current (stable)
// state to target and executes step 2/3 of the transition algorithm:
// enter the intermediate state, then fire its action or auto-advance.
func (e *engine) beginTransition(target types.State, opts interior.Opts) {
	plan, ok := transition.Path(e.state, target)
	if !ok {
		// current == target: already settled.
		e.settled = true
		e.hasExpect = false
		e.hasActive = false
		e.sink.OnReady(e.id, e.state)
		return
	}

	prev := e.state
	e.state = plan.Intermediate
	e.accepts = plan.Accepts
	e.settled = false
	e.hasActive = false
	e.activeTarget = target
	e.sink.OnState(e.id, e.state, prev)

	e.dispatch(plan, opts)
}

// dispatch fires the plan's action or schedules its auto-advance, deferred
// by one iteration of the run loop per §5's "action dispatch deferral":
// the call into the helper goroutine (or the state mutation for
// auto-advance) happens from a later pass through eventch, never inline
// from the handler that decided to schedule it.
func (e *engine) dispatch(plan transition.Plan, opts interior.Opts) {
	switch {
	case plan.HasAction() && e.interior.Implements(plan.Action):
		e.hasActive = true
		e.activeAction = plan.Action
		e.redispatch(plan.Action, opts)

	case plan.AutoAdvance != "":
		target := plan.AutoAdvance
		go func() {
			e.eventch <- monitorEvent{kind: evDispatch, dispatch: func() {
				e.onInteriorState(target)
			}}
		}()

	default:
		// No action, no auto-advance: wait for an external event.
	}
}

// redispatch invokes action against the interior, deferred through eventch
// the same way dispatch's initial call is. Used both for a plan's first
// dispatch and for re-invoking an already in-flight action with new opts.
func (e *engine) redispatch(action types.Action, opts interior.Opts) {
	in := e.interior
	go func() {
		e.eventch <- monitorEvent{kind: evDispatch, dispatch: func() {
			invoke(in, action, opts)
		}}
	}()
}

func invoke(in interior.Interior, action types.Action, opts interior.Opts) {
	switch action {
	case types.ActionLoad:
		in.Load(opts)
	case types.ActionUnload:
		in.Unload(opts)
	case types.ActionStart:
		in.Start(opts)
	case types.ActionStop:
		in.Stop(opts)
	case types.ActionStatus:
		in.Status(opts)
	}
}

func (e *engine) handleMonitorEvent(ev monitorEvent) {
	switch ev.kind {
	case evDispatch:
		ev.dispatch()
	case evState:
		e.onInteriorState(ev.state)
	case evStatus:
		e.status = ev.status
		e.sink.OnStatus(e.id, ev.status)
	case evError:
		e.sink.OnError(e.id, cerrors.NewInteriorError(e.id, ev.err))
	}
}

// onInteriorState implements step 4 of the transition algorithm: validate
// the reported stable state against the active plan's accepts set, latch
// it, and either declare readiness, declare a transition failure, or
// recurse into a fresh plan toward the (possibly updated) expectation.
func (e *engine) onInteriorState(s types.State) {
	if s == e.state {
		// Spurious report: no-op.
		return
	}

	if e.state.IsStable() {
		// Not mid-transition: latch without validating against an accepts
		// set. The interior is allowed to report its steady state unprompted.
		prev := e.state
		e.state = s
		e.interiorState = s
		e.sink.OnState(e.id, e.state, prev)
		return
	}

	if !accept(e.accepts, s) {
		err := cerrors.NewTransitionFailed(e.id, e.expectation, s, e.accepts)
		e.hasExpect = false
		e.accepts = nil
		prev := e.state
		e.state = s
		e.interiorState = s
		e.settled = true
		e.sink.OnState(e.id, e.state, prev)
		e.sink.OnError(e.id, err)
		return
	}

	prev := e.state
	e.state = s
	e.interiorState = s
	e.sink.OnState(e.id, e.state, prev)

	if !e.hasExpect {
		e.settled = true
		return
	}

	if s == e.expectation {
		e.settled = true
		e.hasExpect = false
		e.sink.OnReady(e.id, s)
		return
	}

	e.beginTransition(e.expectation, interior.Opts{})
}

func accept(accepts []types.State, s types.State) bool {
	for _, a := range accepts {
		if a == s {
			return true
		}
	}
	return false
}

// monitor is the interior.Monitor handed to the backend at construction.
// Every method posts onto the engine's eventch from whatever goroutine the
// backend calls it from, so the run loop remains the sole mutator.
type monitor struct {
	eventch chan<- monitorEvent
}

func newMonitor(e *engine) interior.Monitor {
	return &monitor{eventch: e.eventch}
}

func (m *monitor) State(s types.State) {
	m.eventch <- monitorEvent{kind: evState, state: s}
}

func (m *monitor) Status(payload interface{}) {
	m.eventch <- monitorEvent{kind: evStatus, status: payload}
}

func (m *monitor) Error(err error) {
	m.eventch <- monitorEvent{kind: evError, err: err}
}

package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInterior implements only the actions listed in actions and never
// reports back, so the engine moves through the transition table's
// auto-advance for every action it lacks.
type fakeInterior struct {
	actions map[types.Action]bool
}

func (f *fakeInterior) Implements(a types.Action) bool { return f.actions[a] }

func (f *fakeInterior) Load(interior.Opts)   {}
func (f *fakeInterior) Unload(interior.Opts) {}
func (f *fakeInterior) Start(interior.Opts)  {}
func (f *fakeInterior) Stop(interior.Opts)   {}
func (f *fakeInterior) Status(interior.Opts) {}
func (f *fakeInterior) Close() error         { return nil }

// reportingInterior drives mon itself, simulating a real backend that
// calls back into the engine's monitor once its action "completes."
type reportingInterior struct {
	mon     interior.Monitor
	actions map[types.Action]types.State
}

func (r *reportingInterior) Implements(a types.Action) bool {
	_, ok := r.actions[a]
	return ok
}

func (r *reportingInterior) Load(interior.Opts)   { r.report(types.ActionLoad) }
func (r *reportingInterior) Unload(interior.Opts) { r.report(types.ActionUnload) }
func (r *reportingInterior) Start(interior.Opts)  { r.report(types.ActionStart) }
func (r *reportingInterior) Stop(interior.Opts)   { r.report(types.ActionStop) }
func (r *reportingInterior) Status(interior.Opts) { r.mon.Status("ok") }
func (r *reportingInterior) Close() error         { return nil }

func (r *reportingInterior) report(a types.Action) {
	go r.mon.State(r.actions[a])
}

// stopCapturingInterior reaches Running on its own (Load/Start report back
// immediately) but never reports back from Stop, simulating a stop that is
// still in flight against a real backend — the scenario a second Stop call
// with force:true needs to reach.
type stopCapturingInterior struct {
	mon interior.Monitor

	mu    sync.Mutex
	stops []interior.Opts
}

func (f *stopCapturingInterior) Implements(a types.Action) bool {
	switch a {
	case types.ActionLoad, types.ActionStart, types.ActionStop:
		return true
	default:
		return false
	}
}

func (f *stopCapturingInterior) Load(interior.Opts)   { go f.mon.State(types.Stopped) }
func (f *stopCapturingInterior) Unload(interior.Opts) {}
func (f *stopCapturingInterior) Start(interior.Opts)  { go f.mon.State(types.Running) }

func (f *stopCapturingInterior) Stop(opts interior.Opts) {
	f.mu.Lock()
	f.stops = append(f.stops, opts)
	f.mu.Unlock()
}

func (f *stopCapturingInterior) Status(interior.Opts) {}
func (f *stopCapturingInterior) Close() error         { return nil }

func (f *stopCapturingInterior) seenStops() []interior.Opts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interior.Opts(nil), f.stops...)
}

type recordingSink struct {
	mu     sync.Mutex
	states []types.State
	ready  chan types.State
	errs   chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ready: make(chan types.State, 8), errs: make(chan error, 8)}
}

func (s *recordingSink) OnState(id types.ID, state, prev types.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *recordingSink) OnStatus(id types.ID, status interface{}) {}

func (s *recordingSink) OnError(id types.ID, err error) {
	s.errs <- err
}

func (s *recordingSink) OnReady(id types.ID, state types.State) {
	s.ready <- state
}

func newTestEngine(t *testing.T, in interior.Interior, sink Sink) Engine {
	ctx := context.Background()
	e, err := New(ctx, types.ID("c1"), func(interior.Monitor) (interior.Interior, error) {
		return in, nil
	}, sink, logrus.StandardLogger())
	require.NoError(t, err)
	return e
}

func TestSetStateOfflineToStoppedWithAutoAdvance(t *testing.T) {
	sink := newRecordingSink()
	e := newTestEngine(t, &fakeInterior{}, sink)
	defer func() { e.Shutdown(); <-e.Done() }()

	require.NoError(t, e.SetState(context.Background(), types.Stopped, interior.Opts{}))

	select {
	case state := <-sink.ready:
		assert.Equal(t, types.Stopped, state)
	case <-time.After(time.Second):
		t.Fatal("engine never became ready")
	}

	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Stopped, snap.State)
}

func TestSetStateDrivesThroughInteriorReports(t *testing.T) {
	sink := newRecordingSink()
	ri := &reportingInterior{actions: map[types.Action]types.State{
		types.ActionLoad:  types.Stopped,
		types.ActionStart: types.Running,
	}}

	ctx := context.Background()
	e, err := New(ctx, types.ID("c2"), func(mon interior.Monitor) (interior.Interior, error) {
		ri.mon = mon
		return ri, nil
	}, sink, logrus.StandardLogger())
	require.NoError(t, err)
	defer func() { e.Shutdown(); <-e.Done() }()

	require.NoError(t, e.SetState(ctx, types.Running, interior.Opts{}))

	select {
	case state := <-sink.ready:
		assert.Equal(t, types.Running, state)
	case <-time.After(time.Second):
		t.Fatal("engine never became ready")
	}
}

func TestSetStateRejectsTransientTarget(t *testing.T) {
	sink := newRecordingSink()
	e := newTestEngine(t, &fakeInterior{}, sink)
	defer func() { e.Shutdown(); <-e.Done() }()

	err := e.SetState(context.Background(), types.Loading, interior.Opts{})
	assert.Error(t, err)
}

func TestDivergentInteriorReportSurfacesTransitionFailure(t *testing.T) {
	sink := newRecordingSink()
	ri := &reportingInterior{actions: map[types.Action]types.State{
		types.ActionLoad: types.Running, // not in the offline->stopped plan's accepts
	}}

	ctx := context.Background()
	e, err := New(ctx, types.ID("c3"), func(mon interior.Monitor) (interior.Interior, error) {
		ri.mon = mon
		return ri, nil
	}, sink, logrus.StandardLogger())
	require.NoError(t, err)
	defer func() { e.Shutdown(); <-e.Done() }()

	require.NoError(t, e.SetState(ctx, types.Stopped, interior.Opts{}))

	select {
	case err := <-sink.errs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a transition failure")
	}
}

func TestSetStateForceReachesInFlightStop(t *testing.T) {
	sink := newRecordingSink()
	fi := &stopCapturingInterior{}

	ctx := context.Background()
	e, err := New(ctx, types.ID("c4"), func(mon interior.Monitor) (interior.Interior, error) {
		fi.mon = mon
		return fi, nil
	}, sink, logrus.StandardLogger())
	require.NoError(t, err)
	defer func() { e.Shutdown(); <-e.Done() }()

	require.NoError(t, e.SetState(ctx, types.Running, interior.Opts{}))
	select {
	case state := <-sink.ready:
		require.Equal(t, types.Running, state)
	case <-time.After(time.Second):
		t.Fatal("engine never reached running")
	}

	require.NoError(t, e.SetState(ctx, types.Stopped, interior.Opts{Force: false}))
	require.Eventually(t, func() bool { return len(fi.seenStops()) == 1 }, time.Second, 10*time.Millisecond)

	// The first Stop never reports back, so the engine is still mid-flight
	// in Stopping. A second Stop for the same target must reach the
	// interior's in-flight Stop with the new opts, not be silently
	// dropped as a stored-but-unused expectation update.
	require.NoError(t, e.SetState(ctx, types.Stopped, interior.Opts{Force: true}))
	require.Eventually(t, func() bool { return len(fi.seenStops()) == 2 }, time.Second, 10*time.Millisecond)

	stops := fi.seenStops()
	assert.False(t, stops[0].Force)
	assert.True(t, stops[1].Force)
}

// Package registry implements the Container Registry: the id → engine map
// that reacts to engine events, forwards them onto the pub/sub bus, evicts
// an engine once it settles at a terminal offline, and tracks the
// population with Prometheus metrics. Grounded on this codebase's
// poolset.poolset actor (request/reply channels into a single owning
// goroutine) generalized from pools-of-instances to containers-of-engines.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/boz/contiman/cerrors"
	"github.com/boz/contiman/config"
	"github.com/boz/contiman/engine"
	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/metrics"
	"github.com/boz/contiman/pubsub"
	"github.com/boz/contiman/types"
	golifecycle "github.com/boz/go-lifecycle"
	throttle "github.com/boz/go-throttle"
	"github.com/sirupsen/logrus"
)

// Registry is the id-keyed collection of running engines.
type Registry interface {
	Create(ctx context.Context, id types.ID, rawConfig []byte) error
	Destroy(ctx context.Context, id types.ID) error
	Start(ctx context.Context, id types.ID) error
	Stop(ctx context.Context, id types.ID, force bool) error
	Query(ctx context.Context, id types.ID) (types.Snapshot, error)
	List(ctx context.Context) ([]types.ID, error)

	Shutdown()
	Done() <-chan struct{}
}

// New constructs a registry publishing engine events onto bus.
func New(ctx context.Context, bus pubsub.Bus, log logrus.FieldLogger) Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := &registry{
		bus:       bus,
		engines:   make(map[types.ID]*entry),
		createch:  make(chan createReq),
		destroych: make(chan idReq),
		startch:   make(chan idReq),
		stopch:    make(chan stopReq),
		queryck:   make(chan queryReq),
		listch:    make(chan listReq),
		evictch:   make(chan types.ID),

		ctx: ctx,
		lc:  golifecycle.New(),
		l:   log.WithField("cmp", "registry"),
	}

	go r.lc.WatchContext(ctx)
	go r.run()

	return r
}

type entry struct {
	eng engine.Engine

	mu           sync.Mutex
	latestStatus interface{}
	statusThrot  throttle.ThrottleDriver
}

type registry struct {
	bus     pubsub.Bus
	engines map[types.ID]*entry

	createch  chan createReq
	destroych chan idReq
	startch   chan idReq
	stopch    chan stopReq
	queryck   chan queryReq
	listch    chan listReq
	evictch   chan types.ID

	ctx context.Context
	lc  golifecycle.Lifecycle
	l   logrus.FieldLogger
}

type createReq struct {
	id  types.ID
	raw []byte
	ech chan<- error
}

func (r *registry) Create(ctx context.Context, id types.ID, rawConfig []byte) error {
	ech := make(chan error, 1)
	req := createReq{id: id, raw: rawConfig, ech: ech}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.lc.ShuttingDown():
		return errors.New("registry: not running")
	case r.createch <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.lc.ShuttingDown():
		return errors.New("registry: not running")
	case err := <-ech:
		return err
	}
}

type idReq struct {
	id  types.ID
	ech chan<- error
}

func (r *registry) Destroy(ctx context.Context, id types.ID) error {
	return r.doIDReq(ctx, r.destroych, id)
}

func (r *registry) Start(ctx context.Context, id types.ID) error {
	return r.doIDReq(ctx, r.startch, id)
}

func (r *registry) doIDReq(ctx context.Context, ch chan<- idReq, id types.ID) error {
	ech := make(chan error, 1)
	req := idReq{id: id, ech: ech}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.lc.ShuttingDown():
		return errors.New("registry: not running")
	case ch <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.lc.ShuttingDown():
		return errors.New("registry: not running")
	case err := <-ech:
		return err
	}
}

type stopReq struct {
	id    types.ID
	force bool
	ech   chan<- error
}

func (r *registry) Stop(ctx context.Context, id types.ID, force bool) error {
	ech := make(chan error, 1)
	req := stopReq{id: id, force: force, ech: ech}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.lc.ShuttingDown():
		return errors.New("registry: not running")
	case r.stopch <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.lc.ShuttingDown():
		return errors.New("registry: not running")
	case err := <-ech:
		return err
	}
}

type queryReq struct {
	id  types.ID
	ch  chan<- types.Snapshot
	ech chan<- error
}

func (r *registry) Query(ctx context.Context, id types.ID) (types.Snapshot, error) {
	ch := make(chan types.Snapshot, 1)
	ech := make(chan error, 1)
	req := queryReq{id: id, ch: ch, ech: ech}

	select {
	case <-ctx.Done():
		return types.Snapshot{}, ctx.Err()
	case <-r.lc.ShuttingDown():
		return types.Snapshot{}, errors.New("registry: not running")
	case r.queryck <- req:
	}

	select {
	case <-ctx.Done():
		return types.Snapshot{}, ctx.Err()
	case <-r.lc.ShuttingDown():
		return types.Snapshot{}, errors.New("registry: not running")
	case err := <-ech:
		return types.Snapshot{}, err
	case snap := <-ch:
		return snap, nil
	}
}

type listReq struct {
	ch chan<- []types.ID
}

func (r *registry) List(ctx context.Context) ([]types.ID, error) {
	ch := make(chan []types.ID, 1)
	req := listReq{ch: ch}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.lc.ShuttingDown():
		return nil, errors.New("registry: not running")
	case r.listch <- req:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.lc.ShuttingDown():
		return nil, errors.New("registry: not running")
	case ids := <-ch:
		return ids, nil
	}
}

func (r *registry) Shutdown() {
	r.lc.ShutdownAsync(nil)
}

func (r *registry) Done() <-chan struct{} {
	return r.lc.Done()
}

func (r *registry) run() {
	defer r.lc.ShutdownCompleted()

loop:
	for {
		select {
		case err := <-r.lc.ShutdownRequest():
			r.lc.ShutdownInitiated(err)
			break loop

		case req := <-r.createch:
			r.handleCreate(req)

		case req := <-r.destroych:
			r.handleDestroy(req)

		case req := <-r.startch:
			r.handleSetState(req.id, types.Running, interior.Opts{}, req.ech)

		case req := <-r.stopch:
			r.handleSetState(req.id, types.Stopped, interior.Opts{Force: req.force}, req.ech)

		case req := <-r.queryck:
			r.handleQuery(req)

		case req := <-r.listch:
			ids := make([]types.ID, 0, len(r.engines))
			for id := range r.engines {
				ids = append(ids, id)
			}
			req.ch <- ids

		case id := <-r.evictch:
			r.evict(id)
		}
	}

	for _, e := range r.engines {
		e.eng.Shutdown()
	}
	for _, e := range r.engines {
		<-e.eng.Done()
	}
}

func (r *registry) handleCreate(req createReq) {
	if _, ok := r.engines[req.id]; ok {
		req.ech <- cerrors.NewConflict(req.id)
		return
	}

	cfg, err := config.Parse(req.id, req.raw)
	if err != nil {
		req.ech <- err
		return
	}

	log := r.l.WithField("container", req.id)

	e := &entry{}
	eng, err := engine.New(r.ctx, req.id, cfg.Bind(req.id, log), r.sinkFor(e), log)
	if err != nil {
		req.ech <- err
		return
	}
	e.eng = eng
	e.statusThrot = throttle.ThrottleFunc(metrics.StatusThrottlePeriod, true, func() {
		e.mu.Lock()
		payload := e.latestStatus
		e.mu.Unlock()
		r.bus.Publish(types.StatusEvent{ContainerID: req.id, Status: payload})
	})

	r.engines[req.id] = e
	metrics.ContainerCreated()

	if err := eng.SetState(r.ctx, types.Stopped, interior.Opts{}); err != nil {
		log.WithError(err).Warn("initial load failed to enqueue")
	}

	req.ech <- nil
}

func (r *registry) handleDestroy(req idReq) {
	e, ok := r.engines[req.id]
	if !ok {
		req.ech <- cerrors.NewNotFound(req.id)
		return
	}

	req.ech <- e.eng.SetState(r.ctx, types.Offline, interior.Opts{})
}

func (r *registry) handleSetState(id types.ID, target types.State, opts interior.Opts, ech chan<- error) {
	e, ok := r.engines[id]
	if !ok {
		ech <- cerrors.NewNotFound(id)
		return
	}
	ech <- e.eng.SetState(r.ctx, target, opts)
}

func (r *registry) handleQuery(req queryReq) {
	e, ok := r.engines[req.id]
	if !ok {
		req.ech <- cerrors.NewNotFound(req.id)
		return
	}

	snap, err := e.eng.Snapshot(r.ctx)
	if err != nil {
		req.ech <- err
		return
	}
	req.ch <- snap
}

func (r *registry) evict(id types.ID) {
	e, ok := r.engines[id]
	if !ok {
		return
	}
	e.statusThrot.Stop()
	e.eng.Shutdown()
	delete(r.engines, id)
	metrics.ContainerEvicted()
}

// sinkFor builds the engine.Sink a single entry's engine reports to: state
// and error events forward to the bus directly and update metrics; status
// events are debounced through the entry's throttle before publishing.
func (r *registry) sinkFor(e *entry) engine.Sink {
	return &registrySink{registry: r, entry: e}
}

type registrySink struct {
	registry *registry
	entry    *entry
}

func (s *registrySink) OnState(id types.ID, state, prev types.State) {
	metrics.Transitioned(prev, state)
	s.registry.bus.Publish(types.StateEvent{ContainerID: id, State: state, LastState: prev})

	if state == types.Offline && prev != types.Offline {
		go func() {
			select {
			case s.registry.evictch <- id:
			case <-s.registry.lc.ShuttingDown():
			}
		}()
	}
}

func (s *registrySink) OnStatus(id types.ID, status interface{}) {
	s.entry.mu.Lock()
	s.entry.latestStatus = status
	s.entry.mu.Unlock()
	s.entry.statusThrot.Trigger()
}

func (s *registrySink) OnError(id types.ID, err error) {
	metrics.ErrorReported(err)
	s.registry.bus.Publish(errorEvent(id, err))
}

func (s *registrySink) OnReady(id types.ID, state types.State) {
	metrics.Settled(state)
}

func errorEvent(id types.ID, err error) types.ErrorEvent {
	ev := types.ErrorEvent{ContainerID: id, Message: err.Error()}

	if kind, ok := cerrors.KindOf(err); ok {
		ev.Kind = string(kind)
	}

	var tf *cerrors.TransitionFailure
	if errors.As(err, &tf) {
		ev.Expectation = tf.Expectation
		ev.Actual = tf.Actual
		ev.Accepts = tf.Accepts
	}

	return ev
}

// Package metrics holds the registry-level Prometheus instrumentation:
// population size by state, transition counters, and settle/failure
// counters. Nothing in the retrieved pack instruments anything with
// client_golang directly, so this package's shape follows the library's
// own idiomatic constructors rather than a codebase precedent — see
// DESIGN.md.
package metrics

import (
	"time"

	"github.com/boz/contiman/cerrors"
	"github.com/boz/contiman/types"
	"github.com/prometheus/client_golang/prometheus"
)

// StatusThrottlePeriod bounds how often a single container's status
// payload reaches the pub/sub bus, regardless of how often the interior
// reports it.
const StatusThrottlePeriod = 200 * time.Millisecond

var (
	population = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "contiman",
		Name:      "containers",
		Help:      "Number of containers currently in each state.",
	}, []string{"state"})

	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contiman",
		Name:      "transitions_total",
		Help:      "Number of engine state transitions, labeled by the state entered.",
	}, []string{"state"})

	settled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contiman",
		Name:      "settled_total",
		Help:      "Number of times an engine reached its expected stable state.",
	}, []string{"state"})

	transitionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "contiman",
		Name:      "transition_failures_total",
		Help:      "Number of TransitionFailed errors raised by any engine.",
	})

	interiorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "contiman",
		Name:      "interior_errors_total",
		Help:      "Number of InteriorError events raised by any engine.",
	})

	created = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "contiman",
		Name:      "created_total",
		Help:      "Number of containers created in the registry.",
	})

	evicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "contiman",
		Name:      "evicted_total",
		Help:      "Number of containers evicted from the registry after settling offline.",
	})
)

// Registry is the prometheus.Registerer net/server mounts on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(population, transitions, settled, transitionFailures, interiorErrors, created, evicted)
	for _, s := range []types.State{
		types.Offline, types.Stopped, types.Running,
		types.Loading, types.Unloading, types.Starting, types.Stopping,
	} {
		population.WithLabelValues(string(s)).Set(0)
	}
}

// Transitioned records an engine leaving prev and entering next.
func Transitioned(prev, next types.State) {
	population.WithLabelValues(string(prev)).Dec()
	population.WithLabelValues(string(next)).Inc()
	transitions.WithLabelValues(string(next)).Inc()
}

// Settled records an engine reaching its expected stable state.
func Settled(state types.State) {
	settled.WithLabelValues(string(state)).Inc()
}

// ErrorReported records an engine's OnError event, split by taxonomy kind.
func ErrorReported(err error) {
	if cerrors.Is(err, cerrors.KindTransitionFailed) {
		transitionFailures.Inc()
		return
	}
	interiorErrors.Inc()
}

// ContainerCreated records a successful registry Create.
func ContainerCreated() {
	created.Inc()
	population.WithLabelValues(string(types.Offline)).Inc()
}

// ContainerEvicted records a registry eviction.
func ContainerEvicted() {
	evicted.Inc()
	population.WithLabelValues(string(types.Offline)).Dec()
}

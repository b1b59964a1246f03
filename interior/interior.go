// Package interior defines the pluggable backend contract the engine drives,
// and the factory registry concrete backends (process, docker, postgres,
// redis) register themselves into.
package interior

import (
	"github.com/boz/contiman/types"
	"github.com/sirupsen/logrus"
)

// Opts carries per-call arguments an action may need. Force is the only
// field the core defines; concrete backends may look up additional keys out
// of Extra, e.g. docker's Stop reads Extra["signal"] to override the signal
// sent by a force stop.
type Opts struct {
	Force bool
	Extra map[string]interface{}
}

// Monitor is how an interior reports itself back to the engine that owns
// it, out of band from the call that triggered the report. Calls may arrive
// on any goroutine and in any order relative to the action call returning.
type Monitor interface {
	// State reports a newly observed stable state.
	State(s types.State)

	// Status reports an opaque, backend-defined status payload.
	Status(payload interface{})

	// Error reports a backend failure unrelated to a specific action call.
	Error(err error)
}

// Interior is the backend an engine drives through load/unload/start/stop
// cycles. Every method is asynchronous: it returns immediately and the
// outcome surfaces later through the Monitor supplied at construction.
// Only Stop is mandatory; an action for which Implements returns false is
// treated as unimplemented and the transition table's auto-advance takes
// over.
type Interior interface {
	Load(Opts)
	Unload(Opts)
	Start(Opts)
	Stop(Opts)
	Status(Opts)

	// Implements reports whether the interior implements the given action,
	// so the engine can decide between scheduling a call and auto-advancing.
	Implements(types.Action) bool

	// Close releases any resources held by the interior. Called once, when
	// the owning engine's run loop shuts down (after a registry eviction,
	// a registry shutdown, or cancellation of the engine's context).
	Close() error
}

// Factory constructs an Interior bound to one container id, given its
// raw config and where to deliver monitor events and log lines.
type Factory func(id types.ID, rawConfig []byte, mon Monitor, log logrus.FieldLogger) (Interior, error)

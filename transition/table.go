// Package transition holds the pure transition table described in §4.1 of
// the specification: for every (current stable state, target stable state)
// pair it names the intermediate transient state to enter, the interior
// action to fire, the auto-advance fallback if the interior doesn't
// implement that action, and the ordered set of stable states the engine is
// allowed to pass through.
//
// This is deliberately a closed, pair-keyed dispatch table rather than a
// set of per-state behavior objects. An earlier design in this codebase's
// history modeled each stable state as an object reacting to named events
// ("start", "live", "reset", "kill"); it predates this table, is strictly
// less complete (its loading→unloading edge is driven by an action name
// nothing ever emits), and is not part of this repository.
package transition

import "github.com/boz/contiman/types"

// Plan is the result of looking up a (current, target) pair: what to do
// right now, and what the engine is allowed to observe while doing it.
type Plan struct {
	// Intermediate is the transient state the engine enters immediately.
	Intermediate types.State

	// Action is the interior method to invoke after entering Intermediate.
	// Empty if no interior call is needed for this step.
	Action types.Action

	// AutoAdvance is the stable state to jump to directly when Action is
	// non-empty but the interior doesn't implement it. Empty means the
	// engine must wait for an external event instead.
	AutoAdvance types.State

	// Accepts is the ordered set of stable states the engine may legally
	// observe on its way from the plan's current state to its target.
	Accepts []types.State
}

// HasAction reports whether executing this plan requires invoking an
// interior action.
func (p Plan) HasAction() bool { return p.Action != "" }

// Accept reports whether s is a member of p.Accepts.
func (p Plan) Accept(s types.State) bool {
	for _, a := range p.Accepts {
		if a == s {
			return true
		}
	}
	return false
}

type pair struct {
	from, to types.State
}

var table = map[pair]Plan{
	{types.Offline, types.Stopped}: {
		Intermediate: types.Loading,
		Action:       types.ActionLoad,
		AutoAdvance:  types.Stopped,
		Accepts:      []types.State{types.Loading, types.Stopped},
	},
	{types.Offline, types.Running}: {
		Intermediate: types.Loading,
		Action:       types.ActionLoad,
		AutoAdvance:  types.Stopped,
		Accepts:      []types.State{types.Loading, types.Stopped, types.Running},
	},
	{types.Stopped, types.Offline}: {
		Intermediate: types.Unloading,
		Action:       types.ActionUnload,
		AutoAdvance:  types.Offline,
		Accepts:      []types.State{types.Unloading, types.Offline},
	},
	{types.Stopped, types.Running}: {
		Intermediate: types.Starting,
		Action:       types.ActionStart,
		Accepts:      []types.State{types.Starting, types.Running},
	},
	{types.Running, types.Stopped}: {
		Intermediate: types.Stopping,
		Action:       types.ActionStop,
		Accepts:      []types.State{types.Stopping, types.Stopped},
	},
	{types.Running, types.Offline}: {
		Intermediate: types.Stopping,
		Action:       types.ActionStop,
		Accepts:      []types.State{types.Stopping, types.Stopped, types.Offline},
	},
	{types.Loading, types.Offline}: {
		Intermediate: types.Unloading,
		Action:       types.ActionUnload,
		AutoAdvance:  types.Offline,
		Accepts:      []types.State{types.Loading, types.Stopped, types.Unloading, types.Offline},
	},
	{types.Starting, types.Stopped}: {
		Intermediate: types.Stopping,
		Action:       types.ActionStop,
		Accepts:      []types.State{types.Starting, types.Running, types.Stopping, types.Stopped},
	},
	{types.Starting, types.Offline}: {
		Intermediate: types.Stopping,
		Action:       types.ActionStop,
		Accepts:      []types.State{types.Starting, types.Running, types.Stopping, types.Stopped, types.Offline},
	},
	{types.Stopping, types.Running}: {
		Accepts: []types.State{types.Stopping, types.Stopped},
	},
	{types.Stopping, types.Offline}: {
		Accepts: []types.State{types.Stopping, types.Stopped, types.Offline},
	},
}

// unloadingAccepts is shared by every (unloading, *) pair: once unloading is
// underway the interior can only settle at offline, regardless of target.
var unloadingAccepts = []types.State{types.Unloading, types.Offline}

// Path returns the plan for driving current toward target. current may be
// any of the seven states (stable or transient); target must be stable.
//
// The second return value is false when current == target and no plan is
// needed (the engine has already settled), or when current is a transient
// state with no entry in the table for target, in which case the caller
// should wait for the in-flight action's stable-state report before
// re-planning.
func Path(current, target types.State) (Plan, bool) {
	if current == target {
		return Plan{}, false
	}

	if current == types.Unloading {
		return Plan{Accepts: unloadingAccepts}, true
	}

	p, ok := table[pair{current, target}]
	return p, ok
}

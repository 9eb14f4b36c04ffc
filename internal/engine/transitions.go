package engine

import (
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/util"
)

// StateTransitions maps states to their set of valid next states
//
// Generic transition tables validate node and plan status changes
type StateTransitions[T comparable] map[T]util.Set[T]

var (
	nodeTransitions = StateTransitions[api.Status]{
		api.StatusQueued: util.SetOf(
			api.StatusRunning,
			api.StatusSuspended,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusRunning: util.SetOf(
			api.StatusSuspended,
			api.StatusInterveneWaiting,
			api.StatusSucceeded,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusSuspended: util.SetOf(
			api.StatusRunning,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusInterveneWaiting: util.SetOf(
			api.StatusRunning,
			api.StatusSucceeded,
			api.StatusFailed,
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusSucceeded: {},
		// a failed node re-enters running only on bounded RETRY advice
		api.StatusFailed: util.SetOf(
			api.StatusRunning,
			api.StatusQueued,
		),
		api.StatusAborted: {},
		api.StatusExpired: {},
	}

	planTransitions = StateTransitions[api.PlanStatus]{
		api.PlanRunning: util.SetOf(
			api.PlanPaused,
			api.PlanSucceeded,
			api.PlanFailed,
			api.PlanAborted,
			api.PlanExpired,
		),
		api.PlanPaused: util.SetOf(
			api.PlanRunning,
			api.PlanAborted,
			api.PlanExpired,
		),
		api.PlanSucceeded: {},
		api.PlanFailed:    {},
		api.PlanAborted:   {},
		api.PlanExpired:   {},
	}
)

// CanTransition returns whether moving from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.IsEmpty()
}

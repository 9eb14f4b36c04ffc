package api

import (
	"maps"
	"slices"
)

type (
	// Level identifies one nesting step in a plan execution: the runtime ID
	// of the node instance plus the setup ID of its definition
	Level struct {
		RuntimeID NodeExecutionID `json:"runtime_id"`
		SetupID   SetupNodeID     `json:"setup_id"`
		Group     string          `json:"group,omitempty"`
	}

	// SetupAbstractions carries the scoping identifiers for a plan
	// execution, such as account, org, and project
	SetupAbstractions map[string]string

	// Ambiance is the immutable execution context threaded through a plan
	// execution. Child ambiances are copies with an appended level; an
	// Ambiance is never mutated in place
	Ambiance struct {
		PlanExecutionID PlanExecutionID   `json:"plan_execution_id"`
		Setup           SetupAbstractions `json:"setup,omitempty"`
		FunctorToken    FunctorToken      `json:"functor_token,omitempty"`
		Levels          []*Level          `json:"levels"`
	}
)

// NewAmbiance creates the root ambiance for a plan execution
func NewAmbiance(
	planExecutionID PlanExecutionID, setup SetupAbstractions,
	token FunctorToken,
) *Ambiance {
	return &Ambiance{
		PlanExecutionID: planExecutionID,
		Setup:           maps.Clone(setup),
		FunctorToken:    token,
	}
}

// CurrentLevel returns the innermost level, or nil for a root ambiance
func (a *Ambiance) CurrentLevel() *Level {
	if len(a.Levels) == 0 {
		return nil
	}
	return a.Levels[len(a.Levels)-1]
}

// CurrentRuntimeID returns the node-execution ID of the innermost level
func (a *Ambiance) CurrentRuntimeID() NodeExecutionID {
	if l := a.CurrentLevel(); l != nil {
		return l.RuntimeID
	}
	return ""
}

// CurrentSetupID returns the setup-node ID of the innermost level
func (a *Ambiance) CurrentSetupID() SetupNodeID {
	if l := a.CurrentLevel(); l != nil {
		return l.SetupID
	}
	return ""
}

// ParentRuntimeID returns the node-execution ID one level up, if any
func (a *Ambiance) ParentRuntimeID() NodeExecutionID {
	if len(a.Levels) < 2 {
		return ""
	}
	return a.Levels[len(a.Levels)-2].RuntimeID
}

// WithLevel returns a copy of the ambiance with the level appended
func (a *Ambiance) WithLevel(l *Level) *Ambiance {
	res := *a
	res.Levels = append(slices.Clone(a.Levels), l)
	return &res
}

// ForFinish returns a copy of the ambiance with the innermost level
// dropped, used when a completing node hands control back to its parent
func (a *Ambiance) ForFinish() *Ambiance {
	res := *a
	if len(a.Levels) > 0 {
		res.Levels = slices.Clone(a.Levels[:len(a.Levels)-1])
	}
	return &res
}

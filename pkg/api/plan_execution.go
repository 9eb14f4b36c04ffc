package api

import (
	"maps"
	"slices"
	"time"
)

type (
	// InterruptType classifies an external interrupt against an execution
	InterruptType string

	// Interrupt is an externally delivered instruction to abort, expire,
	// pause, or resume. An empty NodeExecutionID targets the whole plan
	Interrupt struct {
		Type            InterruptType   `json:"type"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id,omitempty"`
		Reason          string          `json:"reason,omitempty"`
		RegisteredAt    time.Time       `json:"registered_at"`
	}

	// NodeRecord tracks one node execution from the plan's perspective,
	// indexing it by setup node and parent for child lookups
	NodeRecord struct {
		SetupNodeID SetupNodeID     `json:"setup_node_id"`
		ParentID    NodeExecutionID `json:"parent_id,omitempty"`
		Status      Status          `json:"status"`
	}

	// PlanExecutionState is the aggregate state of a single plan run. It
	// tracks overall status plus a record of every node execution, which
	// gives the engine its child-lookup and replay indexes
	PlanExecutionState struct {
		ID          PlanExecutionID                 `json:"id"`
		Plan        *Plan                           `json:"plan"`
		Setup       SetupAbstractions               `json:"setup,omitempty"`
		Status      PlanStatus                      `json:"status"`
		Nodes       map[NodeExecutionID]*NodeRecord `json:"nodes,omitempty"`
		Interrupts  []*Interrupt                    `json:"interrupts,omitempty"`
		Failure     *FailureInfo                    `json:"failure,omitempty"`
		CreatedAt   time.Time                       `json:"created_at"`
		EndedAt     time.Time                       `json:"ended_at,omitempty"`
		LastUpdated time.Time                       `json:"last_updated"`
	}
)

const (
	InterruptAbort  InterruptType = "abort"
	InterruptExpire InterruptType = "expire"
	InterruptPause  InterruptType = "pause"
	InterruptResume InterruptType = "resume"
)

// SetStatus returns a new state with the plan status set
func (st *PlanExecutionState) SetStatus(s PlanStatus) *PlanExecutionState {
	res := *st
	res.Status = s
	return &res
}

// SetNode returns a new state with the node execution's record stored
func (st *PlanExecutionState) SetNode(
	id NodeExecutionID, rec *NodeRecord,
) *PlanExecutionState {
	res := *st
	res.Nodes = maps.Clone(st.Nodes)
	if res.Nodes == nil {
		res.Nodes = map[NodeExecutionID]*NodeRecord{}
	}
	res.Nodes[id] = rec
	return &res
}

// ChildrenOf returns the node executions whose parent is the given node
func (st *PlanExecutionState) ChildrenOf(
	parent NodeExecutionID,
) map[NodeExecutionID]*NodeRecord {
	res := map[NodeExecutionID]*NodeRecord{}
	for id, rec := range st.Nodes {
		if rec.ParentID == parent {
			res[id] = rec
		}
	}
	return res
}

// BySetupNode returns the node executions instantiated from a setup node
func (st *PlanExecutionState) BySetupNode(
	setupID SetupNodeID,
) map[NodeExecutionID]*NodeRecord {
	res := map[NodeExecutionID]*NodeRecord{}
	for id, rec := range st.Nodes {
		if rec.SetupNodeID == setupID {
			res[id] = rec
		}
	}
	return res
}

// AddInterrupt returns a new state with the interrupt appended
func (st *PlanExecutionState) AddInterrupt(
	i *Interrupt,
) *PlanExecutionState {
	res := *st
	res.Interrupts = append(slices.Clone(st.Interrupts), i)
	return &res
}

// SetFailure returns a new state with the failure info set
func (st *PlanExecutionState) SetFailure(
	f *FailureInfo,
) *PlanExecutionState {
	res := *st
	res.Failure = f
	return &res
}

// SetEndedAt returns a new state with the completion timestamp set
func (st *PlanExecutionState) SetEndedAt(t time.Time) *PlanExecutionState {
	res := *st
	res.EndedAt = t
	return &res
}

// SetLastUpdated returns a new state with the last updated timestamp set
func (st *PlanExecutionState) SetLastUpdated(
	t time.Time,
) *PlanExecutionState {
	res := *st
	res.LastUpdated = t
	return &res
}

// PendingInterrupt returns the first abort or expire interrupt that
// applies to the given node execution, plan-wide interrupts included.
// Pause and resume are carried by the plan status instead
func (st *PlanExecutionState) PendingInterrupt(
	id NodeExecutionID,
) *Interrupt {
	for _, i := range st.Interrupts {
		if i.Type == InterruptPause || i.Type == InterruptResume {
			continue
		}
		if i.NodeExecutionID == "" || i.NodeExecutionID == id {
			return i
		}
	}
	return nil
}

package api

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

type (
	// NodeExecutionState is the durable record of one node instance in a
	// running plan. It is the aggregate state mutated by the engine and by
	// the SDK response handlers; mutations go through the Set* copy methods
	// so appliers never share backing storage across versions
	NodeExecutionState struct {
		ID              NodeExecutionID            `json:"id"`
		SetupNodeID     SetupNodeID                `json:"setup_node_id"`
		PlanExecutionID PlanExecutionID            `json:"plan_execution_id"`
		ParentID        NodeExecutionID            `json:"parent_id,omitempty"`
		NotifyID        CorrelationID              `json:"notify_id,omitempty"`
		Node            *PlanNode                  `json:"node"`
		Ambiance        *Ambiance                  `json:"ambiance"`
		Status          Status                     `json:"status"`
		Mode            ExecutionMode              `json:"mode,omitempty"`
		ResolvedParams  json.RawMessage            `json:"resolved_params,omitempty"`
		Responses       []*ExecutableResponse      `json:"responses,omitempty"`
		Outcomes        Args                       `json:"outcomes,omitempty"`
		Progress        json.RawMessage            `json:"progress,omitempty"`
		Details         map[string]json.RawMessage `json:"details,omitempty"`
		Failure         *FailureInfo               `json:"failure,omitempty"`
		RetryCount      int                        `json:"retry_count,omitempty"`
		Deadline        time.Time                  `json:"deadline,omitempty"`
		StartedAt       time.Time                  `json:"started_at"`
		EndedAt         time.Time                  `json:"ended_at,omitempty"`
		LastUpdated     time.Time                  `json:"last_updated"`
	}
)

// ActiveResponse returns the most recent executable response, which is the
// only one resumption logic consumes
func (st *NodeExecutionState) ActiveResponse() *ExecutableResponse {
	if len(st.Responses) == 0 {
		return nil
	}
	return st.Responses[len(st.Responses)-1]
}

// SetStatus returns a new state with the updated status
func (st *NodeExecutionState) SetStatus(s Status) *NodeExecutionState {
	res := *st
	res.Status = s
	return &res
}

// SetMode returns a new state with the facilitation mode set
func (st *NodeExecutionState) SetMode(m ExecutionMode) *NodeExecutionState {
	res := *st
	res.Mode = m
	return &res
}

// SetResolvedParams returns a new state with resolved step parameters set
func (st *NodeExecutionState) SetResolvedParams(
	params json.RawMessage,
) *NodeExecutionState {
	res := *st
	res.ResolvedParams = params
	return &res
}

// AddResponse returns a new state with the executable response appended
func (st *NodeExecutionState) AddResponse(
	r *ExecutableResponse,
) *NodeExecutionState {
	res := *st
	res.Responses = append(slices.Clone(st.Responses), r)
	return &res
}

// SetOutcomes returns a new state with the step outcomes set
func (st *NodeExecutionState) SetOutcomes(o Args) *NodeExecutionState {
	res := *st
	res.Outcomes = o.Clone()
	return &res
}

// SetProgress returns a new state with the latest progress payload set
func (st *NodeExecutionState) SetProgress(
	p json.RawMessage,
) *NodeExecutionState {
	res := *st
	res.Progress = p
	return &res
}

// AddDetail returns a new state with a named step-detail blob recorded
func (st *NodeExecutionState) AddDetail(
	name string, data json.RawMessage,
) *NodeExecutionState {
	res := *st
	res.Details = maps.Clone(st.Details)
	if res.Details == nil {
		res.Details = map[string]json.RawMessage{}
	}
	res.Details[name] = data
	return &res
}

// SetFailure returns a new state with the failure info set
func (st *NodeExecutionState) SetFailure(f *FailureInfo) *NodeExecutionState {
	res := *st
	res.Failure = f
	return &res
}

// SetRetryCount returns a new state with the retry count set
func (st *NodeExecutionState) SetRetryCount(c int) *NodeExecutionState {
	res := *st
	res.RetryCount = c
	return &res
}

// SetDeadline returns a new state with the suspension deadline set
func (st *NodeExecutionState) SetDeadline(t time.Time) *NodeExecutionState {
	res := *st
	res.Deadline = t
	return &res
}

// SetEndedAt returns a new state with the completion timestamp set
func (st *NodeExecutionState) SetEndedAt(t time.Time) *NodeExecutionState {
	res := *st
	res.EndedAt = t
	return &res
}

// SetLastUpdated returns a new state with the last updated timestamp set
func (st *NodeExecutionState) SetLastUpdated(
	t time.Time,
) *NodeExecutionState {
	res := *st
	res.LastUpdated = t
	return &res
}

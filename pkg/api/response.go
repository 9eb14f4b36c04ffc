package api

import (
	"encoding/json"
	"time"
)

type (
	// ResponseKind tags the variant of an ExecutableResponse
	ResponseKind string

	// ExecutableResponse describes how a node is currently suspended.
	// Exactly one variant field matching Kind is populated; prior responses
	// stay in the node execution's history for audit
	ExecutableResponse struct {
		Kind      ResponseKind             `json:"kind"`
		Async     *AsyncExecutable         `json:"async,omitempty"`
		Task      *TaskExecutable          `json:"task,omitempty"`
		TaskChain *TaskChainExecutable     `json:"task_chain,omitempty"`
		Restraint *RestraintExecutable     `json:"restraint,omitempty"`
		Suspend   *SuspendChainExecutable  `json:"suspend,omitempty"`
		CreatedAt time.Time                `json:"created_at"`
	}

	// AsyncExecutable records the callback IDs an async step is waiting on
	AsyncExecutable struct {
		CallbackIDs []CorrelationID `json:"callback_ids"`
		Timeout     time.Duration   `json:"timeout,omitempty"`
	}

	// TaskExecutable records a dispatched remote task
	TaskExecutable struct {
		TaskID CorrelationID `json:"task_id"`
	}

	// TaskChainExecutable records a dispatched task plus the spec for the
	// next link in the chain
	TaskChainExecutable struct {
		TaskID   CorrelationID   `json:"task_id"`
		NextSpec json.RawMessage `json:"next_spec,omitempty"`
	}

	// RestraintExecutable records a resource-restraint suspension
	RestraintExecutable struct {
		RestraintID  RestraintID   `json:"restraint_id"`
		ResourceUnit ResourceUnit  `json:"resource_unit"`
		HolderID     CorrelationID `json:"holder_id"`
	}

	// SuspendChainExecutable records a mid-chain suspension awaiting
	// manual or child resumption
	SuspendChainExecutable struct {
		Pending []CorrelationID `json:"pending,omitempty"`
	}
)

const (
	ResponseSync         ResponseKind = "sync"
	ResponseAsync        ResponseKind = "async"
	ResponseTask         ResponseKind = "task"
	ResponseTaskChain    ResponseKind = "task_chain"
	ResponseRestraint    ResponseKind = "resource_restraint"
	ResponseSuspendChain ResponseKind = "suspend_chain"
)

// CallbackIDs returns the correlation IDs this response suspends on
func (r *ExecutableResponse) CallbackIDs() []CorrelationID {
	switch r.Kind {
	case ResponseAsync:
		return r.Async.CallbackIDs
	case ResponseTask:
		return []CorrelationID{r.Task.TaskID}
	case ResponseTaskChain:
		return []CorrelationID{r.TaskChain.TaskID}
	case ResponseRestraint:
		return []CorrelationID{r.Restraint.HolderID}
	case ResponseSuspendChain:
		return r.Suspend.Pending
	}
	return nil
}

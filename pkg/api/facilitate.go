package api

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// ExecutionMode is the facilitator's decision about how a node runs
	ExecutionMode string

	// FacilitatorResponse is the outcome of facilitation. An InitialWait
	// delays invocation; PassThrough is handed opaque to the executor
	FacilitatorResponse struct {
		Mode        ExecutionMode   `json:"mode"`
		InitialWait time.Duration   `json:"initial_wait,omitempty"`
		PassThrough json.RawMessage `json:"pass_through,omitempty"`
	}

	// Facilitator decides how a node should run before execution starts.
	// It must respond exactly once per invocation
	Facilitator interface {
		Facilitate(
			ctx context.Context, ambiance *Ambiance,
			params json.RawMessage,
		) (*FacilitatorResponse, error)
	}
)

const (
	ModeSync      ExecutionMode = "sync"
	ModeAsync     ExecutionMode = "async"
	ModeTask      ExecutionMode = "task"
	ModeTaskChain ExecutionMode = "task_chain"
	ModeChild     ExecutionMode = "child"
	ModeChildren  ExecutionMode = "children"
)

// Valid reports whether the mode is one the engine can dispatch
func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeSync, ModeAsync, ModeTask, ModeTaskChain, ModeChild,
		ModeChildren:
		return true
	}
	return false
}

package api

import "time"

type (
	// AdviseType is the adviser's directive for what happens after a node
	// finishes
	AdviseType string

	// AdviserResponse carries the adviser's directive plus its parameters
	AdviserResponse struct {
		Type       AdviseType    `json:"type"`
		NextNodeID SetupNodeID   `json:"next_node_id,omitempty"`
		RetryWait  time.Duration `json:"retry_wait,omitempty"`
		Message    string        `json:"message,omitempty"`
	}

	// AdvisingEvent is the node-execution snapshot handed to an adviser
	AdvisingEvent struct {
		Ambiance   *Ambiance    `json:"ambiance"`
		Status     Status       `json:"status"`
		Outcomes   Args         `json:"outcomes,omitempty"`
		Failure    *FailureInfo `json:"failure,omitempty"`
		RetryCount int          `json:"retry_count"`
	}

	// Adviser decides what happens after a node finishes. A nil response
	// means the adviser has no opinion and the next one is consulted
	Adviser interface {
		OnAdviseEvent(ev *AdvisingEvent) (*AdviserResponse, error)
	}
)

const (
	AdviseNextStep      AdviseType = "next_step"
	AdviseEndPlan       AdviseType = "end_plan"
	AdviseRetry         AdviseType = "retry"
	AdviseMarkSuccess   AdviseType = "mark_success"
	AdviseMarkFailed    AdviseType = "mark_failed"
	AdviseInterveneWait AdviseType = "intervene_wait"
)

package api

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// FailureType classifies why a step failed
	FailureType string

	// FailureInfo describes a step failure
	FailureInfo struct {
		Message string        `json:"message"`
		Types   []FailureType `json:"types,omitempty"`
	}

	// StepResponse is the terminal outcome of one node execution cycle
	StepResponse struct {
		Status   Status       `json:"status"`
		Outcomes Args         `json:"outcomes,omitempty"`
		Failure  *FailureInfo `json:"failure,omitempty"`
	}

	// AsyncHandle is returned by an executor that completed by registering
	// callbacks instead of producing a terminal response
	AsyncHandle struct {
		CallbackIDs []CorrelationID `json:"callback_ids"`
		Timeout     time.Duration   `json:"timeout,omitempty"`
	}

	// ResponseData is the payload delivered for one resolved correlation ID
	ResponseData struct {
		Data  json.RawMessage `json:"data,omitempty"`
		Error bool            `json:"error,omitempty"`
	}

	// ResponseMap collects resolved correlation payloads for a resumption
	ResponseMap map[CorrelationID]*ResponseData

	// StepExecutor performs the work of one step type. Execute returns
	// either a terminal StepResponse or an AsyncHandle, never both.
	// HandleAsyncResponse re-enters the step with resolved callbacks
	StepExecutor interface {
		Execute(
			ctx context.Context, ambiance *Ambiance,
			params json.RawMessage,
		) (*StepResponse, *AsyncHandle, error)

		HandleAsyncResponse(
			ctx context.Context, ambiance *Ambiance,
			params json.RawMessage, responses ResponseMap,
		) (*StepResponse, error)
	}
)

const (
	FailureTypeApplication   FailureType = "application"
	FailureTypeTimeout       FailureType = "timeout"
	FailureTypeConnectivity  FailureType = "connectivity"
	FailureTypeAuthorization FailureType = "authorization"
	FailureTypeUnknown       FailureType = "unknown"
)

// FailedResponse builds a FAILED step response carrying the error message
func FailedResponse(msg string, types ...FailureType) *StepResponse {
	if len(types) == 0 {
		types = []FailureType{FailureTypeUnknown}
	}
	return &StepResponse{
		Status: StatusFailed,
		Failure: &FailureInfo{
			Message: msg,
			Types:   types,
		},
	}
}

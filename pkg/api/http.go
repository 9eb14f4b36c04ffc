package api

import "encoding/json"

type (
	// ErrorResponse is the JSON body returned on any API failure
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// StartPlanRequest begins a new plan execution. An omitted ID is
	// assigned by the server
	StartPlanRequest struct {
		ID    PlanExecutionID   `json:"id,omitempty"`
		Plan  *Plan             `json:"plan"`
		Setup SetupAbstractions `json:"setup,omitempty"`
	}

	// StartPlanResponse returns the identifiers of a started execution
	StartPlanResponse struct {
		ID       PlanExecutionID `json:"id"`
		Ambiance *Ambiance       `json:"ambiance"`
	}

	// DoneWithRequest completes a correlation ID from an external worker
	DoneWithRequest struct {
		Data    json.RawMessage `json:"data,omitempty"`
		IsError bool            `json:"is_error,omitempty"`
	}

	// ProgressRequest reports interim progress against a correlation ID
	ProgressRequest struct {
		Data json.RawMessage `json:"data,omitempty"`
	}

	// InterruptRequest registers an external interrupt on a plan
	InterruptRequest struct {
		Type            InterruptType   `json:"type"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id,omitempty"`
		Reason          string          `json:"reason,omitempty"`
	}

	// ClientSubscription filters the event stream a WebSocket client sees
	ClientSubscription struct {
		AggregateID []string    `json:"aggregate_id,omitempty"`
		EventTypes  []EventType `json:"event_types,omitempty"`
	}

	// SubscribeRequest is the only message a WebSocket client sends
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// SubscribedResult acknowledges a subscription with current state
	SubscribedResult struct {
		Type        string          `json:"type"`
		AggregateID []string        `json:"aggregate_id"`
		Data        json.RawMessage `json:"data,omitempty"`
		Sequence    int64           `json:"sequence"`
	}

	// WebSocketEvent is one streamed aggregate event
	WebSocketEvent struct {
		Type        EventType       `json:"type"`
		AggregateID []string        `json:"aggregate_id"`
		Data        json.RawMessage `json:"data,omitempty"`
		Timestamp   int64           `json:"timestamp"`
		Sequence    int64           `json:"sequence"`
	}

	// HealthResponse reports liveness plus basic build identity
	HealthResponse struct {
		Status  string `json:"status"`
		Name    string `json:"name"`
		Version string `json:"version"`
	}
)

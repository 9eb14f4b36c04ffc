package api

import "encoding/json"

type (
	// SdkEventKind keys the dispatcher's handler table. One handler exists
	// per kind; unknown kinds fail the owning node rather than the engine
	SdkEventKind string

	// SdkEvent is the envelope for an inbound async event from a step
	// executor. Delivery is at-least-once; handlers tolerate duplicates
	SdkEvent struct {
		Kind            SdkEventKind    `json:"kind"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id"`
		Payload         json.RawMessage `json:"payload,omitempty"`
	}

	QueueTaskRequestPayload struct {
		Task         *TaskSpec       `json:"task"`
		Chain        bool            `json:"chain,omitempty"`
		NextSpec     json.RawMessage `json:"next_spec,omitempty"`
		InitialDelay int64           `json:"initial_delay,omitempty"`
	}

	FacilitatorResponsePayload struct {
		Response *FacilitatorResponse `json:"response,omitempty"`
		Failure  *FailureInfo         `json:"failure,omitempty"`
	}

	HandleStepResponsePayload struct {
		Response   *StepResponse       `json:"response"`
		Executable *ExecutableResponse `json:"executable,omitempty"`
	}

	AdviserResponsePayload struct {
		Response *AdviserResponse `json:"response"`
	}

	SuspendChainRequestPayload struct {
		Executable *ExecutableResponse `json:"executable"`
		Responses  ResponseMap         `json:"responses,omitempty"`
		IsError    bool                `json:"is_error,omitempty"`
	}

	HandleProgressPayload struct {
		Data json.RawMessage `json:"data,omitempty"`
	}

	AddStepDetailsPayload struct {
		Name string          `json:"name"`
		Data json.RawMessage `json:"data,omitempty"`
	}

	QueueNodeExecutionPayload struct {
		Node     *PlanNode     `json:"node"`
		Ambiance *Ambiance     `json:"ambiance"`
		NotifyID CorrelationID `json:"notify_id,omitempty"`
	}
)

const (
	SdkQueueTaskRequest    SdkEventKind = "queue_task_request"
	SdkFacilitatorResponse SdkEventKind = "facilitator_response"
	SdkHandleStepResponse  SdkEventKind = "handle_step_response"
	SdkAdviserResponse     SdkEventKind = "adviser_response"
	SdkSuspendChainRequest SdkEventKind = "suspend_chain_request"
	SdkHandleProgress      SdkEventKind = "handle_progress"
	SdkAddStepDetails      SdkEventKind = "add_step_details"
	SdkQueueNodeExecution  SdkEventKind = "queue_node_execution"
)

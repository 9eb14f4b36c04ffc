package api

import (
	"encoding/json"
	"time"
)

// EventType identifies an event applied to one of the engine's aggregates
type EventType string

const (
	// Node execution events
	EventTypeNodeCreated        EventType = "node.created"
	EventTypeNodeParamsResolved EventType = "node.params_resolved"
	EventTypeNodeFacilitated    EventType = "node.facilitated"
	EventTypeNodeStatusChanged  EventType = "node.status_changed"
	EventTypeNodeResponseAdded  EventType = "node.response_added"
	EventTypeNodeConcluded      EventType = "node.concluded"
	EventTypeNodeProgress       EventType = "node.progress"
	EventTypeNodeDetailAdded    EventType = "node.detail_added"
	EventTypeNodeRetryScheduled EventType = "node.retry_scheduled"

	// Plan execution events
	EventTypePlanStarted         EventType = "plan.started"
	EventTypePlanNodeRecorded    EventType = "plan.node_recorded"
	EventTypePlanStatusChanged   EventType = "plan.status_changed"
	EventTypeInterruptRegistered EventType = "plan.interrupt_registered"

	// Correlation events
	EventTypeWaiterRegistered EventType = "corr.waiter_registered"
	EventTypeWaiterRemoved    EventType = "corr.waiter_removed"
	EventTypeNotifyRecorded   EventType = "corr.notify_recorded"
	EventTypeNotifyReaped     EventType = "corr.notify_reaped"

	// Wait instance events
	EventTypeWaitCreated    EventType = "wait.created"
	EventTypeWaitResolved   EventType = "wait.resolved"
	EventTypeWaitProgressed EventType = "wait.progressed"
	EventTypeWaitDelivered  EventType = "wait.delivered"

	// Resource restraint events
	EventTypeRestraintRequested EventType = "restraint.requested"
	EventTypeRestraintActivated EventType = "restraint.activated"
	EventTypeRestraintFinished  EventType = "restraint.finished"
)

type (
	NodeCreatedEvent struct {
		ID              NodeExecutionID `json:"id"`
		SetupNodeID     SetupNodeID     `json:"setup_node_id"`
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
		ParentID        NodeExecutionID `json:"parent_id,omitempty"`
		NotifyID        CorrelationID   `json:"notify_id,omitempty"`
		Node            *PlanNode       `json:"node"`
		Ambiance        *Ambiance       `json:"ambiance"`
		RetryCount      int             `json:"retry_count,omitempty"`
	}

	NodeParamsResolvedEvent struct {
		ID     NodeExecutionID `json:"id"`
		Params json.RawMessage `json:"params,omitempty"`
	}

	NodeFacilitatedEvent struct {
		ID   NodeExecutionID `json:"id"`
		Mode ExecutionMode   `json:"mode"`
	}

	NodeStatusChangedEvent struct {
		ID       NodeExecutionID `json:"id"`
		Status   Status          `json:"status"`
		Deadline time.Time       `json:"deadline,omitempty"`
	}

	NodeResponseAddedEvent struct {
		ID       NodeExecutionID     `json:"id"`
		Response *ExecutableResponse `json:"response"`
	}

	NodeConcludedEvent struct {
		ID       NodeExecutionID `json:"id"`
		Status   Status          `json:"status"`
		Outcomes Args            `json:"outcomes,omitempty"`
		Failure  *FailureInfo    `json:"failure,omitempty"`
	}

	NodeProgressEvent struct {
		ID   NodeExecutionID `json:"id"`
		Data json.RawMessage `json:"data,omitempty"`
	}

	NodeDetailAddedEvent struct {
		ID   NodeExecutionID `json:"id"`
		Name string          `json:"name"`
		Data json.RawMessage `json:"data,omitempty"`
	}

	NodeRetryScheduledEvent struct {
		ID         NodeExecutionID `json:"id"`
		RetryCount int             `json:"retry_count"`
	}

	PlanStartedEvent struct {
		ID    PlanExecutionID   `json:"id"`
		Plan  *Plan             `json:"plan"`
		Setup SetupAbstractions `json:"setup,omitempty"`
	}

	PlanNodeRecordedEvent struct {
		ID              PlanExecutionID `json:"id"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id"`
		SetupNodeID     SetupNodeID     `json:"setup_node_id,omitempty"`
		ParentID        NodeExecutionID `json:"parent_id,omitempty"`
		Status          Status          `json:"status"`
	}

	PlanStatusChangedEvent struct {
		ID      PlanExecutionID `json:"id"`
		Status  PlanStatus      `json:"status"`
		Failure *FailureInfo    `json:"failure,omitempty"`
	}

	InterruptRegisteredEvent struct {
		ID        PlanExecutionID `json:"id"`
		Interrupt *Interrupt      `json:"interrupt"`
	}

	WaiterRegisteredEvent struct {
		CorrelationID  CorrelationID  `json:"correlation_id"`
		WaitInstanceID WaitInstanceID `json:"wait_instance_id"`
	}

	WaiterRemovedEvent struct {
		CorrelationID  CorrelationID  `json:"correlation_id"`
		WaitInstanceID WaitInstanceID `json:"wait_instance_id"`
	}

	NotifyRecordedEvent struct {
		CorrelationID CorrelationID   `json:"correlation_id"`
		Data          json.RawMessage `json:"data,omitempty"`
		Error         bool            `json:"error,omitempty"`
	}

	NotifyReapedEvent struct {
		CorrelationID CorrelationID `json:"correlation_id"`
	}

	WaitCreatedEvent struct {
		ID        WaitInstanceID  `json:"id"`
		Publisher string          `json:"publisher"`
		Callback  *CallbackRef    `json:"callback"`
		Progress  *CallbackRef    `json:"progress,omitempty"`
		Pending   []CorrelationID `json:"pending"`
	}

	WaitResolvedEvent struct {
		ID            WaitInstanceID `json:"id"`
		CorrelationID CorrelationID  `json:"correlation_id"`
		Response      *ResponseData  `json:"response,omitempty"`
	}

	WaitProgressedEvent struct {
		ID            WaitInstanceID  `json:"id"`
		CorrelationID CorrelationID   `json:"correlation_id"`
		Data          json.RawMessage `json:"data,omitempty"`
	}

	WaitDeliveredEvent struct {
		ID WaitInstanceID `json:"id"`
	}

	RestraintRequestedEvent struct {
		Instance *RestraintInstance `json:"instance"`
		Capacity int                `json:"capacity"`
	}

	RestraintActivatedEvent struct {
		InstanceID   RestraintInstanceID `json:"instance_id"`
		ResourceUnit ResourceUnit        `json:"resource_unit"`
	}

	RestraintFinishedEvent struct {
		InstanceID   RestraintInstanceID `json:"instance_id"`
		ResourceUnit ResourceUnit        `json:"resource_unit"`
	}
)

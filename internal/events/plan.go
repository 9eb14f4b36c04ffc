package events

import (
	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/pkg/api"
)

const PlanPrefix = "plan"

// PlanAppliers contains the event applier functions for plan executions
var PlanAppliers = makePlanAppliers()

// NewPlanState creates an empty plan execution state
func NewPlanState() *api.PlanExecutionState {
	return &api.PlanExecutionState{
		Nodes: map[api.NodeExecutionID]*api.NodeRecord{},
	}
}

// PlanKey returns the aggregate ID for a plan execution
func PlanKey[T ~string](id T) timebox.AggregateID {
	return timebox.NewAggregateID(PlanPrefix, timebox.ID(id))
}

// IsPlanEvent returns true if the event belongs to a plan aggregate
func IsPlanEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == PlanPrefix
}

func makePlanAppliers() timebox.Appliers[*api.PlanExecutionState] {
	return MakeAppliers(
		map[api.EventType]timebox.Applier[*api.PlanExecutionState]{
			api.EventTypePlanStarted: timebox.MakeApplier(planStarted),
			api.EventTypePlanNodeRecorded: timebox.MakeApplier(
				planNodeRecorded,
			),
			api.EventTypePlanStatusChanged: timebox.MakeApplier(
				planStatusChanged,
			),
			api.EventTypeInterruptRegistered: timebox.MakeApplier(
				interruptRegistered,
			),
		},
	)
}

func planStarted(
	_ *api.PlanExecutionState, ev *timebox.Event, data api.PlanStartedEvent,
) *api.PlanExecutionState {
	return &api.PlanExecutionState{
		ID:          data.ID,
		Plan:        data.Plan,
		Setup:       data.Setup,
		Status:      api.PlanRunning,
		Nodes:       map[api.NodeExecutionID]*api.NodeRecord{},
		CreatedAt:   ev.Timestamp,
		LastUpdated: ev.Timestamp,
	}
}

func planNodeRecorded(
	st *api.PlanExecutionState, ev *timebox.Event,
	data api.PlanNodeRecordedEvent,
) *api.PlanExecutionState {
	rec := &api.NodeRecord{
		SetupNodeID: data.SetupNodeID,
		ParentID:    data.ParentID,
		Status:      data.Status,
	}
	// status updates omit the identity fields; keep the originals
	if prev, ok := st.Nodes[data.NodeExecutionID]; ok {
		if rec.SetupNodeID == "" {
			rec.SetupNodeID = prev.SetupNodeID
		}
		if rec.ParentID == "" {
			rec.ParentID = prev.ParentID
		}
	}
	return st.
		SetNode(data.NodeExecutionID, rec).
		SetLastUpdated(ev.Timestamp)
}

func planStatusChanged(
	st *api.PlanExecutionState, ev *timebox.Event,
	data api.PlanStatusChangedEvent,
) *api.PlanExecutionState {
	res := st.
		SetStatus(data.Status).
		SetLastUpdated(ev.Timestamp)
	if data.Failure != nil {
		res = res.SetFailure(data.Failure)
	}
	if data.Status.IsTerminal() {
		res = res.SetEndedAt(ev.Timestamp)
	}
	return res
}

func interruptRegistered(
	st *api.PlanExecutionState, ev *timebox.Event,
	data api.InterruptRegisteredEvent,
) *api.PlanExecutionState {
	return st.
		AddInterrupt(data.Interrupt).
		SetLastUpdated(ev.Timestamp)
}

package events

import (
	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/pkg/api"
)

const NodePrefix = "node"

// NodeAppliers contains the event applier functions for node executions
var NodeAppliers = makeNodeAppliers()

// NewNodeState creates an empty node execution state
func NewNodeState() *api.NodeExecutionState {
	return &api.NodeExecutionState{}
}

// NodeKey returns the aggregate ID for a node execution
func NodeKey[T ~string](id T) timebox.AggregateID {
	return timebox.NewAggregateID(NodePrefix, timebox.ID(id))
}

// IsNodeEvent returns true if the event belongs to a node aggregate
func IsNodeEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == NodePrefix
}

func makeNodeAppliers() timebox.Appliers[*api.NodeExecutionState] {
	return MakeAppliers(
		map[api.EventType]timebox.Applier[*api.NodeExecutionState]{
			api.EventTypeNodeCreated: timebox.MakeApplier(nodeCreated),
			api.EventTypeNodeParamsResolved: timebox.MakeApplier(
				nodeParamsResolved,
			),
			api.EventTypeNodeFacilitated: timebox.MakeApplier(
				nodeFacilitated,
			),
			api.EventTypeNodeStatusChanged: timebox.MakeApplier(
				nodeStatusChanged,
			),
			api.EventTypeNodeResponseAdded: timebox.MakeApplier(
				nodeResponseAdded,
			),
			api.EventTypeNodeConcluded: timebox.MakeApplier(nodeConcluded),
			api.EventTypeNodeProgress:  timebox.MakeApplier(nodeProgress),
			api.EventTypeNodeDetailAdded: timebox.MakeApplier(
				nodeDetailAdded,
			),
			api.EventTypeNodeRetryScheduled: timebox.MakeApplier(
				nodeRetryScheduled,
			),
		},
	)
}

func nodeCreated(
	_ *api.NodeExecutionState, ev *timebox.Event, data api.NodeCreatedEvent,
) *api.NodeExecutionState {
	return &api.NodeExecutionState{
		ID:              data.ID,
		SetupNodeID:     data.SetupNodeID,
		PlanExecutionID: data.PlanExecutionID,
		ParentID:        data.ParentID,
		NotifyID:        data.NotifyID,
		Node:            data.Node,
		Ambiance:        data.Ambiance,
		Status:          api.StatusQueued,
		RetryCount:      data.RetryCount,
		StartedAt:       ev.Timestamp,
		LastUpdated:     ev.Timestamp,
	}
}

func nodeParamsResolved(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeParamsResolvedEvent,
) *api.NodeExecutionState {
	return st.
		SetResolvedParams(data.Params).
		SetLastUpdated(ev.Timestamp)
}

func nodeFacilitated(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeFacilitatedEvent,
) *api.NodeExecutionState {
	return st.
		SetMode(data.Mode).
		SetLastUpdated(ev.Timestamp)
}

func nodeStatusChanged(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeStatusChangedEvent,
) *api.NodeExecutionState {
	res := st.
		SetStatus(data.Status).
		SetLastUpdated(ev.Timestamp)
	if !data.Deadline.IsZero() {
		res = res.SetDeadline(data.Deadline)
	}
	return res
}

func nodeResponseAdded(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeResponseAddedEvent,
) *api.NodeExecutionState {
	return st.
		AddResponse(data.Response).
		SetLastUpdated(ev.Timestamp)
}

func nodeConcluded(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeConcludedEvent,
) *api.NodeExecutionState {
	res := st.
		SetStatus(data.Status).
		SetEndedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
	if data.Outcomes != nil {
		res = res.SetOutcomes(data.Outcomes)
	}
	if data.Failure != nil {
		res = res.SetFailure(data.Failure)
	}
	return res
}

func nodeProgress(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeProgressEvent,
) *api.NodeExecutionState {
	return st.
		SetProgress(data.Data).
		SetLastUpdated(ev.Timestamp)
}

func nodeDetailAdded(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeDetailAddedEvent,
) *api.NodeExecutionState {
	return st.
		AddDetail(data.Name, data.Data).
		SetLastUpdated(ev.Timestamp)
}

func nodeRetryScheduled(
	st *api.NodeExecutionState, ev *timebox.Event,
	data api.NodeRetryScheduledEvent,
) *api.NodeExecutionState {
	return st.
		SetRetryCount(data.RetryCount).
		SetLastUpdated(ev.Timestamp)
}

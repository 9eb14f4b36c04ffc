package events

import (
	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/pkg/api"
)

const RestraintPrefix = "restraint"

// RestraintAppliers contains applier functions for restraint units
var RestraintAppliers = makeRestraintAppliers()

// NewRestraintState creates an empty restraint unit state
func NewRestraintState() *api.RestraintUnitState {
	return &api.RestraintUnitState{}
}

// RestraintKey returns the aggregate ID for one contended resource unit.
// All instances competing for the same unit share an aggregate, so
// admission decisions are linearized by the store
func RestraintKey(
	id api.RestraintID, unit api.ResourceUnit,
) timebox.AggregateID {
	return timebox.NewAggregateID(
		RestraintPrefix, timebox.ID(string(id)+"/"+string(unit)),
	)
}

func makeRestraintAppliers() timebox.Appliers[*api.RestraintUnitState] {
	return MakeAppliers(
		map[api.EventType]timebox.Applier[*api.RestraintUnitState]{
			api.EventTypeRestraintRequested: timebox.MakeApplier(
				restraintRequested,
			),
			api.EventTypeRestraintActivated: timebox.MakeApplier(
				restraintActivated,
			),
			api.EventTypeRestraintFinished: timebox.MakeApplier(
				restraintFinished,
			),
		},
	)
}

func restraintRequested(
	st *api.RestraintUnitState, ev *timebox.Event,
	data api.RestraintRequestedEvent,
) *api.RestraintUnitState {
	res := st.
		SetInstance(data.Instance).
		SetCapacity(data.Capacity).
		SetLastUpdated(ev.Timestamp)
	res.RestraintID = data.Instance.RestraintID
	res.ResourceUnit = data.Instance.ResourceUnit
	return res
}

func restraintActivated(
	st *api.RestraintUnitState, ev *timebox.Event,
	data api.RestraintActivatedEvent,
) *api.RestraintUnitState {
	return setInstanceState(
		st, data.InstanceID, api.RestraintActive, ev,
	)
}

func restraintFinished(
	st *api.RestraintUnitState, ev *timebox.Event,
	data api.RestraintFinishedEvent,
) *api.RestraintUnitState {
	return setInstanceState(
		st, data.InstanceID, api.RestraintFinished, ev,
	)
}

func setInstanceState(
	st *api.RestraintUnitState, id api.RestraintInstanceID,
	to api.RestraintInstanceState, ev *timebox.Event,
) *api.RestraintUnitState {
	i, ok := st.Instances[id]
	if !ok {
		return st
	}
	return st.
		SetInstance(i.SetState(to)).
		SetLastUpdated(ev.Timestamp)
}

package events

import (
	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/pkg/api"
)

const (
	CorrelationPrefix  = "corr"
	WaitInstancePrefix = "wait"
)

var (
	// CorrelationAppliers contains applier functions for correlation IDs
	CorrelationAppliers = makeCorrelationAppliers()

	// WaitAppliers contains applier functions for wait instances
	WaitAppliers = makeWaitAppliers()
)

// NewCorrelationState creates an empty correlation state
func NewCorrelationState() *api.CorrelationState {
	return &api.CorrelationState{}
}

// NewWaitState creates an empty wait instance state
func NewWaitState() *api.WaitInstanceState {
	return &api.WaitInstanceState{}
}

// CorrelationKey returns the aggregate ID for a correlation ID
func CorrelationKey[T ~string](id T) timebox.AggregateID {
	return timebox.NewAggregateID(CorrelationPrefix, timebox.ID(id))
}

// WaitKey returns the aggregate ID for a wait instance
func WaitKey[T ~string](id T) timebox.AggregateID {
	return timebox.NewAggregateID(WaitInstancePrefix, timebox.ID(id))
}

func makeCorrelationAppliers() timebox.Appliers[*api.CorrelationState] {
	return MakeAppliers(
		map[api.EventType]timebox.Applier[*api.CorrelationState]{
			api.EventTypeWaiterRegistered: timebox.MakeApplier(
				waiterRegistered,
			),
			api.EventTypeWaiterRemoved: timebox.MakeApplier(waiterRemoved),
			api.EventTypeNotifyRecorded: timebox.MakeApplier(
				notifyRecorded,
			),
			api.EventTypeNotifyReaped: timebox.MakeApplier(notifyReaped),
		},
	)
}

func makeWaitAppliers() timebox.Appliers[*api.WaitInstanceState] {
	return MakeAppliers(
		map[api.EventType]timebox.Applier[*api.WaitInstanceState]{
			api.EventTypeWaitCreated:    timebox.MakeApplier(waitCreated),
			api.EventTypeWaitResolved:   timebox.MakeApplier(waitResolved),
			api.EventTypeWaitProgressed: timebox.MakeApplier(waitProgressed),
			api.EventTypeWaitDelivered:  timebox.MakeApplier(waitDelivered),
		},
	)
}

func waiterRegistered(
	st *api.CorrelationState, ev *timebox.Event,
	data api.WaiterRegisteredEvent,
) *api.CorrelationState {
	res := st.
		AddWaiter(data.WaitInstanceID).
		SetLastUpdated(ev.Timestamp)
	res.ID = data.CorrelationID
	return res
}

func waiterRemoved(
	st *api.CorrelationState, ev *timebox.Event,
	data api.WaiterRemovedEvent,
) *api.CorrelationState {
	return st.
		RemoveWaiter(data.WaitInstanceID).
		SetLastUpdated(ev.Timestamp)
}

func notifyRecorded(
	st *api.CorrelationState, ev *timebox.Event,
	data api.NotifyRecordedEvent,
) *api.CorrelationState {
	res := st.
		SetNotify(&api.NotifyResponse{
			CorrelationID: data.CorrelationID,
			Data:          data.Data,
			Error:         data.Error,
			CreatedAt:     ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
	res.ID = data.CorrelationID
	return res
}

func notifyReaped(
	st *api.CorrelationState, ev *timebox.Event, _ api.NotifyReapedEvent,
) *api.CorrelationState {
	return st.
		SetNotify(nil).
		SetLastUpdated(ev.Timestamp)
}

func waitCreated(
	_ *api.WaitInstanceState, ev *timebox.Event, data api.WaitCreatedEvent,
) *api.WaitInstanceState {
	return &api.WaitInstanceState{
		ID:          data.ID,
		Publisher:   data.Publisher,
		Callback:    data.Callback,
		Progress:    data.Progress,
		Pending:     data.Pending,
		Responses:   api.ResponseMap{},
		CreatedAt:   ev.Timestamp,
		LastUpdated: ev.Timestamp,
	}
}

func waitResolved(
	st *api.WaitInstanceState, ev *timebox.Event, data api.WaitResolvedEvent,
) *api.WaitInstanceState {
	return st.
		RemovePending(data.CorrelationID, data.Response).
		SetLastUpdated(ev.Timestamp)
}

func waitProgressed(
	st *api.WaitInstanceState, ev *timebox.Event,
	_ api.WaitProgressedEvent,
) *api.WaitInstanceState {
	// progress payloads are delivered to callbacks, not retained in state
	return st.SetLastUpdated(ev.Timestamp)
}

func waitDelivered(
	st *api.WaitInstanceState, ev *timebox.Event, _ api.WaitDeliveredEvent,
) *api.WaitInstanceState {
	return st.
		SetDelivered().
		SetLastUpdated(ev.Timestamp)
}

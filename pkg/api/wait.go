package api

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

type (
	// CallbackKind names a registered callback constructor. Go has no
	// serialized closures, so a wait instance persists the kind plus JSON
	// parameters and the registry rebuilds the callback at delivery time
	CallbackKind string

	// CallbackRef is the durable reference to a registered callback
	CallbackRef struct {
		Kind   CallbackKind    `json:"kind"`
		Params json.RawMessage `json:"params,omitempty"`
	}

	// WaitInstanceState is the aggregate state of one WaitForAllOn call
	WaitInstanceState struct {
		ID          WaitInstanceID  `json:"id"`
		Publisher   string          `json:"publisher"`
		Callback    *CallbackRef    `json:"callback"`
		Progress    *CallbackRef    `json:"progress,omitempty"`
		Pending     []CorrelationID `json:"pending"`
		Responses   ResponseMap     `json:"responses,omitempty"`
		Delivered   bool            `json:"delivered,omitempty"`
		CreatedAt   time.Time       `json:"created_at"`
		LastUpdated time.Time       `json:"last_updated"`
	}

	// NotifyResponse is the durable record of one completed correlation ID
	NotifyResponse struct {
		CorrelationID CorrelationID   `json:"correlation_id"`
		Data          json.RawMessage `json:"data,omitempty"`
		Error         bool            `json:"error,omitempty"`
		CreatedAt     time.Time       `json:"created_at"`
	}

	// CorrelationState is the aggregate state of one correlation ID: the
	// wait instances referencing it plus, once DoneWith has run, the
	// notify response. Keeping both sides in one aggregate makes the
	// register/notify race converge regardless of call order
	CorrelationState struct {
		ID          CorrelationID    `json:"id"`
		Waiters     []WaitInstanceID `json:"waiters,omitempty"`
		Notify      *NotifyResponse  `json:"notify,omitempty"`
		LastUpdated time.Time        `json:"last_updated"`
	}
)

// Resolved returns true once all correlation IDs have been observed
func (st *WaitInstanceState) Resolved() bool {
	return len(st.Pending) == 0
}

// RemovePending returns a new state with the correlation ID removed from
// the outstanding set and its response recorded
func (st *WaitInstanceState) RemovePending(
	id CorrelationID, data *ResponseData,
) *WaitInstanceState {
	res := *st
	res.Pending = slices.DeleteFunc(slices.Clone(st.Pending),
		func(c CorrelationID) bool { return c == id })
	res.Responses = maps.Clone(st.Responses)
	if res.Responses == nil {
		res.Responses = ResponseMap{}
	}
	res.Responses[id] = data
	return &res
}

// SetDelivered returns a new state marked as having fired its callback
func (st *WaitInstanceState) SetDelivered() *WaitInstanceState {
	res := *st
	res.Delivered = true
	return &res
}

// SetLastUpdated returns a new state with the last updated timestamp set
func (st *WaitInstanceState) SetLastUpdated(
	t time.Time,
) *WaitInstanceState {
	res := *st
	res.LastUpdated = t
	return &res
}

// AddWaiter returns a new state with the wait instance registered
func (st *CorrelationState) AddWaiter(
	id WaitInstanceID,
) *CorrelationState {
	res := *st
	if slices.Contains(st.Waiters, id) {
		return &res
	}
	res.Waiters = append(slices.Clone(st.Waiters), id)
	return &res
}

// RemoveWaiter returns a new state with the wait instance removed
func (st *CorrelationState) RemoveWaiter(
	id WaitInstanceID,
) *CorrelationState {
	res := *st
	res.Waiters = slices.DeleteFunc(slices.Clone(st.Waiters),
		func(w WaitInstanceID) bool { return w == id })
	return &res
}

// SetNotify returns a new state with the notify response recorded
func (st *CorrelationState) SetNotify(
	n *NotifyResponse,
) *CorrelationState {
	res := *st
	res.Notify = n
	return &res
}

// SetLastUpdated returns a new state with the last updated timestamp set
func (st *CorrelationState) SetLastUpdated(t time.Time) *CorrelationState {
	res := *st
	res.LastUpdated = t
	return &res
}

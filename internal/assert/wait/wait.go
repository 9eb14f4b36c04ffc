package wait

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/util"
)

type (
	// Wait consumes hub events until enough matches arrive or a
	// timeout fires the test
	Wait struct {
		t        *testing.T
		consumer topic.Consumer[*timebox.Event]
		timeout  time.Duration
	}

	Predicate[T any] func(T) bool

	EventFilter Predicate[*timebox.Event]

	planEvent struct {
		ID     api.PlanExecutionID `json:"id"`
		Status api.PlanStatus      `json:"status"`
	}

	nodeEvent struct {
		ID     api.NodeExecutionID `json:"id"`
		Status api.Status          `json:"status"`
	}
)

const DefaultTimeout = time.Second * 5

// On creates a waiter over the given consumer
func On(t *testing.T, consumer topic.Consumer[*timebox.Event]) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer
func (w *Wait) ForEvents(count int, filter EventFilter) {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	for seen := 0; seen < count; {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			seen++
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) {
	w.ForEvents(1, filter)
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...api.EventType) EventFilter {
	if len(eventTypes) == 0 {
		return func(*timebox.Event) bool { return false }
	}
	lookup := make(util.Set[timebox.EventType], len(eventTypes))
	for _, et := range eventTypes {
		lookup.Add(timebox.EventType(et))
	}
	return func(ev *timebox.Event) bool {
		return lookup.Contains(ev.Type)
	}
}

// PlanStarted matches plan started events for the provided plan IDs
func PlanStarted(ids ...api.PlanExecutionID) EventFilter {
	return And(Type(api.EventTypePlanStarted), PlanIDs(ids...))
}

// PlanStatus matches a status change on the provided plan
func PlanStatus(id api.PlanExecutionID, status api.PlanStatus) EventFilter {
	return And(
		Type(api.EventTypePlanStatusChanged),
		Unmarshal(func(data planEvent) bool {
			return data.ID == id && data.Status == status
		}),
	)
}

// PlanTerminal matches any terminal status change for the provided plans
func PlanTerminal(ids ...api.PlanExecutionID) EventFilter {
	return And(
		Type(api.EventTypePlanStatusChanged),
		Unmarshal(func(data planEvent) bool {
			return data.Status.IsTerminal()
		}),
		PlanIDs(ids...),
	)
}

// NodeCreated matches node created events for the provided node IDs
func NodeCreated(ids ...api.NodeExecutionID) EventFilter {
	return And(Type(api.EventTypeNodeCreated), NodeIDs(ids...))
}

// NodeStatus matches a status change on the provided node
func NodeStatus(id api.NodeExecutionID, status api.Status) EventFilter {
	return And(
		Type(api.EventTypeNodeStatusChanged),
		Unmarshal(func(data nodeEvent) bool {
			return data.ID == id && data.Status == status
		}),
	)
}

// NodeConcluded matches concluded events for the provided node IDs
func NodeConcluded(ids ...api.NodeExecutionID) EventFilter {
	return And(Type(api.EventTypeNodeConcluded), NodeIDs(ids...))
}

// NodeConcludedWith matches a concluded event with a specific status
func NodeConcludedWith(
	id api.NodeExecutionID, status api.Status,
) EventFilter {
	return And(
		Type(api.EventTypeNodeConcluded),
		Unmarshal(func(data nodeEvent) bool {
			return data.ID == id && data.Status == status
		}),
	)
}

// NodeRetryScheduled matches retry scheduled events for the node IDs
func NodeRetryScheduled(ids ...api.NodeExecutionID) EventFilter {
	return And(Type(api.EventTypeNodeRetryScheduled), NodeIDs(ids...))
}

// PlanIDs matches events addressed to the provided plan IDs, removing
// each ID as it is seen
func PlanIDs(ids ...api.PlanExecutionID) EventFilter {
	expected := make(util.Set[api.PlanExecutionID], len(ids))
	for _, id := range ids {
		expected.Add(id)
	}
	return Unmarshal(func(data planEvent) bool {
		if expected.Contains(data.ID) {
			expected.Remove(data.ID)
			return true
		}
		return false
	})
}

// NodeIDs matches events addressed to the provided node IDs, removing
// each ID as it is seen
func NodeIDs(ids ...api.NodeExecutionID) EventFilter {
	expected := make(util.Set[api.NodeExecutionID], len(ids))
	for _, id := range ids {
		expected.Add(id)
	}
	return Unmarshal(func(data nodeEvent) bool {
		if expected.Contains(data.ID) {
			expected.Remove(data.ID)
			return true
		}
		return false
	})
}

// Unmarshal creates a filter that unmarshals event data and applies pred
func Unmarshal[T any](pred Predicate[T]) EventFilter {
	return func(ev *timebox.Event) bool {
		var data T
		if json.Unmarshal(ev.Data, &data) != nil {
			return false
		}
		return pred(data)
	}
}

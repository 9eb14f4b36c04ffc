package helpers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
)

// EventWaiter waits for events matching a filter. Create before
// triggering the action so no event can slip past the subscription
type EventWaiter[T any] struct {
	consumer topic.Consumer[*timebox.Event]
	filter   events.EventFilter
	getState func(context.Context) (T, error)
	desc     string // for error messages
}

// Wait blocks until a matching event and returns the state
func (w *EventWaiter[T]) Wait(
	t *testing.T, ctx context.Context, timeout time.Duration,
) T {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.After(timeout)
	for {
		select {
		case event := <-w.consumer.Receive():
			if event != nil && w.filter(event) {
				state, err := w.getState(ctx)
				assert.NoError(t, err)
				return state
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
		case <-ctx.Done():
			t.FailNow()
		}
	}
}

// SubscribeToPlanTerminal creates a waiter for a plan reaching a
// terminal status
func (env *TestEnv) SubscribeToPlanTerminal(
	planID api.PlanExecutionID,
) *EventWaiter[*api.PlanExecutionState] {
	return &EventWaiter[*api.PlanExecutionState]{
		consumer: env.EventHub.NewConsumer(),
		filter: filterPlanStatus(planID, func(s api.PlanStatus) bool {
			return s.IsTerminal()
		}),
		getState: func(ctx context.Context) (*api.PlanExecutionState, error) {
			return env.Engine.GetPlanExecution(ctx, planID)
		},
		desc: string(planID),
	}
}

// SubscribeToPlanStatus creates a waiter for a specific plan status
func (env *TestEnv) SubscribeToPlanStatus(
	planID api.PlanExecutionID, status api.PlanStatus,
) *EventWaiter[*api.PlanExecutionState] {
	return &EventWaiter[*api.PlanExecutionState]{
		consumer: env.EventHub.NewConsumer(),
		filter: filterPlanStatus(planID, func(s api.PlanStatus) bool {
			return s == status
		}),
		getState: func(ctx context.Context) (*api.PlanExecutionState, error) {
			return env.Engine.GetPlanExecution(ctx, planID)
		},
		desc: string(planID),
	}
}

// SubscribeToNodeConcluded creates a waiter for a node concluding
func (env *TestEnv) SubscribeToNodeConcluded(
	nodeID api.NodeExecutionID,
) *EventWaiter[*api.NodeExecutionState] {
	return &EventWaiter[*api.NodeExecutionState]{
		consumer: env.EventHub.NewConsumer(),
		filter: filterNodeEvents(
			nodeID, api.EventTypeNodeConcluded,
		),
		getState: func(ctx context.Context) (*api.NodeExecutionState, error) {
			return env.Engine.GetNodeExecution(ctx, nodeID)
		},
		desc: string(nodeID),
	}
}

// SubscribeToNodeStatus creates a waiter for node status changes
func (env *TestEnv) SubscribeToNodeStatus(
	nodeID api.NodeExecutionID, statuses ...api.Status,
) *EventWaiter[*api.NodeExecutionState] {
	return &EventWaiter[*api.NodeExecutionState]{
		consumer: env.EventHub.NewConsumer(),
		filter:   filterNodeStatus(nodeID, statuses...),
		getState: func(ctx context.Context) (*api.NodeExecutionState, error) {
			return env.Engine.GetNodeExecution(ctx, nodeID)
		},
		desc: string(nodeID),
	}
}

// Convenience methods that subscribe and wait in one call

func (env *TestEnv) WaitForPlanTerminal(
	t *testing.T, ctx context.Context, planID api.PlanExecutionID,
	timeout time.Duration,
) *api.PlanExecutionState {
	t.Helper()
	return env.SubscribeToPlanTerminal(planID).Wait(t, ctx, timeout)
}

func (env *TestEnv) WaitForNodeConcluded(
	t *testing.T, ctx context.Context, nodeID api.NodeExecutionID,
	timeout time.Duration,
) *api.NodeExecutionState {
	t.Helper()
	return env.SubscribeToNodeConcluded(nodeID).Wait(t, ctx, timeout)
}

func (env *TestEnv) WaitForNodeStatus(
	t *testing.T, ctx context.Context, nodeID api.NodeExecutionID,
	timeout time.Duration, statuses ...api.Status,
) *api.NodeExecutionState {
	t.Helper()
	return env.SubscribeToNodeStatus(nodeID, statuses...).
		Wait(t, ctx, timeout)
}

// Filter helpers

func filterPlanStatus(
	planID api.PlanExecutionID, pred func(api.PlanStatus) bool,
) events.EventFilter {
	typeFilter := events.FilterEvents(
		timebox.EventType(api.EventTypePlanStatusChanged),
	)
	return func(ev *timebox.Event) bool {
		if !typeFilter(ev) {
			return false
		}
		var e api.PlanStatusChangedEvent
		if json.Unmarshal(ev.Data, &e) != nil {
			return false
		}
		return e.ID == planID && pred(e.Status)
	}
}

func filterNodeEvents(
	nodeID api.NodeExecutionID, eventTypes ...api.EventType,
) events.EventFilter {
	typeFilter := events.FilterEvents(toTimeboxTypes(eventTypes)...)
	return func(ev *timebox.Event) bool {
		if !typeFilter(ev) {
			return false
		}
		var e api.NodeConcludedEvent
		if json.Unmarshal(ev.Data, &e) != nil {
			return false
		}
		return e.ID == nodeID
	}
}

func filterNodeStatus(
	nodeID api.NodeExecutionID, statuses ...api.Status,
) events.EventFilter {
	typeFilter := events.FilterEvents(
		timebox.EventType(api.EventTypeNodeStatusChanged),
		timebox.EventType(api.EventTypeNodeConcluded),
	)
	return func(ev *timebox.Event) bool {
		if !typeFilter(ev) {
			return false
		}
		var e api.NodeStatusChangedEvent
		if json.Unmarshal(ev.Data, &e) != nil {
			return false
		}
		if e.ID != nodeID {
			return false
		}
		for _, s := range statuses {
			if e.Status == s {
				return true
			}
		}
		return len(statuses) == 0
	}
}

func toTimeboxTypes(eventTypes []api.EventType) []timebox.EventType {
	result := make([]timebox.EventType, len(eventTypes))
	for i, et := range eventTypes {
		result[i] = timebox.EventType(et)
	}
	return result
}

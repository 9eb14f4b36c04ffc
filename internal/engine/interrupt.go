package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// RegisterInterrupt records an external interrupt against a plan
// execution and applies it to the targeted node, or to the plan itself
// when no node is named. Nodes not yet started observe the interrupt
// when they come up
func (e *Engine) RegisterInterrupt(
	ctx context.Context, planID api.PlanExecutionID, i *api.Interrupt,
) error {
	if i.RegisteredAt.IsZero() {
		i = &api.Interrupt{
			Type:            i.Type,
			NodeExecutionID: i.NodeExecutionID,
			Reason:          i.Reason,
			RegisteredAt:    time.Now(),
		}
	}

	cmd := func(st *api.PlanExecutionState, ag *PlanAggregator) error {
		if st.ID == "" {
			return ErrPlanNotFound
		}
		if st.Status.IsTerminal() {
			return ErrPlanTerminal
		}
		return events.Raise(ag, api.EventTypeInterruptRegistered,
			api.InterruptRegisteredEvent{
				ID:        planID,
				Interrupt: i,
			})
	}
	if _, err := e.planTx(ctx, planID, cmd); err != nil {
		return err
	}

	slog.Info("Interrupt registered",
		log.PlanExecutionID(planID),
		slog.String("interrupt_type", string(i.Type)),
		log.NodeExecutionID(i.NodeExecutionID))
	e.applyInterrupt(ctx, planID, i)
	return nil
}

// applyInterrupt acts on the interrupt immediately where a live target
// exists
func (e *Engine) applyInterrupt(
	ctx context.Context, planID api.PlanExecutionID, i *api.Interrupt,
) {
	switch i.Type {
	case api.InterruptPause:
		e.setPlanStatus(ctx, planID, api.PlanPaused)
	case api.InterruptResume:
		e.setPlanStatus(ctx, planID, api.PlanRunning)
		e.resumeQueuedNodes(ctx, planID)
	case api.InterruptAbort:
		e.interruptNode(ctx, planID, i, api.StatusAborted)
	case api.InterruptExpire:
		e.interruptNode(ctx, planID, i, api.StatusExpired)
	}
}

// interruptNode concludes the targeted node, or every live node when
// the interrupt is plan-wide
func (e *Engine) interruptNode(
	ctx context.Context, planID api.PlanExecutionID, i *api.Interrupt,
	status api.Status,
) {
	failure := &api.FailureInfo{
		Message: i.Reason,
		Types:   []api.FailureType{api.FailureTypeApplication},
	}
	if i.NodeExecutionID != "" {
		e.concludeInterrupted(ctx, i.NodeExecutionID, status, failure)
		return
	}

	plan, err := e.GetPlanExecution(ctx, planID)
	if err != nil {
		slog.Error("Cannot apply plan-wide interrupt",
			log.PlanExecutionID(planID),
			log.Error(err))
		return
	}
	for id, rec := range plan.Nodes {
		if rec.Status.IsTerminal() {
			continue
		}
		e.concludeInterrupted(ctx, id, status, failure)
	}
	e.endPlan(ctx, planID, planStatusFor(status), failure)
}

func (e *Engine) concludeInterrupted(
	ctx context.Context, id api.NodeExecutionID, status api.Status,
	failure *api.FailureInfo,
) {
	st, err := e.concludeNode(ctx, id, status, nil, failure)
	if err != nil {
		slog.Error("Failed to interrupt node",
			log.NodeExecutionID(id),
			log.Error(err))
		return
	}
	e.releaseNodeRestraints(ctx, st)
	e.endTransition(ctx, st)
}

// resumeQueuedNodes restarts nodes a paused plan held in QUEUED
func (e *Engine) resumeQueuedNodes(
	ctx context.Context, planID api.PlanExecutionID,
) {
	plan, err := e.GetPlanExecution(ctx, planID)
	if err != nil {
		return
	}
	for id, rec := range plan.Nodes {
		if rec.Status != api.StatusQueued {
			continue
		}
		st, err := e.GetNodeExecution(ctx, id)
		if err != nil || st.Status != api.StatusQueued {
			continue
		}
		e.starts.enqueue(startRequest{
			ambiance: st.Ambiance,
			node:     st.Node,
			notifyID: st.NotifyID,
		})
	}
}

// setPlanStatus transitions a plan between running and paused
func (e *Engine) setPlanStatus(
	ctx context.Context, id api.PlanExecutionID, status api.PlanStatus,
) {
	cmd := func(st *api.PlanExecutionState, ag *PlanAggregator) error {
		if st.ID == "" {
			return ErrPlanNotFound
		}
		if st.Status == status {
			return nil
		}
		if !planTransitions.CanTransition(st.Status, status) {
			return ErrInvalidTransition
		}
		return events.Raise(ag, api.EventTypePlanStatusChanged,
			api.PlanStatusChangedEvent{
				ID:     id,
				Status: status,
			})
	}
	if _, err := e.planTx(ctx, id, cmd); err != nil {
		slog.Error("Failed to change plan status",
			log.PlanExecutionID(id),
			log.Status(status),
			log.Error(err))
	}
}

// applyPendingInterrupt short-circuits a node start when an interrupt
// already targets it. Returns true when the start must not proceed
func (e *Engine) applyPendingInterrupt(
	ctx context.Context, amb *api.Ambiance, id api.NodeExecutionID,
) bool {
	plan, err := e.GetPlanExecution(ctx, amb.PlanExecutionID)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return true
	}
	if plan.Status.IsTerminal() {
		e.concludeInterrupted(ctx, id, api.StatusAborted,
			&api.FailureInfo{
				Message: "plan execution already concluded",
				Types:   []api.FailureType{api.FailureTypeApplication},
			})
		return true
	}

	i := plan.PendingInterrupt(id)
	if i == nil {
		// A paused plan holds new nodes in QUEUED until resumed
		return plan.Status == api.PlanPaused
	}
	switch i.Type {
	case api.InterruptAbort:
		e.interruptNodeStart(ctx, id, api.StatusAborted, i)
	case api.InterruptExpire:
		e.interruptNodeStart(ctx, id, api.StatusExpired, i)
	}
	return true
}

func (e *Engine) interruptNodeStart(
	ctx context.Context, id api.NodeExecutionID, status api.Status,
	i *api.Interrupt,
) {
	e.concludeInterrupted(ctx, id, status, &api.FailureInfo{
		Message: i.Reason,
		Types:   []api.FailureType{api.FailureTypeApplication},
	})
}

package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// HandleStepResponse concludes a node execution with the step's terminal
// response and hands the result to the node's advisers. Duplicate
// deliveries against an already terminal node are ignored
func (e *Engine) HandleStepResponse(
	ctx context.Context, id api.NodeExecutionID, resp *api.StepResponse,
) error {
	var concluded bool
	st, err := e.nodeTx(ctx, id,
		func(st *api.NodeExecutionState, ag *NodeAggregator) error {
			concluded = false
			if st.ID == "" {
				return ErrNodeNotFound
			}
			if st.Status.IsTerminal() {
				return nil
			}
			concluded = true
			return events.Raise(ag, api.EventTypeNodeConcluded,
				api.NodeConcludedEvent{
					ID:       id,
					Status:   resp.Status,
					Outcomes: resp.Outcomes,
					Failure:  resp.Failure,
				})
		},
	)
	if err != nil {
		return err
	}
	if !concluded {
		slog.Debug("Duplicate step response ignored",
			log.NodeExecutionID(id))
		return nil
	}

	e.recordNodeStatus(ctx, st, st.Status)
	e.deadlines.Remove(ctx, id)
	slog.Info("Node concluded",
		log.NodeExecutionID(id),
		log.PlanExecutionID(st.PlanExecutionID),
		log.Status(st.Status))

	e.releaseNodeRestraints(ctx, st)
	if e.advise(ctx, st) {
		return nil
	}
	e.endTransition(ctx, st)
	return nil
}

// advise consults the node's advisers in declaration order. The first
// non-nil response wins; true means advisement took over the transition
func (e *Engine) advise(
	ctx context.Context, st *api.NodeExecutionState,
) bool {
	advisers := e.registry.Advisers(st.Node.AdviserTypes)
	if len(advisers) == 0 {
		return false
	}

	ev := &api.AdvisingEvent{
		Ambiance:   st.Ambiance,
		Status:     st.Status,
		Outcomes:   st.Outcomes,
		Failure:    st.Failure,
		RetryCount: st.RetryCount,
	}
	for _, adv := range advisers {
		resp, err := adv.OnAdviseEvent(ev)
		if err != nil {
			slog.Warn("Adviser failed",
				log.NodeExecutionID(st.ID),
				log.Error(err))
			continue
		}
		if resp == nil {
			continue
		}
		e.ProcessAdviserResponse(ctx, st.ID, resp)
		return true
	}
	return false
}

// endTransition moves control past a terminal node: notify the waiting
// parent, start the next sibling, or conclude the plan
func (e *Engine) endTransition(
	ctx context.Context, st *api.NodeExecutionState,
) {
	if st.NotifyID != "" {
		e.notifyParent(ctx, st)
		return
	}
	if st.Status == api.StatusSucceeded && st.Node.NextID != "" {
		e.startNextSibling(ctx, st)
		return
	}
	e.endPlan(ctx, st.PlanExecutionID, planStatusFor(st.Status),
		st.Failure)
}

// notifyParent resolves the completion correlation a parent registered
// when it fanned this node out
func (e *Engine) notifyParent(
	ctx context.Context, st *api.NodeExecutionState,
) {
	data, err := json.Marshal(st.Outcomes)
	if err != nil {
		data = nil
	}
	isError := st.Status != api.StatusSucceeded
	if err := e.wait.DoneWith(ctx, st.NotifyID, data, isError); err != nil {
		slog.Error("Failed to notify parent of completion",
			log.NodeExecutionID(st.ID),
			log.CorrelationID(st.NotifyID),
			log.Error(err))
	}
}

// startNextSibling starts the node chained after this one at the same
// nesting level, carrying the parent's notify obligation forward
func (e *Engine) startNextSibling(
	ctx context.Context, st *api.NodeExecutionState,
) {
	plan, err := e.GetPlanExecution(ctx, st.PlanExecutionID)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	next := plan.Plan.Nodes[st.Node.NextID]
	if next == nil {
		e.HandleError(ctx, st.Ambiance, api.ErrDanglingNodeRef)
		return
	}

	amb := st.Ambiance.ForFinish().WithLevel(&api.Level{
		RuntimeID: api.NodeExecutionID(uuid.NewString()),
		SetupID:   next.ID,
		Group:     next.Group,
	})
	e.startChild(amb, next, st.NotifyID)
}

// endPlan concludes the plan execution and releases any restraint
// permits held on its behalf
func (e *Engine) endPlan(
	ctx context.Context, id api.PlanExecutionID, status api.PlanStatus,
	failure *api.FailureInfo,
) {
	var changed bool
	cmd := func(st *api.PlanExecutionState, ag *PlanAggregator) error {
		changed = false
		if st.ID == "" {
			return ErrPlanNotFound
		}
		if st.Status.IsTerminal() {
			return nil
		}
		changed = true
		return events.Raise(ag, api.EventTypePlanStatusChanged,
			api.PlanStatusChangedEvent{
				ID:      id,
				Status:  status,
				Failure: failure,
			})
	}
	if _, err := e.planTx(ctx, id, cmd); err != nil {
		slog.Error("Failed to conclude plan",
			log.PlanExecutionID(id),
			log.Error(err))
		return
	}
	if !changed {
		return
	}

	slog.Info("Plan execution concluded",
		log.PlanExecutionID(id),
		log.Status(status))
	if e.restraint != nil {
		err := e.restraint.FinishAllFor(
			ctx, api.ReleaseEntityPlan, string(id),
		)
		if err != nil {
			slog.Warn("Failed to release plan restraints",
				log.PlanExecutionID(id),
				log.Error(err))
		}
	}
}

// releaseNodeRestraints frees permits held with this node execution as
// their release entity
func (e *Engine) releaseNodeRestraints(
	ctx context.Context, st *api.NodeExecutionState,
) {
	if e.restraint == nil {
		return
	}
	err := e.restraint.FinishAllFor(
		ctx, api.ReleaseEntityNode, string(st.ID),
	)
	if err != nil {
		slog.Warn("Failed to release node restraints",
			log.NodeExecutionID(st.ID),
			log.Error(err))
	}
}

// planStatusFor maps a terminal node status onto the plan status it
// implies when the node is last in its chain
func planStatusFor(s api.Status) api.PlanStatus {
	switch s {
	case api.StatusSucceeded:
		return api.PlanSucceeded
	case api.StatusAborted:
		return api.PlanAborted
	case api.StatusExpired:
		return api.PlanExpired
	default:
		return api.PlanFailed
	}
}

// concludeNode force-writes a terminal status, outcomes, and failure
// onto a node. Advisement uses it to override a previous conclusion
func (e *Engine) concludeNode(
	ctx context.Context, id api.NodeExecutionID, status api.Status,
	outcomes api.Args, failure *api.FailureInfo,
) (*api.NodeExecutionState, error) {
	st, err := e.nodeTx(ctx, id,
		func(st *api.NodeExecutionState, ag *NodeAggregator) error {
			if st.ID == "" {
				return ErrNodeNotFound
			}
			if st.Status == status {
				return nil
			}
			return events.Raise(ag, api.EventTypeNodeConcluded,
				api.NodeConcludedEvent{
					ID:       id,
					Status:   status,
					Outcomes: outcomes,
					Failure:  failure,
				})
		},
	)
	if err != nil {
		return nil, err
	}
	e.recordNodeStatus(ctx, st, status)
	e.deadlines.Remove(ctx, id)
	return st, nil
}

// expireNode concludes a node whose suspension deadline has passed
func (e *Engine) expireNode(ctx context.Context, id api.NodeExecutionID) {
	st, err := e.GetNodeExecution(ctx, id)
	if err != nil || st.Status.IsTerminal() {
		return
	}
	if st.Deadline.IsZero() || time.Now().Before(st.Deadline) {
		return
	}

	failure := &api.FailureInfo{
		Message: "node execution deadline exceeded",
		Types:   []api.FailureType{api.FailureTypeTimeout},
	}
	st, err = e.concludeNode(ctx, id, api.StatusExpired, nil, failure)
	if err != nil {
		slog.Error("Failed to expire node",
			log.NodeExecutionID(id),
			log.Error(err))
		return
	}
	slog.Warn("Node expired",
		log.NodeExecutionID(id),
		log.PlanExecutionID(st.PlanExecutionID))
	e.releaseNodeRestraints(ctx, st)
	e.endTransition(ctx, st)
}

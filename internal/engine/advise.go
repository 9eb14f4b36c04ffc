package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// ProcessAdviserResponse applies an adviser's directive to a concluded
// node. The directive decides where control flows next, overriding the
// default end transition
func (e *Engine) ProcessAdviserResponse(
	ctx context.Context, id api.NodeExecutionID,
	resp *api.AdviserResponse,
) {
	st, err := e.GetNodeExecution(ctx, id)
	if err != nil {
		slog.Error("Cannot advise unknown node",
			log.NodeExecutionID(id),
			log.Error(err))
		return
	}

	slog.Info("Applying adviser directive",
		log.NodeExecutionID(id),
		slog.String("advise_type", string(resp.Type)))
	switch resp.Type {
	case api.AdviseNextStep:
		e.adviseNextStep(ctx, st, resp)
	case api.AdviseEndPlan:
		e.endPlan(ctx, st.PlanExecutionID, planStatusFor(st.Status),
			st.Failure)
	case api.AdviseRetry:
		e.adviseRetry(ctx, st, resp)
	case api.AdviseMarkSuccess:
		e.adviseMark(ctx, st, api.StatusSucceeded, nil)
	case api.AdviseMarkFailed:
		e.adviseMark(ctx, st, api.StatusFailed, &api.FailureInfo{
			Message: resp.Message,
			Types:   []api.FailureType{api.FailureTypeApplication},
		})
	case api.AdviseInterveneWait:
		e.adviseInterveneWait(ctx, st)
	default:
		slog.Warn("Unknown adviser directive ignored",
			log.NodeExecutionID(id),
			slog.String("advise_type", string(resp.Type)))
		e.endTransition(ctx, st)
	}
}

// adviseNextStep jumps to an explicitly named node, falling back to the
// declared sibling chain when the adviser names none
func (e *Engine) adviseNextStep(
	ctx context.Context, st *api.NodeExecutionState,
	resp *api.AdviserResponse,
) {
	nextID := resp.NextNodeID
	if nextID == "" {
		nextID = st.Node.NextID
	}
	if nextID == "" {
		e.endTransition(ctx, st)
		return
	}

	plan, err := e.GetPlanExecution(ctx, st.PlanExecutionID)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	next := plan.Plan.Nodes[nextID]
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

// adviseRetry re-runs the node after the advised wait, bounded by the
// configured retry budget. An exhausted budget falls through to the
// normal failure transition
func (e *Engine) adviseRetry(
	ctx context.Context, st *api.NodeExecutionState,
	resp *api.AdviserResponse,
) {
	id := st.ID
	if st.RetryCount >= e.config.Advise.MaxRetries {
		slog.Warn("Retry budget exhausted",
			log.NodeExecutionID(id),
			slog.Int("retry_count", st.RetryCount))
		e.endTransition(ctx, st)
		return
	}

	count := st.RetryCount + 1
	_, err := e.nodeTx(ctx, id,
		func(_ *api.NodeExecutionState, ag *NodeAggregator) error {
			return events.Raise(ag, api.EventTypeNodeRetryScheduled,
				api.NodeRetryScheduledEvent{
					ID:         id,
					RetryCount: count,
				})
		},
	)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}

	slog.Info("Node retry scheduled",
		log.NodeExecutionID(id),
		slog.Int("retry_count", count),
		slog.Duration("retry_wait", resp.RetryWait))
	e.after(resp.RetryWait, func() {
		e.retryNode(e.ctx, id)
	})
}

// retryNode re-enters execution for a node whose retry wait elapsed
func (e *Engine) retryNode(ctx context.Context, id api.NodeExecutionID) {
	st, err := e.setNodeStatus(ctx, id, api.StatusRunning, time.Time{})
	if err != nil {
		slog.Error("Failed to re-enter node for retry",
			log.NodeExecutionID(id),
			log.Error(err))
		return
	}
	e.runExecutor(ctx, st)
}

// adviseMark overrides the node's terminal status and resumes the
// normal end transition under the new status
func (e *Engine) adviseMark(
	ctx context.Context, st *api.NodeExecutionState, status api.Status,
	failure *api.FailureInfo,
) {
	if failure == nil {
		failure = st.Failure
	}
	if status == api.StatusSucceeded {
		failure = nil
	}
	updated, err := e.concludeNode(ctx, st.ID, status, st.Outcomes,
		failure)
	if err != nil {
		slog.Error("Failed to override node status",
			log.NodeExecutionID(st.ID),
			log.Error(err))
		return
	}
	e.endTransition(ctx, updated)
}

// adviseInterveneWait parks the node awaiting an external decision. A
// later interrupt or manual resume picks the final disposition
func (e *Engine) adviseInterveneWait(
	ctx context.Context, st *api.NodeExecutionState,
) {
	id := st.ID
	_, err := e.nodeTx(ctx, id,
		func(_ *api.NodeExecutionState, ag *NodeAggregator) error {
			return events.Raise(ag, api.EventTypeNodeStatusChanged,
				api.NodeStatusChangedEvent{
					ID:     id,
					Status: api.StatusInterveneWaiting,
				})
		},
	)
	if err != nil {
		slog.Error("Failed to park node for intervention",
			log.NodeExecutionID(id),
			log.Error(err))
		return
	}
	st, err = e.GetNodeExecution(ctx, id)
	if err != nil {
		return
	}
	e.recordNodeStatus(ctx, st, api.StatusInterveneWaiting)
}

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

// FacilitateExecution dispatches a facilitated node into its execution
// mode. An InitialWait delays dispatch without holding a worker
func (e *Engine) FacilitateExecution(
	ctx context.Context, id api.NodeExecutionID,
	resp *api.FacilitatorResponse,
) {
	st, err := e.GetNodeExecution(ctx, id)
	if err != nil {
		slog.Error("Cannot facilitate unknown node",
			log.NodeExecutionID(id),
			log.Error(err))
		return
	}
	if resp == nil || !resp.Mode.Valid() {
		e.HandleError(ctx, st.Ambiance, ErrInvalidMode)
		return
	}

	_, err = e.nodeTx(ctx, id,
		func(_ *api.NodeExecutionState, ag *NodeAggregator) error {
			return events.Raise(ag, api.EventTypeNodeFacilitated,
				api.NodeFacilitatedEvent{
					ID:   id,
					Mode: resp.Mode,
				})
		},
	)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}

	slog.Debug("Node facilitated",
		log.NodeExecutionID(id),
		log.Mode(resp.Mode))
	e.after(resp.InitialWait, func() {
		e.dispatchMode(e.ctx, st, resp)
	})
}

func (e *Engine) dispatchMode(
	ctx context.Context, st *api.NodeExecutionState,
	resp *api.FacilitatorResponse,
) {
	switch resp.Mode {
	case api.ModeSync, api.ModeAsync, api.ModeTask, api.ModeTaskChain:
		e.runExecutor(ctx, st)
	case api.ModeChild:
		e.startChildNodes(ctx, st, 1)
	case api.ModeChildren:
		e.startChildNodes(ctx, st, len(st.Node.ChildIDs))
	default:
		e.HandleError(ctx, st.Ambiance, ErrInvalidMode)
	}
}

// runExecutor invokes the node's step executor. A returned StepResponse
// concludes the node; a returned AsyncHandle suspends it on callbacks.
// Returning neither leaves the node running, with responses expected to
// arrive through SDK events
func (e *Engine) runExecutor(
	ctx context.Context, st *api.NodeExecutionState,
) {
	id := st.ID
	exec, err := e.registry.Executor(st.Node.StepType)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	if _, err := e.setNodeStatus(
		ctx, id, api.StatusRunning, time.Time{},
	); err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}

	resp, handle, err := exec.Execute(ctx, st.Ambiance, st.ResolvedParams)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	switch {
	case resp != nil:
		if err := e.HandleStepResponse(ctx, id, resp); err != nil {
			e.HandleError(ctx, st.Ambiance, err)
		}
	case handle != nil:
		e.suspendOn(ctx, st, &api.ExecutableResponse{
			Kind: api.ResponseAsync,
			Async: &api.AsyncExecutable{
				CallbackIDs: handle.CallbackIDs,
				Timeout:     handle.Timeout,
			},
			CreatedAt: time.Now(),
		})
	}
}

// suspendOn records the executable response, registers a durable wait
// on its callback IDs, and parks the node as SUSPENDED with a deadline
func (e *Engine) suspendOn(
	ctx context.Context, st *api.NodeExecutionState,
	executable *api.ExecutableResponse,
) {
	id := st.ID
	_, err := e.nodeTx(ctx, id,
		func(_ *api.NodeExecutionState, ag *NodeAggregator) error {
			return events.Raise(ag, api.EventTypeNodeResponseAdded,
				api.NodeResponseAddedEvent{
					ID:       id,
					Response: executable,
				})
		},
	)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}

	_, err = e.wait.WaitForAllOn(ctx, enginePublisher,
		resumeCallback(id), progressCallback(id),
		executable.CallbackIDs()...)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}

	deadline := time.Now().Add(e.suspendTimeout(st, executable))
	if _, err := e.setNodeStatus(
		ctx, id, api.StatusSuspended, deadline,
	); err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	e.deadlines.Track(ctx, id, deadline)
}

// suspendTimeout picks the effective timeout for a suspension: the
// executable's own, then the node definition's, then the configured
// default
func (e *Engine) suspendTimeout(
	st *api.NodeExecutionState, executable *api.ExecutableResponse,
) time.Duration {
	if executable.Kind == api.ResponseAsync &&
		executable.Async.Timeout > 0 {
		return executable.Async.Timeout
	}
	if st.Node.Timeout > 0 {
		return st.Node.Timeout
	}
	return e.config.NodeTimeout
}

// startChildNodes fans out up to limit child nodes and suspends the
// parent on their completion notifications
func (e *Engine) startChildNodes(
	ctx context.Context, st *api.NodeExecutionState, limit int,
) {
	plan, err := e.GetPlanExecution(ctx, st.PlanExecutionID)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	if len(st.Node.ChildIDs) == 0 || limit == 0 {
		e.HandleError(ctx, st.Ambiance, ErrInvalidMode)
		return
	}

	children := st.Node.ChildIDs
	if limit < len(children) {
		children = children[:limit]
	}
	pending := make([]api.CorrelationID, 0, len(children))
	type launch struct {
		amb  *api.Ambiance
		node *api.PlanNode
		id   api.CorrelationID
	}
	launches := make([]launch, 0, len(children))
	for _, childID := range children {
		child := plan.Plan.Nodes[childID]
		if child == nil {
			e.HandleError(ctx, st.Ambiance, api.ErrDanglingNodeRef)
			return
		}
		notifyID := api.CorrelationID(uuid.NewString())
		pending = append(pending, notifyID)
		launches = append(launches, launch{
			amb: st.Ambiance.WithLevel(&api.Level{
				RuntimeID: api.NodeExecutionID(uuid.NewString()),
				SetupID:   child.ID,
				Group:     child.Group,
			}),
			node: child,
			id:   notifyID,
		})
	}

	// Suspend the parent before any child can complete
	e.suspendOn(ctx, st, &api.ExecutableResponse{
		Kind: api.ResponseSuspendChain,
		Suspend: &api.SuspendChainExecutable{
			Pending: pending,
		},
		CreatedAt: time.Now(),
	})
	for _, l := range launches {
		e.startChild(l.amb, l.node, l.id)
	}
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// acquireRestraint requests permits for a node that declares a resource
// restraint. Returns true when the node is blocked and must wait for
// activation before facilitation
func (e *Engine) acquireRestraint(
	ctx context.Context, amb *api.Ambiance, id api.NodeExecutionID,
	node *api.PlanNode,
) bool {
	decl := node.Restraint
	if decl == nil || e.restraint == nil {
		return false
	}

	unit := api.ResourceUnit(fmt.Sprintf("%v",
		e.resolver.ResolveString(ctx, amb, decl.ResourceUnit)))
	holderID := api.CorrelationID(uuid.NewString())
	timeout := node.Timeout
	if timeout <= 0 {
		timeout = e.config.NodeTimeout
	}
	deadline := time.Now().Add(timeout)

	saved, err := e.restraint.Save(ctx, &api.RestraintInstance{
		ID:                api.RestraintInstanceID(uuid.NewString()),
		RestraintID:       decl.RestraintID,
		ResourceUnit:      unit,
		Permits:           decl.Permits,
		ReleaseEntityType: api.ReleaseEntityNode,
		ReleaseEntityID:   string(id),
		ResumeID:          holderID,
		Deadline:          deadline,
		CreatedAt:         time.Now(),
	}, decl.Capacity)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return true
	}
	if saved.State == api.RestraintActive {
		slog.Debug("Restraint permits granted",
			log.NodeExecutionID(id),
			log.RestraintID(decl.RestraintID),
			log.ResourceUnit(unit))
		return false
	}

	slog.Info("Node blocked on restraint",
		log.NodeExecutionID(id),
		log.RestraintID(decl.RestraintID),
		log.ResourceUnit(unit))
	e.blockOnRestraint(ctx, amb, id, decl, unit, holderID, deadline)
	return true
}

// blockOnRestraint parks a blocked node as SUSPENDED, waiting on the
// holder correlation the scheduler resolves at activation
func (e *Engine) blockOnRestraint(
	ctx context.Context, amb *api.Ambiance, id api.NodeExecutionID,
	decl *api.RestraintDecl, unit api.ResourceUnit,
	holderID api.CorrelationID, deadline time.Time,
) {
	executable := &api.ExecutableResponse{
		Kind: api.ResponseRestraint,
		Restraint: &api.RestraintExecutable{
			RestraintID:  decl.RestraintID,
			ResourceUnit: unit,
			HolderID:     holderID,
		},
		CreatedAt: time.Now(),
	}
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
		e.HandleError(ctx, amb, err)
		return
	}

	_, err = e.wait.WaitForAllOn(ctx, enginePublisher,
		resumeCallback(id), nil, holderID)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return
	}
	if _, err := e.setNodeStatus(
		ctx, id, api.StatusSuspended, deadline,
	); err != nil {
		e.HandleError(ctx, amb, err)
		return
	}
	e.deadlines.Track(ctx, id, deadline)
}

package engine

import (
	"context"
	"log/slog"

	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// HandleError routes an internal failure through the normal step
// response path so the node still concludes, advisers still run, and
// the plan still reaches a terminal status
func (e *Engine) HandleError(
	ctx context.Context, amb *api.Ambiance, err error,
) {
	id := amb.CurrentRuntimeID()
	slog.Error("Node execution error",
		log.NodeExecutionID(id),
		log.PlanExecutionID(amb.PlanExecutionID),
		log.Error(err))

	resp := api.FailedResponse(err.Error(), api.FailureTypeApplication)
	if hErr := e.HandleStepResponse(ctx, id, resp); hErr != nil {
		// Last resort: the node cannot be concluded, so fail the plan
		// directly rather than leave it wedged
		slog.Error("Failed to conclude errored node",
			log.NodeExecutionID(id),
			log.Error(hErr))
		e.endPlan(ctx, amb.PlanExecutionID, api.PlanFailed,
			&api.FailureInfo{
				Message: err.Error(),
				Types:   []api.FailureType{api.FailureTypeUnknown},
			})
	}
}

package engine

import (
	"context"

	"github.com/cascadeci/cascade/pkg/api"
)

// Outcomes resolves a node reference to the outcomes of its most
// relevant execution. An empty ref means the current node; otherwise
// the ref names a setup node within the same plan, and a succeeded
// execution of it wins over earlier attempts
func (e *Engine) Outcomes(
	ctx context.Context, amb *api.Ambiance, ref string,
) (api.Args, bool) {
	if ref == "" {
		st, err := e.GetNodeExecution(ctx, amb.CurrentRuntimeID())
		if err != nil {
			return nil, false
		}
		return st.Outcomes, true
	}

	plan, err := e.GetPlanExecution(ctx, amb.PlanExecutionID)
	if err != nil {
		return nil, false
	}
	recs := plan.BySetupNode(api.SetupNodeID(ref))
	if len(recs) == 0 {
		return nil, false
	}

	var fallback api.NodeExecutionID
	for id, rec := range recs {
		if rec.Status == api.StatusSucceeded {
			return e.nodeOutcomes(ctx, id)
		}
		fallback = id
	}
	return e.nodeOutcomes(ctx, fallback)
}

func (e *Engine) nodeOutcomes(
	ctx context.Context, id api.NodeExecutionID,
) (api.Args, bool) {
	st, err := e.GetNodeExecution(ctx, id)
	if err != nil {
		return nil, false
	}
	return st.Outcomes, true
}

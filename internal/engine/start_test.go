package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/assert/helpers"
	"github.com/cascadeci/cascade/pkg/api"
)

// gateExecutor blocks inside Execute until released, holding one start
// worker mid-step
type gateExecutor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateExecutor) Execute(
	_ context.Context, _ *api.Ambiance, _ json.RawMessage,
) (*api.StepResponse, *api.AsyncHandle, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return &api.StepResponse{Status: api.StatusSucceeded}, nil, nil
}

func (g *gateExecutor) HandleAsyncResponse(
	_ context.Context, _ *api.Ambiance, _ json.RawMessage, _ api.ResponseMap,
) (*api.StepResponse, error) {
	return &api.StepResponse{Status: api.StatusSucceeded}, nil
}

func TestSyncStepsRunConcurrentlyAcrossPlans(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		gate := &gateExecutor{
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		env.Registry.RegisterExecutor("gate", gate)

		holdID := helpers.NewPlanID()
		_, err := env.Engine.StartPlan(ctx, holdID, &api.Plan{
			StartNodeID: "hold",
			Nodes: map[api.SetupNodeID]*api.PlanNode{
				"hold": {
					ID:              "hold",
					Name:            "Hold",
					StepType:        "gate",
					FacilitatorType: helpers.TestFacilitator,
				},
			},
		}, nil)
		require.NoError(t, err)

		select {
		case <-gate.entered:
		case <-time.After(testTimeout):
			t.Fatal("gated step never started")
		}

		// Another plan's node must start and finish while the first
		// plan's synchronous step is still running
		otherID := helpers.NewPlanID()
		_, err = env.Engine.StartPlan(ctx, otherID,
			helpers.NewLinearPlan("build"), nil)
		require.NoError(t, err)
		awaitPlanStatus(t, env, otherID, api.PlanSucceeded)

		close(gate.release)
		awaitPlanStatus(t, env, holdID, api.PlanSucceeded)
	})
}

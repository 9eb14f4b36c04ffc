package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/assert/helpers"
	"github.com/cascadeci/cascade/pkg/api"
)

func advisedPlan(
	env *helpers.TestEnv, adviser *helpers.MockAdviser,
	ids ...api.SetupNodeID,
) *api.Plan {
	env.Registry.RegisterAdviser("test-adviser", adviser)
	plan := helpers.NewLinearPlan(ids...)
	for _, node := range plan.Nodes {
		node.AdviserTypes = []string{"test-adviser"}
	}
	return plan
}

func TestRetryAdviceRecoversFlakyStep(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response: &api.AdviserResponse{
				Type:      api.AdviseRetry,
				RetryWait: 10 * time.Millisecond,
			},
			FailuresOnly: true,
		}
		plan := advisedPlan(env, adviser, "flaky")

		env.Executor.SetResponseSequence("flaky",
			api.FailedResponse("transient", api.FailureTypeConnectivity),
			api.FailedResponse("transient", api.FailureTypeConnectivity),
			&api.StepResponse{Status: api.StatusSucceeded},
		)

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanSucceeded)

		node, err := env.Engine.GetNodeExecution(
			ctx, amb.CurrentRuntimeID(),
		)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSucceeded, node.Status)
		assert.Equal(t, 2, node.RetryCount)
		assert.Len(t, env.Executor.Executed(), 3)
	})
}

func TestRetryBudgetExhaustionFailsPlan(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response: &api.AdviserResponse{
				Type:      api.AdviseRetry,
				RetryWait: 5 * time.Millisecond,
			},
		}
		plan := advisedPlan(env, adviser, "hopeless")

		env.Executor.SetResponse("hopeless", api.FailedResponse(
			"permanent", api.FailureTypeApplication,
		))

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanFailed)

		// Initial run plus the full retry budget
		assert.Len(t, env.Executor.Executed(),
			1+env.Config.Advise.MaxRetries)
	})
}

func TestMarkSuccessOverridesFailure(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response:     &api.AdviserResponse{Type: api.AdviseMarkSuccess},
			FailuresOnly: true,
		}
		plan := advisedPlan(env, adviser, "optional", "after")

		env.Executor.SetResponse("optional", api.FailedResponse(
			"ignorable", api.FailureTypeApplication,
		))

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanSucceeded)

		node, err := env.Engine.GetNodeExecution(
			ctx, amb.CurrentRuntimeID(),
		)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSucceeded, node.Status)
		assert.Nil(t, node.Failure)

		// The chain continued past the overridden failure
		assert.True(t, env.Executor.WasExecuted("after"))
	})
}

func TestMarkFailedOverridesSuccess(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response: &api.AdviserResponse{
				Type:    api.AdviseMarkFailed,
				Message: "rejected by policy",
			},
		}
		plan := advisedPlan(env, adviser, "vetoed", "unreached")

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanFailed)
		assert.False(t, env.Executor.WasExecuted("unreached"))
	})
}

func TestNextStepAdviceRedirectsChain(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response: &api.AdviserResponse{
				Type:       api.AdviseNextStep,
				NextNodeID: "rollback",
			},
		}

		env.Registry.RegisterAdviser("test-adviser", adviser)
		plan := helpers.NewLinearPlan("deploy", "verify")
		plan.Nodes["deploy"].AdviserTypes = []string{"test-adviser"}
		plan.Nodes["rollback"] = helpers.NewTestNode("rollback")

		env.Executor.SetResponse("deploy", api.FailedResponse(
			"bad canary", api.FailureTypeApplication,
		))

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanSucceeded)

		assert.True(t, env.Executor.WasExecuted("rollback"))
		assert.False(t, env.Executor.WasExecuted("verify"))
	})
}

func TestEndPlanAdviceStopsChain(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response: &api.AdviserResponse{Type: api.AdviseEndPlan},
		}
		plan := advisedPlan(env, adviser, "first", "second")

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanSucceeded)
		assert.False(t, env.Executor.WasExecuted("second"))
	})
}

func TestInterveneWaitParksNode(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response: &api.AdviserResponse{Type: api.AdviseInterveneWait},
		}
		plan := advisedPlan(env, adviser, "manual")

		env.Executor.SetResponse("manual", api.FailedResponse(
			"needs a human", api.FailureTypeApplication,
		))

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitNodeStatus(t, env, amb.CurrentRuntimeID(),
			api.StatusInterveneWaiting)

		// The plan stays open while the node awaits a decision
		st, err := env.Engine.GetPlanExecution(ctx, planID)
		require.NoError(t, err)
		assert.Equal(t, api.PlanRunning, st.Status)
	})
}

func TestAdviserSeesFailureContext(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		adviser := &helpers.MockAdviser{
			Response: &api.AdviserResponse{Type: api.AdviseEndPlan},
		}
		plan := advisedPlan(env, adviser, "watched")

		env.Executor.SetResponse("watched", api.FailedResponse(
			"observed failure", api.FailureTypeConnectivity,
		))

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanFailed)

		evs := adviser.Events()
		require.Len(t, evs, 1)
		assert.Equal(t, api.StatusFailed, evs[0].Status)
		require.NotNil(t, evs[0].Failure)
		assert.Equal(t, "observed failure", evs[0].Failure.Message)
	})
}

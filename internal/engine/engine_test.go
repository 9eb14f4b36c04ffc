package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/assert/helpers"
	"github.com/cascadeci/cascade/internal/engine"
	"github.com/cascadeci/cascade/pkg/api"
)

const testTimeout = 5 * time.Second

func awaitNodeStatus(
	t *testing.T, env *helpers.TestEnv, id api.NodeExecutionID,
	status api.Status,
) *api.NodeExecutionState {
	t.Helper()
	var st *api.NodeExecutionState
	require.Eventually(t, func() bool {
		s, err := env.Engine.GetNodeExecution(context.Background(), id)
		if err != nil {
			return false
		}
		st = s
		return s.Status == status
	}, testTimeout, 20*time.Millisecond,
		"node %s never reached %s", id, status)
	return st
}

func awaitPlanStatus(
	t *testing.T, env *helpers.TestEnv, id api.PlanExecutionID,
	status api.PlanStatus,
) *api.PlanExecutionState {
	t.Helper()
	var st *api.PlanExecutionState
	require.Eventually(t, func() bool {
		s, err := env.Engine.GetPlanExecution(context.Background(), id)
		if err != nil {
			return false
		}
		st = s
		return s.Status == status
	}, testTimeout, 20*time.Millisecond,
		"plan %s never reached %s", id, status)
	return st
}

func TestLinearPlanSucceeds(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		plan := helpers.NewLinearPlan("build", "test", "deploy")

		env.Executor.SetResponse("deploy", &api.StepResponse{
			Status:   api.StatusSucceeded,
			Outcomes: api.Args{"url": "https://app.example.com"},
		})

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)
		require.Equal(t, api.SetupNodeID("build"), amb.CurrentSetupID())

		st := awaitPlanStatus(t, env, planID, api.PlanSucceeded)

		// Every node ran once, in declaration order
		assert.Equal(t, []api.SetupNodeID{"build", "test", "deploy"},
			env.Executor.Executed())

		require.Len(t, st.Nodes, 3)
		for _, rec := range st.Nodes {
			assert.Equal(t, api.StatusSucceeded, rec.Status)
		}

		deploys := st.BySetupNode("deploy")
		require.Len(t, deploys, 1)
		var deployID api.NodeExecutionID
		for id := range deploys {
			deployID = id
		}
		node, err := env.Engine.GetNodeExecution(ctx, deployID)
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com", node.Outcomes["url"])
	})
}

func TestStartPlanValidatesPlan(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()

		_, err := env.Engine.StartPlan(
			ctx, helpers.NewPlanID(), &api.Plan{}, nil,
		)
		assert.ErrorIs(t, err, api.ErrEmptyPlan)
	})
}

func TestStartPlanRejectsDuplicateID(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		plan := helpers.NewLinearPlan("only")

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		_, err = env.Engine.StartPlan(ctx, planID, plan, nil)
		assert.ErrorIs(t, err, engine.ErrPlanExists)
	})
}

func TestStepFailureFailsPlan(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		plan := helpers.NewLinearPlan("flaky", "unreached")

		env.Executor.SetResponse("flaky", api.FailedResponse(
			"disk full", api.FailureTypeApplication,
		))

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanFailed)

		node, err := env.Engine.GetNodeExecution(
			ctx, amb.CurrentRuntimeID(),
		)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, node.Status)
		require.NotNil(t, node.Failure)
		assert.Equal(t, "disk full", node.Failure.Message)

		// The failure short-circuits the chain
		assert.False(t, env.Executor.WasExecuted("unreached"))
	})
}

func TestAsyncNodeSuspendsAndResumes(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		plan := helpers.NewLinearPlan("async-step")

		env.Facilitator.SetMode("async-step", api.ModeAsync)
		env.Executor.SetHandle("async-step", &api.AsyncHandle{
			CallbackIDs: []api.CorrelationID{"cb-async-1"},
		})
		env.Executor.SetResumeResponse("async-step", &api.StepResponse{
			Status:   api.StatusSucceeded,
			Outcomes: api.Args{"external": "done"},
		})

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)
		nodeID := amb.CurrentRuntimeID()

		st := awaitNodeStatus(t, env, nodeID, api.StatusSuspended)
		require.NotNil(t, st.ActiveResponse())
		assert.Equal(t, api.ResponseAsync, st.ActiveResponse().Kind)
		assert.False(t, st.Deadline.IsZero())

		require.NoError(t, env.Wait.DoneWith(
			ctx, "cb-async-1", json.RawMessage(`{"ok":true}`), false,
		))

		awaitPlanStatus(t, env, planID, api.PlanSucceeded)
		node := awaitNodeStatus(t, env, nodeID, api.StatusSucceeded)
		assert.Equal(t, "done", node.Outcomes["external"])
	})
}

func TestAsyncErrorCallbackFailsNode(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		plan := helpers.NewLinearPlan("async-err")

		env.Facilitator.SetMode("async-err", api.ModeAsync)
		env.Executor.SetHandle("async-err", &api.AsyncHandle{
			CallbackIDs: []api.CorrelationID{"cb-err-1"},
		})

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitNodeStatus(t, env, amb.CurrentRuntimeID(),
			api.StatusSuspended)

		require.NoError(t, env.Wait.DoneWith(
			ctx, "cb-err-1", json.RawMessage(`{"reason":"remote"}`), true,
		))

		awaitPlanStatus(t, env, planID, api.PlanFailed)
	})
}

func TestChildrenFanOut(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		parent := helpers.NewTestNode("parent")
		parent.ChildIDs = []api.SetupNodeID{"child-a", "child-b"}
		plan := &api.Plan{
			StartNodeID: "parent",
			Nodes: map[api.SetupNodeID]*api.PlanNode{
				"parent":  parent,
				"child-a": helpers.NewTestNode("child-a"),
				"child-b": helpers.NewTestNode("child-b"),
			},
		}

		env.Facilitator.SetMode("parent", api.ModeChildren)

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		st := awaitPlanStatus(t, env, planID, api.PlanSucceeded)

		// Both children ran; the parent itself never hit the executor
		assert.True(t, env.Executor.WasExecuted("child-a"))
		assert.True(t, env.Executor.WasExecuted("child-b"))
		assert.False(t, env.Executor.WasExecuted("parent"))

		parentNode, err := env.Engine.GetNodeExecution(
			ctx, amb.CurrentRuntimeID(),
		)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSucceeded, parentNode.Status)
		require.Len(t, st.ChildrenOf(parentNode.ID), 2)
	})
}

func TestSingleChildMode(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		parent := helpers.NewTestNode("parent")
		parent.ChildIDs = []api.SetupNodeID{"solo"}
		plan := &api.Plan{
			StartNodeID: "parent",
			Nodes: map[api.SetupNodeID]*api.PlanNode{
				"parent": parent,
				"solo":   helpers.NewTestNode("solo"),
			},
		}

		env.Facilitator.SetMode("parent", api.ModeChild)

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanSucceeded)
		assert.True(t, env.Executor.WasExecuted("solo"))
	})
}

func TestFailedChildFailsParent(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()

		parent := helpers.NewTestNode("parent")
		parent.ChildIDs = []api.SetupNodeID{"good", "bad"}
		plan := &api.Plan{
			StartNodeID: "parent",
			Nodes: map[api.SetupNodeID]*api.PlanNode{
				"parent": parent,
				"good":   helpers.NewTestNode("good"),
				"bad":    helpers.NewTestNode("bad"),
			},
		}

		env.Facilitator.SetMode("parent", api.ModeChildren)
		env.Executor.SetResponse("bad", api.FailedResponse(
			"child exploded", api.FailureTypeApplication,
		))

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanFailed)
		awaitNodeStatus(t, env, amb.CurrentRuntimeID(), api.StatusFailed)
	})
}

func TestParamsResolvedFromEarlierNode(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		plan := helpers.NewLinearPlan("build", "deploy")
		plan.Nodes["deploy"].Parameters = json.RawMessage(
			`{"artifact": "<+build.artifact>"}`,
		)

		env.Executor.SetResponse("build", &api.StepResponse{
			Status:   api.StatusSucceeded,
			Outcomes: api.Args{"artifact": "app-1.2.3.jar"},
		})

		_, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		st := awaitPlanStatus(t, env, planID, api.PlanSucceeded)

		deploys := st.BySetupNode("deploy")
		require.Len(t, deploys, 1)
		var deployID api.NodeExecutionID
		for id := range deploys {
			deployID = id
		}
		node, err := env.Engine.GetNodeExecution(ctx, deployID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"artifact":"app-1.2.3.jar"}`,
			string(node.ResolvedParams))
	})
}

func TestNodeDeadlineExpires(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		plan := helpers.NewLinearPlan("stuck")
		plan.Nodes["stuck"].Timeout = 150 * time.Millisecond

		env.Facilitator.SetMode("stuck", api.ModeAsync)
		env.Executor.SetHandle("stuck", &api.AsyncHandle{
			CallbackIDs: []api.CorrelationID{"cb-never"},
		})

		amb, err := env.Engine.StartPlan(ctx, planID, plan, nil)
		require.NoError(t, err)

		awaitPlanStatus(t, env, planID, api.PlanExpired)

		node, err := env.Engine.GetNodeExecution(
			ctx, amb.CurrentRuntimeID(),
		)
		require.NoError(t, err)
		assert.Equal(t, api.StatusExpired, node.Status)
		require.NotNil(t, node.Failure)
		assert.Contains(t, node.Failure.Types, api.FailureTypeTimeout)
	})
}

func TestShutdownIsIdempotent(t *testing.T) {
	env := helpers.NewTestEnv(t)
	defer env.Cleanup()

	assert.NoError(t, env.Engine.Stop())
	// Cleanup stops again; both must be safe
}

func TestDuplicateStepResponseIgnored(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		st := parkNode(t, env, planID, "remote", "cb-once")

		require.NoError(t, env.Engine.HandleStepResponse(ctx, st.ID,
			&api.StepResponse{
				Status:   api.StatusSucceeded,
				Outcomes: api.Args{"attempt": "first"},
			}))
		awaitPlanStatus(t, env, planID, api.PlanSucceeded)

		// Redelivery with a contradictory result leaves the original
		// conclusion untouched, on both the direct and the event paths
		require.NoError(t, env.Engine.HandleStepResponse(
			ctx, st.ID, api.FailedResponse("redelivered"),
		))
		dispatch(t, env, st.ID, api.SdkHandleStepResponse,
			&api.HandleStepResponsePayload{
				Response: api.FailedResponse("redelivered"),
			})

		node, err := env.Engine.GetNodeExecution(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSucceeded, node.Status)
		assert.Equal(t, "first", node.Outcomes["attempt"])
		assert.Nil(t, node.Failure)

		plan, err := env.Engine.GetPlanExecution(ctx, planID)
		require.NoError(t, err)
		assert.Equal(t, api.PlanSucceeded, plan.Status)
	})
}

func TestTerminalNodeIgnoresLateResume(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEnv) {
		ctx := context.Background()
		planID := helpers.NewPlanID()
		st := parkNode(t, env, planID, "remote", "cb-late")

		require.NoError(t, env.Engine.HandleStepResponse(ctx, st.ID,
			&api.StepResponse{Status: api.StatusSucceeded}))
		awaitPlanStatus(t, env, planID, api.PlanSucceeded)
		executions := len(env.Executor.Executed())

		// A straggling callback resolution must not re-enter the step
		// or move the node off its terminal status
		require.NoError(t, env.Engine.Resume(ctx, st.ID, api.ResponseMap{
			"cb-late": &api.ResponseData{Error: true},
		}, true))

		node, err := env.Engine.GetNodeExecution(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSucceeded, node.Status)
		assert.Nil(t, node.Failure)
		assert.Len(t, env.Executor.Executed(), executions)
	})
}

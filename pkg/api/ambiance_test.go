package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cascadeci/cascade/pkg/api"
)

func TestRootAmbiance(t *testing.T) {
	amb := api.NewAmbiance("plan-1", api.SetupAbstractions{
		"project": "demo",
	}, "token-1")

	assert.Nil(t, amb.CurrentLevel())
	assert.Empty(t, amb.CurrentRuntimeID())
	assert.Empty(t, amb.CurrentSetupID())
	assert.Empty(t, amb.ParentRuntimeID())
	assert.Equal(t, api.FunctorToken("token-1"), amb.FunctorToken)
}

func TestAmbianceLevels(t *testing.T) {
	root := api.NewAmbiance("plan-1", nil, "")
	parent := root.WithLevel(&api.Level{
		RuntimeID: "exec-parent",
		SetupID:   "stage",
	})
	child := parent.WithLevel(&api.Level{
		RuntimeID: "exec-child",
		SetupID:   "step",
	})

	assert.Equal(t, api.NodeExecutionID("exec-child"),
		child.CurrentRuntimeID())
	assert.Equal(t, api.SetupNodeID("step"), child.CurrentSetupID())
	assert.Equal(t, api.NodeExecutionID("exec-parent"),
		child.ParentRuntimeID())

	// The parent ambiance is untouched by the child's level
	assert.Equal(t, api.NodeExecutionID("exec-parent"),
		parent.CurrentRuntimeID())
	assert.Len(t, parent.Levels, 1)
}

func TestAmbianceForFinish(t *testing.T) {
	amb := api.NewAmbiance("plan-1", nil, "").
		WithLevel(&api.Level{RuntimeID: "exec-1", SetupID: "outer"}).
		WithLevel(&api.Level{RuntimeID: "exec-2", SetupID: "inner"})

	finished := amb.ForFinish()
	assert.Equal(t, api.NodeExecutionID("exec-1"),
		finished.CurrentRuntimeID())
	assert.Len(t, amb.Levels, 2)

	root := api.NewAmbiance("plan-1", nil, "").ForFinish()
	assert.Nil(t, root.CurrentLevel())
}

package tasks_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/internal/tasks"
	"github.com/cascadeci/cascade/pkg/api"
)

const (
	buildQueueKey = "cascade:task:queue:ci.build"
	delayedKey    = "cascade:task:delayed"
)

func newDispatcher(t *testing.T) (*tasks.Dispatcher, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.NewDefaultConfig()
	cfg.PlanStore.Addr = mr.Addr()
	cfg.SweepInterval = 20 * time.Millisecond

	d := tasks.NewDispatcher(cfg)
	t.Cleanup(d.Stop)
	return d, mr
}

func TestQueueTaskImmediate(t *testing.T) {
	d, mr := newDispatcher(t)

	setup := api.SetupAbstractions{"project": "demo"}
	id, err := d.QueueTask(context.Background(), setup, &api.TaskSpec{
		Category: "ci.build",
		Data:     json.RawMessage(`{"image":"app"}`),
	}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	items, err := mr.List(buildQueueKey)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var env tasks.Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	assert.Equal(t, id, env.ID)
	assert.Equal(t, "ci.build", env.Spec.Category)
	assert.Equal(t, setup, env.Setup)
}

func TestQueueTaskDelayedPromotes(t *testing.T) {
	d, mr := newDispatcher(t)

	id, err := d.QueueTask(context.Background(), nil, &api.TaskSpec{
		Category: "ci.build",
	}, 50*time.Millisecond)
	require.NoError(t, err)

	// Parked in the delayed set until its ready time passes
	members, err := mr.ZMembers(delayedKey)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.False(t, mr.Exists(buildQueueKey))

	d.Start()
	require.Eventually(t, func() bool {
		items, err := mr.List(buildQueueKey)
		return err == nil && len(items) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, mr.Exists(delayedKey))

	items, err := mr.List(buildQueueKey)
	require.NoError(t, err)
	var env tasks.Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	assert.Equal(t, id, env.ID)
}

func TestQueueTaskOrderWithinCategory(t *testing.T) {
	d, mr := newDispatcher(t)

	first, err := d.QueueTask(context.Background(), nil, &api.TaskSpec{
		Category: "ci.build",
	}, 0)
	require.NoError(t, err)
	second, err := d.QueueTask(context.Background(), nil, &api.TaskSpec{
		Category: "ci.build",
	}, 0)
	require.NoError(t, err)

	items, err := mr.List(buildQueueKey)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var envs [2]tasks.Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &envs[0]))
	require.NoError(t, json.Unmarshal([]byte(items[1]), &envs[1]))
	assert.Equal(t, first, envs[0].ID)
	assert.Equal(t, second, envs[1].ID)
}

func TestQueueTaskNilSpec(t *testing.T) {
	d, _ := newDispatcher(t)

	_, err := d.QueueTask(context.Background(), nil, nil, 0)
	assert.ErrorIs(t, err, tasks.ErrNilTaskSpec)
}

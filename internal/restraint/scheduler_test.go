package restraint_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/internal/restraint"
	"github.com/cascadeci/cascade/pkg/api"
)

type (
	schedEnv struct {
		scheduler *restraint.Scheduler
		holders   *restraint.HolderIndex
		resumer   *fakeResumer
		checker   *fakeChecker
		cleanup   func()
	}

	fakeResumer struct {
		mu      sync.Mutex
		resumed []api.CorrelationID
	}

	fakeChecker struct {
		mu       sync.Mutex
		finished map[string]bool
	}
)

func (f *fakeResumer) DoneWith(
	_ context.Context, id api.CorrelationID, _ json.RawMessage, _ bool,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeResumer) Resumed() []api.CorrelationID {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]api.CorrelationID, len(f.resumed))
	copy(res, f.resumed)
	return res
}

func (f *fakeChecker) IsReleaserFinished(
	_ context.Context, _ api.ReleaseEntityType, id string,
) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fin, known := f.finished[id]
	return fin, known
}

func (f *fakeChecker) setFinished(id string, fin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = fin
}

func newSchedEnv(t *testing.T) *schedEnv {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)

	cfg := config.NewDefaultConfig()
	cfg.RestraintStore.Addr = server.Addr()
	cfg.RestraintStore.Prefix = "test-restraint"
	cfg.SweepInterval = 25 * time.Millisecond

	store, err := tb.NewStore(cfg.RestraintStore)
	require.NoError(t, err)

	holders := restraint.NewHolderIndex(cfg)
	sched := restraint.New(store, holders, cfg)

	resumer := &fakeResumer{}
	checker := &fakeChecker{finished: map[string]bool{}}
	sched.SetResumer(resumer)
	sched.SetReleaseChecker(checker)

	return &schedEnv{
		scheduler: sched,
		holders:   holders,
		resumer:   resumer,
		checker:   checker,
		cleanup: func() {
			sched.Stop()
			holders.Close()
			_ = tb.Close()
			server.Close()
		},
	}
}

func newInstance(
	id api.RestraintInstanceID, permits int, resumeID api.CorrelationID,
) *api.RestraintInstance {
	return &api.RestraintInstance{
		ID:                id,
		RestraintID:       "deploy-lock",
		ResourceUnit:      "prod",
		Permits:           permits,
		ReleaseEntityType: api.ReleaseEntityNode,
		ReleaseEntityID:   "node-" + string(id),
		ResumeID:          resumeID,
	}
}

func TestSaveAdmitsWithinCapacity(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	saved, err := env.scheduler.Save(ctx, newInstance("a", 1, "r-a"), 2)
	require.NoError(t, err)
	assert.Equal(t, api.RestraintActive, saved.State)
	assert.Equal(t, int64(1), saved.Order)

	saved, err = env.scheduler.Save(ctx, newInstance("b", 1, "r-b"), 2)
	require.NoError(t, err)
	assert.Equal(t, api.RestraintActive, saved.State)
	assert.Equal(t, int64(2), saved.Order)
}

func TestSaveBlocksBeyondCapacity(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	_, err := env.scheduler.Save(ctx, newInstance("a", 1, "r-a"), 1)
	require.NoError(t, err)

	saved, err := env.scheduler.Save(ctx, newInstance("b", 1, "r-b"), 1)
	require.NoError(t, err)
	assert.Equal(t, api.RestraintBlocked, saved.State)
}

func TestSaveRejectsNonPositivePermits(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()

	_, err := env.scheduler.Save(
		context.Background(), newInstance("a", 0, ""), 1,
	)
	assert.ErrorIs(t, err, restraint.ErrInvalidPermits)
}

func TestFinishWakesBlockedInArrivalOrder(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	_, err := env.scheduler.Save(ctx, newInstance("a", 1, "r-a"), 1)
	require.NoError(t, err)
	_, err = env.scheduler.Save(ctx, newInstance("b", 1, "r-b"), 1)
	require.NoError(t, err)
	_, err = env.scheduler.Save(ctx, newInstance("c", 1, "r-c"), 1)
	require.NoError(t, err)

	require.NoError(t, env.scheduler.FinishInstance(
		ctx, "deploy-lock", "prod", "a",
	))
	assert.Equal(t, []api.CorrelationID{"r-b"}, env.resumer.Resumed())

	require.NoError(t, env.scheduler.FinishInstance(
		ctx, "deploy-lock", "prod", "b",
	))
	assert.Equal(t,
		[]api.CorrelationID{"r-b", "r-c"}, env.resumer.Resumed())
}

func TestFinishWakesMultipleWhenPermitsAllow(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	// One holder takes the whole capacity; two single-permit requests
	// queue behind it and both fit once it releases
	_, err := env.scheduler.Save(ctx, newInstance("big", 2, "r-big"), 2)
	require.NoError(t, err)
	_, err = env.scheduler.Save(ctx, newInstance("s1", 1, "r-s1"), 2)
	require.NoError(t, err)
	_, err = env.scheduler.Save(ctx, newInstance("s2", 1, "r-s2"), 2)
	require.NoError(t, err)

	require.NoError(t, env.scheduler.FinishInstance(
		ctx, "deploy-lock", "prod", "big",
	))
	assert.Equal(t,
		[]api.CorrelationID{"r-s1", "r-s2"}, env.resumer.Resumed())
}

func TestLargerRequestBlocksLaterSmallerOnes(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	// FIFO fairness: a blocked 2-permit request is not overtaken by a
	// later 1-permit request that would fit
	_, err := env.scheduler.Save(ctx, newInstance("a", 1, "r-a"), 2)
	require.NoError(t, err)
	_, err = env.scheduler.Save(ctx, newInstance("wide", 2, "r-wide"), 2)
	require.NoError(t, err)

	saved, err := env.scheduler.Save(ctx, newInstance("late", 1, "r-l"), 2)
	require.NoError(t, err)
	assert.Equal(t, api.RestraintBlocked, saved.State)
}

func TestFinishIsIdempotent(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	_, err := env.scheduler.Save(ctx, newInstance("a", 1, ""), 1)
	require.NoError(t, err)

	require.NoError(t, env.scheduler.FinishInstance(
		ctx, "deploy-lock", "prod", "a",
	))
	require.NoError(t, env.scheduler.FinishInstance(
		ctx, "deploy-lock", "prod", "a",
	))
}

func TestActivateBlockedInstanceGuards(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	_, err := env.scheduler.Save(ctx, newInstance("a", 1, ""), 1)
	require.NoError(t, err)

	_, err = env.scheduler.ActivateBlockedInstance(
		ctx, "deploy-lock", "prod", "missing",
	)
	assert.ErrorIs(t, err, restraint.ErrInstanceNotFound)

	// Active, not blocked
	_, err = env.scheduler.ActivateBlockedInstance(
		ctx, "deploy-lock", "prod", "a",
	)
	assert.ErrorIs(t, err, restraint.ErrInstanceNotBlocked)
}

func TestFinishAllForReclaimsHolderPermits(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	inst := newInstance("a", 1, "")
	inst.ReleaseEntityID = "node-1"
	_, err := env.scheduler.Save(ctx, inst, 1)
	require.NoError(t, err)

	other := newInstance("b", 1, "r-b")
	other.ReleaseEntityID = "node-2"
	_, err = env.scheduler.Save(ctx, other, 1)
	require.NoError(t, err)

	held, err := env.scheduler.GetAllCurrentlyAcquiredPermits(
		ctx, api.ReleaseEntityNode, "node-1",
	)
	require.NoError(t, err)
	assert.Equal(t, 1, held)

	require.NoError(t, env.scheduler.FinishAllFor(
		ctx, api.ReleaseEntityNode, "node-1",
	))

	held, err = env.scheduler.GetAllCurrentlyAcquiredPermits(
		ctx, api.ReleaseEntityNode, "node-1",
	)
	require.NoError(t, err)
	assert.Equal(t, 0, held)

	// Freed capacity wakes the queued contender
	assert.Equal(t, []api.CorrelationID{"r-b"}, env.resumer.Resumed())
}

func TestUpdateActiveConstraintsForInstance(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	inst := newInstance("a", 1, "")
	saved, err := env.scheduler.Save(ctx, inst, 1)
	require.NoError(t, err)

	// Releaser status unknown: caller must retry later
	done, err := env.scheduler.UpdateActiveConstraintsForInstance(
		ctx, saved,
	)
	require.NoError(t, err)
	assert.False(t, done)

	// Releaser still running: nothing to do
	env.checker.setFinished(inst.ReleaseEntityID, false)
	done, err = env.scheduler.UpdateActiveConstraintsForInstance(
		ctx, saved,
	)
	require.NoError(t, err)
	assert.True(t, done)

	// Releaser terminal: instance is force-finished
	env.checker.setFinished(inst.ReleaseEntityID, true)
	done, err = env.scheduler.UpdateActiveConstraintsForInstance(
		ctx, saved,
	)
	require.NoError(t, err)
	assert.True(t, done)

	st, err := env.scheduler.GetUnitState(ctx, "deploy-lock", "prod")
	require.NoError(t, err)
	assert.Equal(t, api.RestraintFinished, st.Instances["a"].State)
}

func TestGetMaxOrderGrowsMonotonically(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	for i, id := range []api.RestraintInstanceID{"a", "b", "c"} {
		_, err := env.scheduler.Save(ctx, newInstance(id, 1, ""), 10)
		require.NoError(t, err)

		order, err := env.scheduler.GetMaxOrder(ctx, "deploy-lock", "prod")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), order)
	}
}

func TestUnitsAreIndependent(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	a := newInstance("a", 1, "")
	a.ResourceUnit = "east"
	_, err := env.scheduler.Save(ctx, a, 1)
	require.NoError(t, err)

	b := newInstance("b", 1, "")
	b.ResourceUnit = "west"
	saved, err := env.scheduler.Save(ctx, b, 1)
	require.NoError(t, err)
	assert.Equal(t, api.RestraintActive, saved.State)
}

func TestSweepReclaimsTerminalReleaser(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	// Holder's node concluded, but the process died before the inline
	// release ran
	_, err := env.scheduler.Save(ctx, newInstance("a", 1, "r-a"), 1)
	require.NoError(t, err)
	saved, err := env.scheduler.Save(ctx, newInstance("b", 1, "r-b"), 1)
	require.NoError(t, err)
	require.Equal(t, api.RestraintBlocked, saved.State)

	env.checker.setFinished("node-a", true)
	env.scheduler.Start()

	require.Eventually(t, func() bool {
		res := env.resumer.Resumed()
		return len(res) == 1 && res[0] == api.CorrelationID("r-b")
	}, 5*time.Second, 20*time.Millisecond,
		"sweep never reclaimed the dead releaser's permits")

	st, err := env.scheduler.GetUnitState(ctx, "deploy-lock", "prod")
	require.NoError(t, err)
	assert.Equal(t, api.RestraintFinished, st.Instances["a"].State)
	assert.Equal(t, api.RestraintActive, st.Instances["b"].State)
}

func TestSweepLeavesLiveHolderAlone(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	_, err := env.scheduler.Save(ctx, newInstance("a", 1, "r-a"), 1)
	require.NoError(t, err)
	_, err = env.scheduler.Save(ctx, newInstance("b", 1, "r-b"), 1)
	require.NoError(t, err)

	env.checker.setFinished("node-a", false)
	env.scheduler.Start()

	assert.Never(t, func() bool {
		return len(env.resumer.Resumed()) > 0
	}, 200*time.Millisecond, 20*time.Millisecond)

	st, err := env.scheduler.GetUnitState(ctx, "deploy-lock", "prod")
	require.NoError(t, err)
	assert.Equal(t, api.RestraintActive, st.Instances["a"].State)
	assert.Equal(t, api.RestraintBlocked, st.Instances["b"].State)
}

func TestSweepExpiresOverdueHolder(t *testing.T) {
	env := newSchedEnv(t)
	defer env.cleanup()
	ctx := context.Background()

	// Releaser is still alive, but the instance's own deadline passed
	overdue := newInstance("a", 1, "r-a")
	overdue.Deadline = time.Now().Add(-time.Minute)
	_, err := env.scheduler.Save(ctx, overdue, 1)
	require.NoError(t, err)
	env.checker.setFinished("node-a", false)

	_, err = env.scheduler.Save(ctx, newInstance("b", 1, "r-b"), 1)
	require.NoError(t, err)

	env.scheduler.Start()

	require.Eventually(t, func() bool {
		res := env.resumer.Resumed()
		return len(res) == 1 && res[0] == api.CorrelationID("r-b")
	}, 5*time.Second, 20*time.Millisecond,
		"sweep never expired the overdue holder")

	st, err := env.scheduler.GetUnitState(ctx, "deploy-lock", "prod")
	require.NoError(t, err)
	assert.Equal(t, api.RestraintFinished, st.Instances["a"].State)
	assert.Equal(t, api.RestraintActive, st.Instances["b"].State)
}

package helpers

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/require"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/internal/engine"
	"github.com/cascadeci/cascade/internal/resolver"
	"github.com/cascadeci/cascade/internal/restraint"
	"github.com/cascadeci/cascade/internal/waitnotify"
)

// TestEnv holds all the components needed for engine testing
type TestEnv struct {
	Engine      *engine.Engine
	Wait        *waitnotify.Engine
	Scheduler   *restraint.Scheduler
	Registry    *engine.Registry
	Callbacks   *waitnotify.Registry
	Tasks       *MockTasks
	Executor    *MockExecutor
	Facilitator *MockFacilitator
	Redis       *miniredis.Miniredis
	Config      *config.Config
	EventHub    timebox.EventHub
	Cleanup     func()

	planStore      *timebox.Store
	waitStore      *timebox.Store
	restraintStore *timebox.Store
}

// NewTestConfig creates a configuration pointed at the given miniredis
// address with intervals short enough for tests
func NewTestConfig(addr string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.PlanStore.Addr = addr
	cfg.PlanStore.Prefix = "test-plan"
	cfg.WaitStore.Addr = addr
	cfg.WaitStore.Prefix = "test-wait"
	cfg.RestraintStore.Addr = addr
	cfg.RestraintStore.Prefix = "test-restraint"
	cfg.NodeTimeout = 5 * time.Second
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.WaitNotify.ReapInterval = 50 * time.Millisecond
	cfg.WaitNotify.NotifyRetention = time.Second
	return cfg
}

// NewTestEnv creates a fully wired engine environment with an in-memory
// Redis backend, mock step executor, and mock task dispatcher
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	cfg := NewTestConfig(server.Addr())

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	require.NoError(t, err)

	planStore, err := tb.NewStore(cfg.PlanStore)
	require.NoError(t, err)

	waitStore, err := tb.NewStore(cfg.WaitStore)
	require.NoError(t, err)

	restraintStore, err := tb.NewStore(cfg.RestraintStore)
	require.NoError(t, err)

	callbacks := waitnotify.NewRegistry()
	wait := waitnotify.New(waitStore, callbacks, cfg)

	holders := restraint.NewHolderIndex(cfg)
	scheduler := restraint.New(restraintStore, holders, cfg)

	deadlines := engine.NewDeadlineIndex(cfg)
	tasks := NewMockTasks()
	registry := engine.NewRegistry()

	functors := resolver.NewFunctorRegistry(&MapSecretSource{
		Secrets: map[string]string{"api-key": "hunter2"},
	})

	eng := engine.New(engine.Deps{
		Store:     planStore,
		Wait:      wait,
		Restraint: scheduler,
		Functors:  functors,
		Tasks:     tasks,
		Registry:  registry,
		Deadlines: deadlines,
		Config:    cfg,
	})
	eng.RegisterCallbacks(callbacks)

	executor := NewMockExecutor()
	facilitator := NewMockFacilitator()
	registry.RegisterExecutor(TestStepType, executor)
	registry.RegisterFacilitator(TestFacilitator, facilitator)

	wait.Start()
	scheduler.Start()
	eng.Start()

	cleanup := func() {
		_ = eng.Stop()
		scheduler.Stop()
		wait.Stop()
		deadlines.Close()
		holders.Close()
		_ = tb.Close()
		server.Close()
	}

	return &TestEnv{
		Engine:         eng,
		Wait:           wait,
		Scheduler:      scheduler,
		Registry:       registry,
		Callbacks:      callbacks,
		Tasks:          tasks,
		Executor:       executor,
		Facilitator:    facilitator,
		Redis:          server,
		Config:         cfg,
		EventHub:       tb.GetHub(),
		Cleanup:        cleanup,
		planStore:      planStore,
		waitStore:      waitStore,
		restraintStore: restraintStore,
	}
}

// WithTestEnv creates a test environment, executes the provided function
// with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEnv)) {
	t.Helper()
	env := NewTestEnv(t)
	defer env.Cleanup()
	fn(env)
}

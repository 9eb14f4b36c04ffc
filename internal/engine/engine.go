package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/internal/resolver"
	"github.com/cascadeci/cascade/internal/restraint"
	"github.com/cascadeci/cascade/internal/waitnotify"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

type (
	// Engine drives node executions through their lifecycle: start,
	// facilitation, step response, advisement, resumption, and error
	// recovery. Per-node mutations are linearized by the store's version
	// check; nodes across plans run fully in parallel
	Engine struct {
		nodeExec  *NodeExecutor
		planExec  *PlanExecutor
		wait      *waitnotify.Engine
		restraint *restraint.Scheduler
		resolver  *resolver.Resolver
		tasks     api.TaskDispatcher
		registry  *Registry
		config    *config.Config
		deadlines *DeadlineIndex
		sdk       map[api.SdkEventKind]sdkHandler
		starts    *startQueue
		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
	}

	// Deps carries everything the engine needs, assembled once at
	// process start and passed down explicitly
	Deps struct {
		Store     *timebox.Store
		Wait      *waitnotify.Engine
		Restraint *restraint.Scheduler
		Functors  *resolver.FunctorRegistry
		Tasks     api.TaskDispatcher
		Registry  *Registry
		Deadlines *DeadlineIndex
		Config    *config.Config
	}

	// NodeExecutor manages node execution persistence
	NodeExecutor = timebox.Executor[*api.NodeExecutionState]

	// NodeAggregator aggregates node execution state from events
	NodeAggregator = timebox.Aggregator[*api.NodeExecutionState]

	// PlanExecutor manages plan execution persistence
	PlanExecutor = timebox.Executor[*api.PlanExecutionState]

	// PlanAggregator aggregates plan execution state from events
	PlanAggregator = timebox.Aggregator[*api.PlanExecutionState]
)

var (
	ErrShutdownTimeout     = errors.New("shutdown timeout exceeded")
	ErrPlanExists          = errors.New("plan execution exists")
	ErrPlanNotFound        = errors.New("plan execution not found")
	ErrPlanTerminal        = errors.New("plan execution already terminal")
	ErrNodeNotFound        = errors.New("node execution not found")
	ErrNodeTerminal        = errors.New("node execution already terminal")
	ErrInvalidMode         = errors.New("invalid facilitation mode")
	ErrNoExecutor          = errors.New("no executor for step type")
	ErrNoFacilitator       = errors.New("no facilitator for type")
	ErrNotResumable        = errors.New("node execution not resumable")
	ErrNoTaskDispatcher    = errors.New("no task dispatcher configured")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUnknownSdkEventKind = errors.New("unknown SDK event kind")
	ErrInvalidSdkPayload   = errors.New("invalid SDK event payload")
)

// New creates an engine over the provided dependencies
func New(deps Deps) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		nodeExec: timebox.NewExecutor(
			deps.Store, events.NewNodeState, events.NodeAppliers,
		),
		planExec: timebox.NewExecutor(
			deps.Store, events.NewPlanState, events.PlanAppliers,
		),
		wait:      deps.Wait,
		restraint: deps.Restraint,
		tasks:     deps.Tasks,
		registry:  deps.Registry,
		deadlines: deps.Deadlines,
		config:    deps.Config,
		ctx:       ctx,
		cancel:    cancel,
	}
	e.resolver = resolver.New(e, deps.Functors)
	e.sdk = e.makeSdkHandlers()
	e.starts = newStartQueue(e)
	if deps.Restraint != nil {
		deps.Restraint.SetResumer(deps.Wait)
		deps.Restraint.SetReleaseChecker(e)
	}
	return e
}

// RegisterCallbacks installs the engine's callback kinds so persisted
// wait instances can route resumptions back into running nodes
func (e *Engine) RegisterCallbacks(reg *waitnotify.Registry) {
	registerNodeCallbacks(e, reg)
}

// Start begins processing queued node starts and the deadline sweep
func (e *Engine) Start() {
	slog.Info("Engine starting")
	e.starts.run(e.config.StartWorkers)
	e.wg.Add(1)
	go e.sweepLoop()
}

// Stop gracefully shuts down the engine
func (e *Engine) Stop() error {
	e.cancel()
	e.starts.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// GetNodeExecution retrieves the current state of a node execution
func (e *Engine) GetNodeExecution(
	ctx context.Context, id api.NodeExecutionID,
) (*api.NodeExecutionState, error) {
	st, err := e.nodeExec.Exec(ctx, events.NodeKey(id),
		func(_ *api.NodeExecutionState, _ *NodeAggregator) error {
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if st.ID == "" {
		return nil, ErrNodeNotFound
	}
	return st, nil
}

// GetPlanExecution retrieves the current state of a plan execution
func (e *Engine) GetPlanExecution(
	ctx context.Context, id api.PlanExecutionID,
) (*api.PlanExecutionState, error) {
	st, err := e.planExec.Exec(ctx, events.PlanKey(id),
		func(_ *api.PlanExecutionState, _ *PlanAggregator) error {
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if st.ID == "" {
		return nil, ErrPlanNotFound
	}
	return st, nil
}

// IsReleaserFinished reports whether a restraint releaser has reached a
// terminal status
func (e *Engine) IsReleaserFinished(
	ctx context.Context, t api.ReleaseEntityType, id string,
) (bool, bool) {
	switch t {
	case api.ReleaseEntityPlan:
		st, err := e.GetPlanExecution(ctx, api.PlanExecutionID(id))
		if err != nil {
			return false, false
		}
		return st.Status.IsTerminal(), true
	case api.ReleaseEntityNode:
		st, err := e.GetNodeExecution(ctx, api.NodeExecutionID(id))
		if err != nil {
			return false, false
		}
		return st.Status.IsTerminal(), true
	}
	return false, false
}

// nodeTx runs a command against a node execution aggregate
func (e *Engine) nodeTx(
	ctx context.Context, id api.NodeExecutionID,
	cmd timebox.Command[*api.NodeExecutionState],
) (*api.NodeExecutionState, error) {
	return e.nodeExec.Exec(ctx, events.NodeKey(id), cmd)
}

// planTx runs a command against a plan execution aggregate
func (e *Engine) planTx(
	ctx context.Context, id api.PlanExecutionID,
	cmd timebox.Command[*api.PlanExecutionState],
) (*api.PlanExecutionState, error) {
	return e.planExec.Exec(ctx, events.PlanKey(id), cmd)
}

// recordNodeStatus mirrors a node's status into its plan aggregate
func (e *Engine) recordNodeStatus(
	ctx context.Context, node *api.NodeExecutionState, status api.Status,
) {
	cmd := func(_ *api.PlanExecutionState, ag *PlanAggregator) error {
		return events.Raise(ag, api.EventTypePlanNodeRecorded,
			api.PlanNodeRecordedEvent{
				ID:              node.PlanExecutionID,
				NodeExecutionID: node.ID,
				SetupNodeID:     node.SetupNodeID,
				ParentID:        node.ParentID,
				Status:          status,
			})
	}
	if _, err := e.planTx(ctx, node.PlanExecutionID, cmd); err != nil {
		slog.Warn("Failed to record node status on plan",
			log.PlanExecutionID(node.PlanExecutionID),
			log.NodeExecutionID(node.ID),
			log.Error(err))
	}
}

// setNodeStatus transitions a node's status, validating the transition
// table, and mirrors the change into the plan aggregate
func (e *Engine) setNodeStatus(
	ctx context.Context, id api.NodeExecutionID, to api.Status,
	deadline time.Time,
) (*api.NodeExecutionState, error) {
	var changed bool
	st, err := e.nodeTx(ctx, id,
		func(st *api.NodeExecutionState, ag *NodeAggregator) error {
			changed = false
			if st.ID == "" {
				return ErrNodeNotFound
			}
			if st.Status == to {
				return nil
			}
			if !nodeTransitions.CanTransition(st.Status, to) {
				return errors.Join(ErrInvalidTransition,
					errors.New(string(st.Status)+" -> "+string(to)))
			}
			changed = true
			return events.Raise(ag, api.EventTypeNodeStatusChanged,
				api.NodeStatusChangedEvent{
					ID:       id,
					Status:   to,
					Deadline: deadline,
				})
		},
	)
	if err != nil {
		return nil, err
	}
	if changed {
		e.recordNodeStatus(ctx, st, to)
	}
	return st, nil
}

// after runs fn once the delay elapses, unless the engine is stopping
func (e *Engine) after(delay time.Duration, fn func()) {
	if delay <= 0 {
		fn()
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			fn()
		case <-e.ctx.Done():
		}
	}()
}

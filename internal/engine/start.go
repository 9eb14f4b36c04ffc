package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

type (
	// startRequest is one queued node start
	startRequest struct {
		ambiance *api.Ambiance
		node     *api.PlanNode
		notifyID api.CorrelationID
	}

	// startQueue decouples node starts from the callers requesting them
	// so fan-outs and sibling chains never recurse through the engine.
	// A pool of workers drains it, so a slow synchronous step in one
	// plan cannot delay starts in another; per-node ordering comes from
	// the store's version check
	startQueue struct {
		engine    *Engine
		prod      topic.Producer[startRequest]
		cons      topic.Consumer[startRequest]
		quit      chan struct{}
		wg        sync.WaitGroup
		startOnce sync.Once
		stopOnce  sync.Once
	}
)

func newStartQueue(e *Engine) *startQueue {
	queue := caravan.NewTopic[startRequest]()
	return &startQueue{
		engine: e,
		prod:   queue.NewProducer(),
		cons:   queue.NewConsumer(),
		quit:   make(chan struct{}),
	}
}

func (q *startQueue) run(workers int) {
	q.startOnce.Do(func() {
		if workers < 1 {
			workers = 1
		}
		for range workers {
			q.wg.Go(func() {
				for {
					select {
					case <-q.quit:
						return
					case req, ok := <-q.cons.Receive():
						if !ok {
							return
						}
						q.engine.startNode(q.engine.ctx, req)
					}
				}
			})
		}
	})
}

func (q *startQueue) enqueue(req startRequest) {
	q.prod.Send() <- req
}

func (q *startQueue) stop() {
	q.stopOnce.Do(func() {
		close(q.quit)
	})
	q.wg.Wait()
	q.prod.Close()
	q.cons.Close()
}

// StartPlan begins a new plan execution. The plan's start node is
// queued immediately; its completion drives the plan's terminal status
func (e *Engine) StartPlan(
	ctx context.Context, id api.PlanExecutionID, plan *api.Plan,
	setup api.SetupAbstractions,
) (*api.Ambiance, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	cmd := func(st *api.PlanExecutionState, ag *PlanAggregator) error {
		if st.ID != "" {
			return ErrPlanExists
		}
		return events.Raise(ag, api.EventTypePlanStarted,
			api.PlanStartedEvent{
				ID:    id,
				Plan:  plan,
				Setup: setup,
			})
	}
	if _, err := e.planTx(ctx, id, cmd); err != nil {
		return nil, err
	}

	root := api.NewAmbiance(id, setup, api.FunctorToken(uuid.NewString()))
	start := plan.StartNode()
	amb := root.WithLevel(&api.Level{
		RuntimeID: api.NodeExecutionID(uuid.NewString()),
		SetupID:   start.ID,
		Group:     start.Group,
	})

	slog.Info("Plan execution started",
		log.PlanExecutionID(id))
	e.StartNode(ctx, amb, start)
	return amb, nil
}

// StartNode queues a node for execution. The ambiance's innermost level
// identifies the new node execution
func (e *Engine) StartNode(
	_ context.Context, amb *api.Ambiance, node *api.PlanNode,
) {
	e.starts.enqueue(startRequest{ambiance: amb, node: node})
}

// startChild queues a child node whose completion notifies the given
// correlation ID
func (e *Engine) startChild(
	amb *api.Ambiance, node *api.PlanNode, notifyID api.CorrelationID,
) {
	e.starts.enqueue(startRequest{
		ambiance: amb,
		node:     node,
		notifyID: notifyID,
	})
}

// startNode creates the node execution and carries it through interrupt
// checks, parameter resolution, restraint admission, and facilitation.
// Any internal failure lands in handleError so the node always reaches
// a terminal status
func (e *Engine) startNode(ctx context.Context, req startRequest) {
	amb := req.ambiance
	id := amb.CurrentRuntimeID()

	proceed, err := e.createNodeExecution(ctx, req)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return
	}
	if !proceed {
		slog.Debug("Duplicate node start ignored",
			log.NodeExecutionID(id))
		return
	}

	if e.applyPendingInterrupt(ctx, amb, id) {
		return
	}
	if !e.resolveParams(ctx, amb, id, req.node) {
		return
	}
	if e.acquireRestraint(ctx, amb, id, req.node) {
		return
	}
	e.facilitate(ctx, amb, id, req.node)
}

// createNodeExecution persists the new node execution and records it on
// the plan aggregate. Returns false when the execution already exists
// and has moved past QUEUED, so duplicate starts are no-ops while a
// held-back start can still proceed
func (e *Engine) createNodeExecution(
	ctx context.Context, req startRequest,
) (bool, error) {
	amb := req.ambiance
	id := amb.CurrentRuntimeID()
	created := false
	st, err := e.nodeTx(ctx, id,
		func(st *api.NodeExecutionState, ag *NodeAggregator) error {
			created = false
			if st.ID != "" {
				return nil
			}
			created = true
			return events.Raise(ag, api.EventTypeNodeCreated,
				api.NodeCreatedEvent{
					ID:              id,
					SetupNodeID:     req.node.ID,
					PlanExecutionID: amb.PlanExecutionID,
					ParentID:        amb.ParentRuntimeID(),
					NotifyID:        req.notifyID,
					Node:            req.node,
					Ambiance:        amb,
				})
		},
	)
	if err != nil {
		return false, err
	}
	if created {
		e.recordNodeStatus(ctx, st, api.StatusQueued)
		return true, nil
	}
	return st.Status == api.StatusQueued, nil
}

// resolveParams resolves the node's parameter expressions against the
// ambiance. Resolution failures fail the node, not the engine
func (e *Engine) resolveParams(
	ctx context.Context, amb *api.Ambiance, id api.NodeExecutionID,
	node *api.PlanNode,
) bool {
	resolved, err := e.resolver.ResolveParams(ctx, amb, node.Parameters)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return false
	}
	_, err = e.nodeTx(ctx, id,
		func(_ *api.NodeExecutionState, ag *NodeAggregator) error {
			return events.Raise(ag, api.EventTypeNodeParamsResolved,
				api.NodeParamsResolvedEvent{
					ID:     id,
					Params: resolved,
				})
		},
	)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return false
	}
	return true
}

// facilitate consults the node's facilitator and dispatches the
// resulting mode
func (e *Engine) facilitate(
	ctx context.Context, amb *api.Ambiance, id api.NodeExecutionID,
	node *api.PlanNode,
) {
	fac, err := e.registry.Facilitator(node.FacilitatorType)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return
	}

	st, err := e.GetNodeExecution(ctx, id)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return
	}
	resp, err := fac.Facilitate(ctx, amb, st.ResolvedParams)
	if err != nil {
		e.HandleError(ctx, amb, err)
		return
	}
	e.FacilitateExecution(ctx, id, resp)
}

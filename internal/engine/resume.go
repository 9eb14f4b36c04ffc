package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/internal/waitnotify"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

const (
	enginePublisher = "engine"

	// Callback kinds the engine registers for its own wait instances
	CallbackNodeResume   api.CallbackKind = "node.resume"
	CallbackNodeProgress api.CallbackKind = "node.progress"
)

type (
	// nodeCallbackParams are the persisted parameters for both engine
	// callback kinds
	nodeCallbackParams struct {
		NodeExecutionID api.NodeExecutionID `json:"node_execution_id"`
	}

	nodeResumeCallback struct {
		engine *Engine
		id     api.NodeExecutionID
	}

	nodeProgressCallback struct {
		engine *Engine
		id     api.NodeExecutionID
	}
)

// registerNodeCallbacks installs the engine's callback constructors so
// deliveries against persisted wait instances route back into nodes
func registerNodeCallbacks(e *Engine, reg *waitnotify.Registry) {
	reg.RegisterNotify(CallbackNodeResume,
		func(params json.RawMessage) (waitnotify.NotifyCallback, error) {
			var p nodeCallbackParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return &nodeResumeCallback{
				engine: e,
				id:     p.NodeExecutionID,
			}, nil
		})
	reg.RegisterProgress(CallbackNodeProgress,
		func(params json.RawMessage) (waitnotify.ProgressCallback, error) {
			var p nodeCallbackParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return &nodeProgressCallback{
				engine: e,
				id:     p.NodeExecutionID,
			}, nil
		})
}

func resumeCallback(id api.NodeExecutionID) *api.CallbackRef {
	params, _ := json.Marshal(&nodeCallbackParams{NodeExecutionID: id})
	return &api.CallbackRef{
		Kind:   CallbackNodeResume,
		Params: params,
	}
}

func progressCallback(id api.NodeExecutionID) *api.CallbackRef {
	params, _ := json.Marshal(&nodeCallbackParams{NodeExecutionID: id})
	return &api.CallbackRef{
		Kind:   CallbackNodeProgress,
		Params: params,
	}
}

func (c *nodeResumeCallback) Notify(
	ctx context.Context, responses api.ResponseMap,
) error {
	isError := false
	for _, r := range responses {
		if r != nil && r.Error {
			isError = true
			break
		}
	}
	return c.engine.Resume(ctx, c.id, responses, isError)
}

func (c *nodeProgressCallback) Progress(
	ctx context.Context, _ api.CorrelationID, data json.RawMessage,
) error {
	return c.engine.RecordProgress(ctx, c.id, data)
}

// Resume re-enters a suspended node once all of its registered callback
// IDs have resolved. The active executable response decides the path
// back in
func (e *Engine) Resume(
	ctx context.Context, id api.NodeExecutionID,
	responses api.ResponseMap, isError bool,
) error {
	st, err := e.GetNodeExecution(ctx, id)
	if err != nil {
		return err
	}
	if st.Status.IsTerminal() {
		slog.Debug("Resume against terminal node ignored",
			log.NodeExecutionID(id))
		return nil
	}
	ar := st.ActiveResponse()
	if ar == nil {
		return ErrNotResumable
	}
	e.deadlines.Remove(ctx, id)

	switch ar.Kind {
	case api.ResponseRestraint:
		e.resumeAfterRestraint(ctx, st)
		return nil
	case api.ResponseTaskChain:
		if !isError && len(ar.TaskChain.NextSpec) > 0 {
			return e.queueNextChainLink(ctx, st, ar)
		}
	}
	e.resumeExecutor(ctx, st, responses)
	return nil
}

// RecordProgress stores the latest progress payload reported for a
// suspended node
func (e *Engine) RecordProgress(
	ctx context.Context, id api.NodeExecutionID, data json.RawMessage,
) error {
	_, err := e.nodeTx(ctx, id,
		func(st *api.NodeExecutionState, ag *NodeAggregator) error {
			if st.ID == "" {
				return ErrNodeNotFound
			}
			return events.Raise(ag, api.EventTypeNodeProgress,
				api.NodeProgressEvent{
					ID:   id,
					Data: data,
				})
		},
	)
	return err
}

// resumeAfterRestraint continues the start flow once a blocked permit
// request has been activated
func (e *Engine) resumeAfterRestraint(
	ctx context.Context, st *api.NodeExecutionState,
) {
	slog.Debug("Restraint permits acquired",
		log.NodeExecutionID(st.ID))
	e.facilitate(ctx, st.Ambiance, st.ID, st.Node)
}

// queueNextChainLink dispatches the next task in a chain and re-suspends
// the node on its completion
func (e *Engine) queueNextChainLink(
	ctx context.Context, st *api.NodeExecutionState,
	ar *api.ExecutableResponse,
) error {
	var spec api.TaskSpec
	if err := json.Unmarshal(ar.TaskChain.NextSpec, &spec); err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return nil
	}
	if e.tasks == nil {
		e.HandleError(ctx, st.Ambiance, ErrNoTaskDispatcher)
		return nil
	}

	taskID, err := e.tasks.QueueTask(ctx, st.Ambiance.Setup, &spec, 0)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return nil
	}
	if taskID == "" {
		taskID = api.CorrelationID(uuid.NewString())
	}
	e.suspendOn(ctx, st, &api.ExecutableResponse{
		Kind: api.ResponseTaskChain,
		TaskChain: &api.TaskChainExecutable{
			TaskID: taskID,
		},
		CreatedAt: time.Now(),
	})
	return nil
}

// resumeExecutor hands resolved callback responses back to the step
// executor for a terminal decision
func (e *Engine) resumeExecutor(
	ctx context.Context, st *api.NodeExecutionState,
	responses api.ResponseMap,
) {
	id := st.ID
	exec, err := e.registry.Executor(st.Node.StepType)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	if _, err := e.setNodeStatus(
		ctx, id, api.StatusRunning, time.Time{},
	); err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}

	resp, err := exec.HandleAsyncResponse(ctx, st.Ambiance,
		st.ResolvedParams, responses)
	if err != nil {
		e.HandleError(ctx, st.Ambiance, err)
		return
	}
	if resp == nil {
		return
	}
	if err := e.HandleStepResponse(ctx, id, resp); err != nil {
		e.HandleError(ctx, st.Ambiance, err)
	}
}

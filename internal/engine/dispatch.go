package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// sdkHandler processes one inbound SDK event against its node
type sdkHandler func(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error

// DispatchSdkEvent routes an inbound SDK event by kind. Delivery is
// at-least-once, so handlers tolerate duplicates; an unknown kind or a
// handler failure concludes the owning node as FAILED rather than
// surfacing past the dispatcher
func (e *Engine) DispatchSdkEvent(
	ctx context.Context, ev *api.SdkEvent,
) error {
	st, err := e.GetNodeExecution(ctx, ev.NodeExecutionID)
	if err != nil {
		return err
	}

	h, ok := e.sdk[ev.Kind]
	if !ok {
		slog.Error("Unknown SDK event kind",
			log.NodeExecutionID(ev.NodeExecutionID),
			slog.String("kind", string(ev.Kind)))
		e.HandleError(ctx, st.Ambiance, ErrUnknownSdkEventKind)
		return nil
	}

	slog.Debug("Dispatching SDK event",
		log.NodeExecutionID(ev.NodeExecutionID),
		slog.String("kind", string(ev.Kind)))
	if err := h(ctx, st, ev.Payload); err != nil {
		e.HandleError(ctx, st.Ambiance, err)
	}
	return nil
}

func (e *Engine) makeSdkHandlers() map[api.SdkEventKind]sdkHandler {
	return map[api.SdkEventKind]sdkHandler{
		api.SdkQueueTaskRequest:    e.onQueueTaskRequest,
		api.SdkFacilitatorResponse: e.onFacilitatorResponse,
		api.SdkHandleStepResponse:  e.onHandleStepResponse,
		api.SdkAdviserResponse:     e.onAdviserResponse,
		api.SdkSuspendChainRequest: e.onSuspendChainRequest,
		api.SdkHandleProgress:      e.onHandleProgress,
		api.SdkAddStepDetails:      e.onAddStepDetails,
		api.SdkQueueNodeExecution:  e.onQueueNodeExecution,
	}
}

// onQueueTaskRequest hands a task to the dispatcher and suspends the
// node on its completion correlation
func (e *Engine) onQueueTaskRequest(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.QueueTaskRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Task == nil {
		return ErrInvalidSdkPayload
	}
	if e.tasks == nil {
		return ErrNoTaskDispatcher
	}

	delay := time.Duration(p.InitialDelay) * time.Millisecond
	taskID, err := e.tasks.QueueTask(ctx, st.Ambiance.Setup, p.Task,
		delay)
	if err != nil {
		return err
	}
	if taskID == "" {
		taskID = api.CorrelationID(uuid.NewString())
	}

	executable := &api.ExecutableResponse{
		Kind: api.ResponseTask,
		Task: &api.TaskExecutable{
			TaskID: taskID,
		},
		CreatedAt: time.Now(),
	}
	if p.Chain {
		executable = &api.ExecutableResponse{
			Kind: api.ResponseTaskChain,
			TaskChain: &api.TaskChainExecutable{
				TaskID:   taskID,
				NextSpec: p.NextSpec,
			},
			CreatedAt: time.Now(),
		}
	}
	e.suspendOn(ctx, st, executable)
	return nil
}

func (e *Engine) onFacilitatorResponse(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.FacilitatorResponsePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Failure != nil {
		return e.HandleStepResponse(ctx, st.ID, &api.StepResponse{
			Status:  api.StatusFailed,
			Failure: p.Failure,
		})
	}
	if p.Response == nil {
		return ErrInvalidSdkPayload
	}
	e.FacilitateExecution(ctx, st.ID, p.Response)
	return nil
}

// onHandleStepResponse either concludes the node or, when the step
// registered an executable instead, suspends it
func (e *Engine) onHandleStepResponse(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.HandleStepResponsePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Executable != nil {
		e.suspendOn(ctx, st, p.Executable)
		return nil
	}
	if p.Response == nil {
		return ErrInvalidSdkPayload
	}
	return e.HandleStepResponse(ctx, st.ID, p.Response)
}

func (e *Engine) onAdviserResponse(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.AdviserResponsePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Response == nil {
		return ErrInvalidSdkPayload
	}
	e.ProcessAdviserResponse(ctx, st.ID, p.Response)
	return nil
}

// onSuspendChainRequest either parks the node on a new executable or,
// when responses are carried instead, resumes it with them
func (e *Engine) onSuspendChainRequest(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.SuspendChainRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Executable != nil {
		e.suspendOn(ctx, st, p.Executable)
		return nil
	}
	return e.Resume(ctx, st.ID, p.Responses, p.IsError)
}

func (e *Engine) onHandleProgress(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.HandleProgressPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	return e.RecordProgress(ctx, st.ID, p.Data)
}

func (e *Engine) onAddStepDetails(
	ctx context.Context, st *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.AddStepDetailsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Name == "" {
		return ErrInvalidSdkPayload
	}
	_, err := e.nodeTx(ctx, st.ID,
		func(_ *api.NodeExecutionState, ag *NodeAggregator) error {
			return events.Raise(ag, api.EventTypeNodeDetailAdded,
				api.NodeDetailAddedEvent{
					ID:   st.ID,
					Name: p.Name,
					Data: p.Data,
				})
		},
	)
	return err
}

// onQueueNodeExecution spawns a further node execution on behalf of a
// running step, typically a dynamically computed child
func (e *Engine) onQueueNodeExecution(
	_ context.Context, _ *api.NodeExecutionState,
	payload json.RawMessage,
) error {
	var p api.QueueNodeExecutionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Node == nil || p.Ambiance == nil {
		return ErrInvalidSdkPayload
	}
	e.startChild(p.Ambiance, p.Node, p.NotifyID)
	return nil
}

package waitnotify

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

type (
	// Engine correlates out-of-band completion signals with the wait
	// instances that reference them. Registration and notification each
	// run against the same correlation aggregate, so the two sides
	// converge regardless of arrival order
	Engine struct {
		corrExec *CorrelationExecutor
		waitExec *WaitExecutor
		registry *Registry
		queue    *Queue
		tracker  NotifyTracker
		ctx      context.Context
		cancel   context.CancelFunc
	}

	// NotifyTracker records delivered notifications for later reaping
	NotifyTracker interface {
		Track(ctx context.Context, id api.CorrelationID)
	}

	// CorrelationExecutor manages correlation aggregate persistence
	CorrelationExecutor = timebox.Executor[*api.CorrelationState]

	// CorrelationAggregator aggregates correlation state from events
	CorrelationAggregator = timebox.Aggregator[*api.CorrelationState]

	// WaitExecutor manages wait instance persistence
	WaitExecutor = timebox.Executor[*api.WaitInstanceState]

	// WaitAggregator aggregates wait instance state from events
	WaitAggregator = timebox.Aggregator[*api.WaitInstanceState]
)

// New creates a wait/notify engine over the provided store
func New(store *timebox.Store, reg *Registry, cfg *config.Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		corrExec: timebox.NewExecutor(
			store, events.NewCorrelationState, events.CorrelationAppliers,
		),
		waitExec: timebox.NewExecutor(
			store, events.NewWaitState, events.WaitAppliers,
		),
		registry: reg,
		ctx:      ctx,
		cancel:   cancel,
	}
	e.queue = NewQueue(e.deliverBatch,
		cfg.WaitNotify.DeliveryBatchSize,
		cfg.WaitNotify.DeliveryWorkers)
	return e
}

// SetTracker attaches the notify retention tracker
func (e *Engine) SetTracker(t NotifyTracker) {
	e.tracker = t
}

// Start begins processing callback deliveries
func (e *Engine) Start() {
	e.queue.Start()
}

// Stop drains pending deliveries and shuts the engine down
func (e *Engine) Stop() {
	e.cancel()
	e.queue.Flush()
}

// WaitForAllOn registers a wait instance that fires its callback once
// every given correlation ID has been notified. Correlation IDs already
// notified before registration count immediately
func (e *Engine) WaitForAllOn(
	ctx context.Context, publisher string,
	callback, progress *api.CallbackRef, ids ...api.CorrelationID,
) (api.WaitInstanceID, error) {
	if callback == nil {
		return "", ErrNilCallback
	}
	if len(ids) == 0 {
		return "", ErrNoCorrelationIDs
	}
	pending := dedupe(ids)

	waitID := api.WaitInstanceID(uuid.NewString())
	cmd := func(_ *api.WaitInstanceState, ag *WaitAggregator) error {
		return events.Raise(ag, api.EventTypeWaitCreated,
			api.WaitCreatedEvent{
				ID:        waitID,
				Publisher: publisher,
				Callback:  callback,
				Progress:  progress,
				Pending:   pending,
			})
	}
	if _, err := e.waitExec.Exec(
		ctx, events.WaitKey(waitID), cmd,
	); err != nil {
		return "", err
	}

	for _, id := range pending {
		notify, err := e.registerWaiter(ctx, id, waitID)
		if err != nil {
			return "", err
		}
		if notify != nil {
			e.resolve(ctx, waitID, notify)
		}
	}
	return waitID, nil
}

// DoneWith records the completion of a correlation ID and resolves every
// wait instance referencing it. Duplicate notifications are ignored
func (e *Engine) DoneWith(
	ctx context.Context, id api.CorrelationID, data json.RawMessage,
	isError bool,
) error {
	var waiters []api.WaitInstanceID
	var notify *api.NotifyResponse
	cmd := func(st *api.CorrelationState, ag *CorrelationAggregator) error {
		if st.Notify != nil {
			return nil
		}
		if err := events.Raise(ag, api.EventTypeNotifyRecorded,
			api.NotifyRecordedEvent{
				CorrelationID: id,
				Data:          data,
				Error:         isError,
			},
		); err != nil {
			return err
		}
		waiters = slices.Clone(ag.Value().Waiters)
		notify = ag.Value().Notify
		return nil
	}
	if _, err := e.corrExec.Exec(
		ctx, events.CorrelationKey(id), cmd,
	); err != nil {
		return err
	}
	if notify == nil {
		slog.Debug("Duplicate notification ignored",
			log.CorrelationID(id))
		return nil
	}

	for _, waitID := range waiters {
		e.resolve(ctx, waitID, notify)
	}
	if e.tracker != nil {
		e.tracker.Track(ctx, id)
	}
	return nil
}

// ProgressOn forwards an intermediate progress update to every wait
// instance referencing the correlation ID. Progress is delivered, not
// retained
func (e *Engine) ProgressOn(
	ctx context.Context, id api.CorrelationID, data json.RawMessage,
) error {
	st, err := e.getCorrelation(ctx, id)
	if err != nil {
		return err
	}

	for _, waitID := range st.Waiters {
		wait, err := e.GetWaitInstance(ctx, waitID)
		if err != nil {
			slog.Warn("Failed to load wait instance for progress",
				log.CorrelationID(id), log.Error(err))
			continue
		}
		if wait.Progress == nil || wait.Delivered {
			continue
		}

		cmd := func(_ *api.WaitInstanceState, ag *WaitAggregator) error {
			return events.Raise(ag, api.EventTypeWaitProgressed,
				api.WaitProgressedEvent{
					ID:            waitID,
					CorrelationID: id,
					Data:          data,
				})
		}
		if _, err := e.waitExec.Exec(
			ctx, events.WaitKey(waitID), cmd,
		); err != nil {
			slog.Warn("Failed to record progress",
				log.CorrelationID(id), log.Error(err))
			continue
		}

		e.queue.Enqueue(Delivery{
			Kind:          DeliverProgress,
			WaitID:        waitID,
			Callback:      wait.Progress,
			CorrelationID: id,
			ProgressData:  data,
		})
	}
	return nil
}

// GetWaitInstance retrieves the current state of a wait instance
func (e *Engine) GetWaitInstance(
	ctx context.Context, id api.WaitInstanceID,
) (*api.WaitInstanceState, error) {
	return e.waitExec.Exec(ctx, events.WaitKey(id),
		func(_ *api.WaitInstanceState, _ *WaitAggregator) error {
			return nil
		},
	)
}

// ReapNotify clears the stored notification for a correlation ID after
// its retention window has passed
func (e *Engine) ReapNotify(ctx context.Context, id api.CorrelationID) error {
	cmd := func(st *api.CorrelationState, ag *CorrelationAggregator) error {
		if st.Notify == nil {
			return nil
		}
		return events.Raise(ag, api.EventTypeNotifyReaped,
			api.NotifyReapedEvent{CorrelationID: id})
	}
	_, err := e.corrExec.Exec(ctx, events.CorrelationKey(id), cmd)
	return err
}

func (e *Engine) getCorrelation(
	ctx context.Context, id api.CorrelationID,
) (*api.CorrelationState, error) {
	return e.corrExec.Exec(ctx, events.CorrelationKey(id),
		func(_ *api.CorrelationState, _ *CorrelationAggregator) error {
			return nil
		},
	)
}

// registerWaiter registers the wait instance against a correlation ID
// and returns the notification if one already arrived
func (e *Engine) registerWaiter(
	ctx context.Context, id api.CorrelationID, waitID api.WaitInstanceID,
) (*api.NotifyResponse, error) {
	st, err := e.corrExec.Exec(ctx, events.CorrelationKey(id),
		func(_ *api.CorrelationState, ag *CorrelationAggregator) error {
			return events.Raise(ag, api.EventTypeWaiterRegistered,
				api.WaiterRegisteredEvent{
					CorrelationID:  id,
					WaitInstanceID: waitID,
				})
		},
	)
	if err != nil {
		return nil, err
	}
	return st.Notify, nil
}

// resolve marks one correlation ID observed on a wait instance and
// delivers the callback once nothing remains pending
func (e *Engine) resolve(
	ctx context.Context, waitID api.WaitInstanceID, n *api.NotifyResponse,
) {
	deliver := false
	st, err := e.waitExec.Exec(ctx, events.WaitKey(waitID),
		func(st *api.WaitInstanceState, ag *WaitAggregator) error {
			deliver = false
			if st.Delivered {
				return nil
			}
			if !slices.Contains(st.Pending, n.CorrelationID) {
				return nil
			}
			if err := events.Raise(ag, api.EventTypeWaitResolved,
				api.WaitResolvedEvent{
					ID:            waitID,
					CorrelationID: n.CorrelationID,
					Response: &api.ResponseData{
						Data:  n.Data,
						Error: n.Error,
					},
				},
			); err != nil {
				return err
			}
			if !ag.Value().Resolved() {
				return nil
			}
			deliver = true
			return events.Raise(ag, api.EventTypeWaitDelivered,
				api.WaitDeliveredEvent{ID: waitID})
		},
	)
	if err != nil {
		slog.Error("Failed to resolve wait instance",
			log.CorrelationID(n.CorrelationID), log.Error(err))
		return
	}

	e.removeWaiter(ctx, n.CorrelationID, waitID)

	if deliver {
		e.queue.Enqueue(Delivery{
			Kind:      DeliverNotify,
			WaitID:    waitID,
			Callback:  st.Callback,
			Responses: st.Responses,
		})
	}
}

func (e *Engine) removeWaiter(
	ctx context.Context, id api.CorrelationID, waitID api.WaitInstanceID,
) {
	cmd := func(_ *api.CorrelationState, ag *CorrelationAggregator) error {
		return events.Raise(ag, api.EventTypeWaiterRemoved,
			api.WaiterRemovedEvent{
				CorrelationID:  id,
				WaitInstanceID: waitID,
			})
	}
	if _, err := e.corrExec.Exec(
		ctx, events.CorrelationKey(id), cmd,
	); err != nil {
		slog.Warn("Failed to remove waiter registration",
			log.CorrelationID(id), log.Error(err))
	}
}

func (e *Engine) deliverBatch(batch []Delivery) error {
	for _, d := range batch {
		if err := e.deliver(d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) deliver(d Delivery) error {
	switch d.Kind {
	case DeliverProgress:
		cb, err := e.registry.BuildProgress(d.Callback)
		if err != nil {
			return err
		}
		return cb.Progress(e.ctx, d.CorrelationID, d.ProgressData)
	default:
		cb, err := e.registry.BuildNotify(d.Callback)
		if err != nil {
			return err
		}
		return cb.Notify(e.ctx, d.Responses)
	}
}

func dedupe(ids []api.CorrelationID) []api.CorrelationID {
	seen := map[api.CorrelationID]bool{}
	res := make([]api.CorrelationID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	return res
}

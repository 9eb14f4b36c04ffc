package restraint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kode4food/timebox"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

type (
	// Scheduler is a FIFO-fair counting semaphore over named resource
	// units. Each (restraint, unit) pair is one aggregate, so admission
	// decisions for contenders on the same unit are linearized by the
	// store
	Scheduler struct {
		exec      *Executor
		holders   *HolderIndex
		resumer   Resumer
		checker   ReleaseChecker
		interval  time.Duration
		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		startOnce sync.Once
		stopOnce  sync.Once
	}

	// Resumer wakes a consumer whose restraint instance became active
	Resumer interface {
		DoneWith(
			ctx context.Context, id api.CorrelationID,
			data json.RawMessage, isError bool,
		) error
	}

	// ReleaseChecker reports whether a releasing entity has reached a
	// terminal status. known is false when the status cannot currently
	// be determined
	ReleaseChecker interface {
		IsReleaserFinished(
			ctx context.Context, t api.ReleaseEntityType, id string,
		) (finished, known bool)
	}

	// Executor manages restraint unit persistence
	Executor = timebox.Executor[*api.RestraintUnitState]

	// Aggregator aggregates restraint unit state from events
	Aggregator = timebox.Aggregator[*api.RestraintUnitState]
)

var (
	ErrInstanceNotFound = errors.New("restraint instance not found")
	ErrInstanceNotBlocked = errors.New(
		"restraint instance not in blocked state",
	)
	ErrInvalidPermits = errors.New("permits must be positive")
)

// New creates a scheduler over the provided store
func New(
	store *timebox.Store, holders *HolderIndex, cfg *config.Config,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		exec: timebox.NewExecutor(
			store, events.NewRestraintState, events.RestraintAppliers,
		),
		holders:  holders,
		interval: cfg.SweepInterval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetResumer attaches the hook that wakes consumers on activation
func (s *Scheduler) SetResumer(r Resumer) {
	s.resumer = r
}

// SetReleaseChecker attaches the releaser status source
func (s *Scheduler) SetReleaseChecker(c ReleaseChecker) {
	s.checker = c
}

// Save persists a new request against a resource unit. The request is
// assigned the next order position and admitted immediately when the
// permits held by all lower-order non-finished instances leave room;
// otherwise it is stored blocked and woken in arrival order as permits
// free up. The returned instance carries the assigned order and state
func (s *Scheduler) Save(
	ctx context.Context, inst *api.RestraintInstance, capacity int,
) (*api.RestraintInstance, error) {
	if inst.Permits <= 0 {
		return nil, ErrInvalidPermits
	}

	var saved *api.RestraintInstance
	cmd := func(st *api.RestraintUnitState, ag *Aggregator) error {
		stored := *inst
		stored.Order = st.MaxOrder + 1
		if heldBelow(st, stored.Order)+stored.Permits <= capacity {
			stored.State = api.RestraintActive
		} else {
			stored.State = api.RestraintBlocked
		}
		saved = &stored
		return events.Raise(ag, api.EventTypeRestraintRequested,
			api.RestraintRequestedEvent{
				Instance: &stored,
				Capacity: capacity,
			})
	}
	if _, err := s.exec.Exec(
		ctx, events.RestraintKey(inst.RestraintID, inst.ResourceUnit), cmd,
	); err != nil {
		return nil, err
	}

	s.holders.Add(ctx, saved)
	s.holders.TrackUnit(ctx, saved.RestraintID, saved.ResourceUnit)
	slog.Info("Restraint request saved",
		log.RestraintID(saved.RestraintID),
		log.ResourceUnit(saved.ResourceUnit),
		slog.Int64("order", saved.Order),
		slog.String("state", string(saved.State)))
	return saved, nil
}

// ActivateBlockedInstance transitions a specific blocked instance to
// active. It fails when the ID/unit pair does not match a blocked
// record, so the wrong contender can never be activated
func (s *Scheduler) ActivateBlockedInstance(
	ctx context.Context, restraintID api.RestraintID,
	unit api.ResourceUnit, id api.RestraintInstanceID,
) (*api.RestraintInstance, error) {
	var activated *api.RestraintInstance
	cmd := func(st *api.RestraintUnitState, ag *Aggregator) error {
		inst, ok := st.Instances[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		if inst.State != api.RestraintBlocked {
			return fmt.Errorf("%w: %s (state=%s)",
				ErrInstanceNotBlocked, id, inst.State)
		}
		if err := events.Raise(ag, api.EventTypeRestraintActivated,
			api.RestraintActivatedEvent{
				InstanceID:   id,
				ResourceUnit: unit,
			},
		); err != nil {
			return err
		}
		activated = ag.Value().Instances[id]
		return nil
	}
	if _, err := s.exec.Exec(
		ctx, events.RestraintKey(restraintID, unit), cmd,
	); err != nil {
		return nil, err
	}
	return activated, nil
}

// FinishInstance transitions an instance to finished, freeing its
// permits and waking blocked contenders in arrival order. Finishing an
// already-finished instance is a no-op
func (s *Scheduler) FinishInstance(
	ctx context.Context, restraintID api.RestraintID,
	unit api.ResourceUnit, id api.RestraintInstanceID,
) error {
	var woken []*api.RestraintInstance
	var finished *api.RestraintInstance
	cmd := func(st *api.RestraintUnitState, ag *Aggregator) error {
		woken = nil
		finished = nil
		inst, ok := st.Instances[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		if inst.State == api.RestraintFinished {
			return nil
		}
		finished = inst
		if err := events.Raise(ag, api.EventTypeRestraintFinished,
			api.RestraintFinishedEvent{
				InstanceID:   id,
				ResourceUnit: unit,
			},
		); err != nil {
			return err
		}
		return s.wakeAdmissible(ag, &woken)
	}
	if _, err := s.exec.Exec(
		ctx, events.RestraintKey(restraintID, unit), cmd,
	); err != nil {
		return err
	}

	if finished != nil {
		s.holders.Remove(ctx, finished)
	}
	s.notifyWoken(ctx, woken)
	return nil
}

// UpdateActiveConstraintsForInstance force-finishes an instance whose
// releasing entity has itself reached a terminal status. Returns false
// when the releaser's status cannot currently be determined, so callers
// retry on the next reconciliation pass
func (s *Scheduler) UpdateActiveConstraintsForInstance(
	ctx context.Context, inst *api.RestraintInstance,
) (bool, error) {
	if inst.State == api.RestraintFinished {
		return true, nil
	}
	if s.checker == nil {
		return false, nil
	}
	finished, known := s.checker.IsReleaserFinished(
		ctx, inst.ReleaseEntityType, inst.ReleaseEntityID,
	)
	if !known {
		return false, nil
	}
	if !finished {
		return true, nil
	}

	slog.Info("Force-finishing restraint held by terminal releaser",
		log.RestraintID(inst.RestraintID),
		log.ResourceUnit(inst.ResourceUnit),
		slog.String("release_entity_id", inst.ReleaseEntityID))
	err := s.FinishInstance(
		ctx, inst.RestraintID, inst.ResourceUnit, inst.ID,
	)
	return err == nil, err
}

// FinishAllFor finishes every non-finished instance held by a releasing
// entity, reclaiming its permits. Used when the releaser reaches a
// terminal status without explicitly releasing
func (s *Scheduler) FinishAllFor(
	ctx context.Context, t api.ReleaseEntityType, releaseID string,
) error {
	held, err := s.holders.Held(ctx, t, releaseID)
	if err != nil {
		return err
	}
	for _, h := range held {
		if err := s.FinishInstance(
			ctx, h.RestraintID, h.ResourceUnit, h.InstanceID,
		); err != nil && !errors.Is(err, ErrInstanceNotFound) {
			return err
		}
	}
	return nil
}

// GetAllCurrentlyAcquiredPermits sums permits held by all non-finished
// instances for a releasing entity across every resource unit
func (s *Scheduler) GetAllCurrentlyAcquiredPermits(
	ctx context.Context, t api.ReleaseEntityType, releaseID string,
) (int, error) {
	held, err := s.holders.Held(ctx, t, releaseID)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, h := range held {
		st, err := s.GetUnitState(ctx, h.RestraintID, h.ResourceUnit)
		if err != nil {
			return 0, err
		}
		inst, ok := st.Instances[h.InstanceID]
		if !ok || inst.State == api.RestraintFinished {
			continue
		}
		total += inst.Permits
	}
	return total, nil
}

// GetMaxOrder returns the highest order assigned on a resource unit
func (s *Scheduler) GetMaxOrder(
	ctx context.Context, restraintID api.RestraintID, unit api.ResourceUnit,
) (int64, error) {
	st, err := s.GetUnitState(ctx, restraintID, unit)
	if err != nil {
		return 0, err
	}
	return st.MaxOrder, nil
}

// GetUnitState retrieves the current state of a resource unit
func (s *Scheduler) GetUnitState(
	ctx context.Context, restraintID api.RestraintID, unit api.ResourceUnit,
) (*api.RestraintUnitState, error) {
	return s.exec.Exec(ctx, events.RestraintKey(restraintID, unit),
		func(_ *api.RestraintUnitState, _ *Aggregator) error {
			return nil
		},
	)
}

// ReconcileUnit re-runs admission over a unit, waking any blocked
// instances that have become admissible. Used by the reconciliation
// sweep after force-finishes
func (s *Scheduler) ReconcileUnit(
	ctx context.Context, restraintID api.RestraintID, unit api.ResourceUnit,
) error {
	var woken []*api.RestraintInstance
	cmd := func(_ *api.RestraintUnitState, ag *Aggregator) error {
		woken = nil
		return s.wakeAdmissible(ag, &woken)
	}
	if _, err := s.exec.Exec(
		ctx, events.RestraintKey(restraintID, unit), cmd,
	); err != nil {
		return err
	}
	s.notifyWoken(ctx, woken)
	return nil
}

// wakeAdmissible activates blocked instances, lowest order first, while
// admission holds for each in turn
func (s *Scheduler) wakeAdmissible(
	ag *Aggregator, woken *[]*api.RestraintInstance,
) error {
	for {
		st := ag.Value()
		next := nextBlocked(st)
		if next == nil {
			return nil
		}
		if heldBelow(st, next.Order)+next.Permits > st.Capacity {
			return nil
		}
		if err := events.Raise(ag, api.EventTypeRestraintActivated,
			api.RestraintActivatedEvent{
				InstanceID:   next.ID,
				ResourceUnit: next.ResourceUnit,
			},
		); err != nil {
			return err
		}
		*woken = append(*woken, ag.Value().Instances[next.ID])
	}
}

func (s *Scheduler) notifyWoken(
	ctx context.Context, woken []*api.RestraintInstance,
) {
	if s.resumer == nil {
		return
	}
	for _, inst := range woken {
		if inst.ResumeID == "" {
			continue
		}
		if err := s.resumer.DoneWith(
			ctx, inst.ResumeID, nil, false,
		); err != nil {
			slog.Error("Failed to resume restraint consumer",
				log.RestraintID(inst.RestraintID),
				log.ResourceUnit(inst.ResourceUnit),
				log.CorrelationID(inst.ResumeID),
				log.Error(err))
		}
	}
}

// heldBelow sums permits of non-finished instances with order lower
// than the given position
func heldBelow(st *api.RestraintUnitState, order int64) int {
	held := 0
	for _, i := range st.Instances {
		if i.State == api.RestraintFinished || i.Order >= order {
			continue
		}
		held += i.Permits
	}
	return held
}

// nextBlocked returns the blocked instance with the lowest order
func nextBlocked(st *api.RestraintUnitState) *api.RestraintInstance {
	blocked := make([]*api.RestraintInstance, 0, len(st.Instances))
	for _, i := range st.Instances {
		if i.State == api.RestraintBlocked {
			blocked = append(blocked, i)
		}
	}
	if len(blocked) == 0 {
		return nil
	}
	sort.Slice(blocked, func(a, b int) bool {
		return blocked[a].Order < blocked[b].Order
	})
	return blocked[0]
}

package restraint

import (
	"context"
	"log/slog"
	"time"

	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// Start begins the reconciliation sweep. Each pass walks every known
// resource unit, reclaims permits whose releaser reached a terminal
// status without releasing, expires holders past their deadline, and
// re-runs admission so blocked contenders still wake after a missed
// inline release
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Go(s.sweepLoop)
	})
}

// Stop halts the reconciliation sweep
func (s *Scheduler) Stop() {
	s.stopOnce.Do(s.cancel)
	s.wg.Wait()
}

func (s *Scheduler) sweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reconcileAll(s.ctx)
		}
	}
}

func (s *Scheduler) reconcileAll(ctx context.Context) {
	units, err := s.holders.Units(ctx)
	if err != nil {
		slog.Warn("Restraint sweep failed to list units", log.Error(err))
		return
	}
	for _, u := range units {
		s.reconcileInstances(ctx, u)
		if err := s.ReconcileUnit(
			ctx, u.RestraintID, u.ResourceUnit,
		); err != nil {
			slog.Warn("Failed to reconcile resource unit",
				log.RestraintID(u.RestraintID),
				log.ResourceUnit(u.ResourceUnit),
				log.Error(err))
		}
	}
}

// reconcileInstances finishes instances held past their deadline or by
// a terminal releaser. Releasers whose status cannot be determined are
// retried on the next pass
func (s *Scheduler) reconcileInstances(ctx context.Context, u UnitRef) {
	st, err := s.GetUnitState(ctx, u.RestraintID, u.ResourceUnit)
	if err != nil {
		slog.Warn("Restraint sweep failed to load unit",
			log.RestraintID(u.RestraintID),
			log.ResourceUnit(u.ResourceUnit),
			log.Error(err))
		return
	}

	now := time.Now()
	for _, inst := range st.Instances {
		if inst.State == api.RestraintFinished {
			continue
		}
		if !inst.Deadline.IsZero() && now.After(inst.Deadline) {
			slog.Warn("Finishing restraint held past its deadline",
				log.RestraintID(inst.RestraintID),
				log.ResourceUnit(inst.ResourceUnit),
				slog.String("release_entity_id", inst.ReleaseEntityID))
			if err := s.FinishInstance(
				ctx, inst.RestraintID, inst.ResourceUnit, inst.ID,
			); err != nil {
				slog.Warn("Failed to expire restraint instance",
					log.RestraintID(inst.RestraintID),
					log.Error(err))
			}
			continue
		}
		if _, err := s.UpdateActiveConstraintsForInstance(
			ctx, inst,
		); err != nil {
			slog.Warn("Failed to reconcile restraint instance",
				log.RestraintID(inst.RestraintID),
				log.Error(err))
		}
	}
}

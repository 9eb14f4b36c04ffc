package restraint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

type (
	// HolderIndex tracks which resource units a releasing entity holds
	// permits on. Unit aggregates are keyed by (restraint, unit), so
	// per-releaser queries need this side index
	HolderIndex struct {
		redisClient *redis.Client
	}

	// Holding locates one instance a releaser holds
	Holding struct {
		RestraintID  api.RestraintID
		ResourceUnit api.ResourceUnit
		InstanceID   api.RestraintInstanceID
	}

	// UnitRef names one (restraint, unit) aggregate
	UnitRef struct {
		RestraintID  api.RestraintID
		ResourceUnit api.ResourceUnit
	}
)

const (
	holderKeyPrefix = "cascade:restraint:holder"
	unitIndexKey    = "cascade:restraint:units"
)

// NewHolderIndex creates a holder index in the restraint store's Redis
func NewHolderIndex(cfg *config.Config) *HolderIndex {
	return &HolderIndex{
		redisClient: redis.NewClient(&redis.Options{
			Addr:     cfg.RestraintStore.Addr,
			Password: cfg.RestraintStore.Password,
			DB:       cfg.RestraintStore.DB,
		}),
	}
}

// Close releases the index's Redis connection
func (h *HolderIndex) Close() {
	if h == nil {
		return
	}
	_ = h.redisClient.Close()
}

// Add records an instance under its releasing entity
func (h *HolderIndex) Add(ctx context.Context, inst *api.RestraintInstance) {
	if h == nil {
		return
	}
	key := holderKey(inst.ReleaseEntityType, inst.ReleaseEntityID)
	member := holderMember(inst.RestraintID, inst.ResourceUnit, inst.ID)
	if err := h.redisClient.SAdd(ctx, key, member).Err(); err != nil {
		slog.Warn("Failed to index restraint holder",
			log.RestraintID(inst.RestraintID), log.Error(err))
	}
}

// Remove drops an instance from its releaser's set
func (h *HolderIndex) Remove(
	ctx context.Context, inst *api.RestraintInstance,
) {
	if h == nil {
		return
	}
	key := holderKey(inst.ReleaseEntityType, inst.ReleaseEntityID)
	member := holderMember(inst.RestraintID, inst.ResourceUnit, inst.ID)
	if err := h.redisClient.SRem(ctx, key, member).Err(); err != nil {
		slog.Warn("Failed to unindex restraint holder",
			log.RestraintID(inst.RestraintID), log.Error(err))
	}
}

// TrackUnit records that a resource unit has seen at least one request,
// so the reconciliation sweep knows which aggregates to walk
func (h *HolderIndex) TrackUnit(
	ctx context.Context, restraintID api.RestraintID, unit api.ResourceUnit,
) {
	if h == nil {
		return
	}
	member := fmt.Sprintf("%s/%s", restraintID, unit)
	if err := h.redisClient.SAdd(ctx, unitIndexKey, member).Err(); err != nil {
		slog.Warn("Failed to index restraint unit",
			log.RestraintID(restraintID), log.Error(err))
	}
}

// Units returns every resource unit that has seen a request
func (h *HolderIndex) Units(ctx context.Context) ([]UnitRef, error) {
	if h == nil {
		return nil, nil
	}
	members, err := h.redisClient.SMembers(ctx, unitIndexKey).Result()
	if err != nil {
		return nil, err
	}

	res := make([]UnitRef, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "/", 2)
		if len(parts) != 2 {
			continue
		}
		res = append(res, UnitRef{
			RestraintID:  api.RestraintID(parts[0]),
			ResourceUnit: api.ResourceUnit(parts[1]),
		})
	}
	return res, nil
}

// Held returns every instance a releasing entity currently holds
func (h *HolderIndex) Held(
	ctx context.Context, t api.ReleaseEntityType, releaseID string,
) ([]Holding, error) {
	if h == nil {
		return nil, nil
	}
	members, err := h.redisClient.SMembers(
		ctx, holderKey(t, releaseID),
	).Result()
	if err != nil {
		return nil, err
	}

	res := make([]Holding, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "/", 3)
		if len(parts) != 3 {
			continue
		}
		res = append(res, Holding{
			RestraintID:  api.RestraintID(parts[0]),
			ResourceUnit: api.ResourceUnit(parts[1]),
			InstanceID:   api.RestraintInstanceID(parts[2]),
		})
	}
	return res, nil
}

func holderKey(t api.ReleaseEntityType, id string) string {
	return fmt.Sprintf("%s:%s:%s", holderKeyPrefix, t, id)
}

func holderMember(
	restraintID api.RestraintID, unit api.ResourceUnit,
	id api.RestraintInstanceID,
) string {
	return fmt.Sprintf("%s/%s/%s", restraintID, unit, id)
}

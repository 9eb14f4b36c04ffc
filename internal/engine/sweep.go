package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// DeadlineIndex orders suspended node executions by their deadline so
// the sweep only ever inspects nodes that are actually due
type DeadlineIndex struct {
	redisClient *redis.Client
}

const deadlineIndexKey = "cascade:node:deadline"

// NewDeadlineIndex creates a deadline index in the plan store's Redis
func NewDeadlineIndex(cfg *config.Config) *DeadlineIndex {
	return &DeadlineIndex{
		redisClient: redis.NewClient(&redis.Options{
			Addr:     cfg.PlanStore.Addr,
			Password: cfg.PlanStore.Password,
			DB:       cfg.PlanStore.DB,
		}),
	}
}

// Close releases the index's Redis connection
func (d *DeadlineIndex) Close() {
	if d == nil {
		return
	}
	_ = d.redisClient.Close()
}

// Track records a node's suspension deadline
func (d *DeadlineIndex) Track(
	ctx context.Context, id api.NodeExecutionID, deadline time.Time,
) {
	if d == nil || deadline.IsZero() {
		return
	}
	err := d.redisClient.ZAdd(ctx, deadlineIndexKey, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: string(id),
	}).Err()
	if err != nil {
		slog.Warn("Failed to index node deadline",
			log.NodeExecutionID(id), log.Error(err))
	}
}

// Remove drops a node from the index once it resumes or concludes
func (d *DeadlineIndex) Remove(
	ctx context.Context, id api.NodeExecutionID,
) {
	if d == nil {
		return
	}
	err := d.redisClient.ZRem(ctx, deadlineIndexKey, string(id)).Err()
	if err != nil {
		slog.Warn("Failed to unindex node deadline",
			log.NodeExecutionID(id), log.Error(err))
	}
}

// Due returns every node whose deadline has passed
func (d *DeadlineIndex) Due(
	ctx context.Context, now time.Time,
) ([]api.NodeExecutionID, error) {
	if d == nil {
		return nil, nil
	}
	members, err := d.redisClient.ZRangeByScore(ctx, deadlineIndexKey,
		&redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		},
	).Result()
	if err != nil {
		return nil, err
	}
	res := make([]api.NodeExecutionID, len(members))
	for i, m := range members {
		res[i] = api.NodeExecutionID(m)
	}
	return res, nil
}

// sweepLoop periodically expires nodes whose suspension deadline has
// passed
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.sweepDeadlines(e.ctx)
		}
	}
}

func (e *Engine) sweepDeadlines(ctx context.Context) {
	due, err := e.deadlines.Due(ctx, time.Now())
	if err != nil {
		slog.Warn("Deadline sweep failed", log.Error(err))
		return
	}
	for _, id := range due {
		e.expireNode(ctx, id)
		e.deadlines.Remove(ctx, id)
	}
}

// Package tasks hands units of remote work to out-of-process workers
// through Redis queues. A queued task completes when the worker calls
// back with its correlation ID
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

type (
	// Dispatcher queues task envelopes for external workers. Delayed
	// tasks park in a sorted set until their ready time, then promote
	// into the category queue
	Dispatcher struct {
		redisClient *redis.Client
		ctx         context.Context
		cancel      context.CancelFunc
		wg          sync.WaitGroup
		interval    time.Duration
	}

	// Envelope is the payload a worker pops from its category queue
	Envelope struct {
		ID       api.CorrelationID     `json:"id"`
		Setup    api.SetupAbstractions `json:"setup,omitempty"`
		Spec     *api.TaskSpec         `json:"spec"`
		QueuedAt time.Time             `json:"queued_at"`
	}
)

const (
	taskQueuePrefix = "cascade:task:queue"
	taskDelayedKey  = "cascade:task:delayed"
)

var ErrNilTaskSpec = errors.New("task spec is required")

// NewDispatcher creates a dispatcher on the plan store's Redis
func NewDispatcher(cfg *config.Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		redisClient: redis.NewClient(&redis.Options{
			Addr:     cfg.PlanStore.Addr,
			Password: cfg.PlanStore.Password,
			DB:       cfg.PlanStore.DB,
		}),
		ctx:      ctx,
		cancel:   cancel,
		interval: cfg.SweepInterval,
	}
}

// Start begins promoting delayed tasks
func (d *Dispatcher) Start() {
	d.wg.Go(d.run)
}

// Stop shuts the dispatcher down
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	_ = d.redisClient.Close()
}

// QueueTask enqueues a task for its category's workers and returns the
// correlation ID its completion will be reported against
func (d *Dispatcher) QueueTask(
	ctx context.Context, setup api.SetupAbstractions, spec *api.TaskSpec,
	initialDelay time.Duration,
) (api.CorrelationID, error) {
	if spec == nil {
		return "", ErrNilTaskSpec
	}

	env := &Envelope{
		ID:       api.CorrelationID(uuid.NewString()),
		Setup:    setup,
		Spec:     spec,
		QueuedAt: time.Now(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	if initialDelay > 0 {
		readyAt := time.Now().Add(initialDelay)
		err = d.redisClient.ZAdd(ctx, taskDelayedKey, redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: string(data),
		}).Err()
	} else {
		err = d.redisClient.RPush(
			ctx, queueKey(spec.Category), data,
		).Err()
	}
	if err != nil {
		return "", err
	}

	slog.Debug("Task queued",
		log.CorrelationID(env.ID),
		slog.String("category", spec.Category),
		slog.Duration("initial_delay", initialDelay))
	return env.ID, nil
}

func (d *Dispatcher) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.promoteDue(d.ctx)
		}
	}
}

// promoteDue moves delayed tasks whose ready time has passed into
// their category queues
func (d *Dispatcher) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := d.redisClient.ZRangeByScore(ctx, taskDelayedKey,
		&redis.ZRangeBy{
			Min: "-inf",
			Max: now,
		},
	).Result()
	if err != nil {
		slog.Warn("Failed to scan delayed tasks", log.Error(err))
		return
	}

	for _, m := range members {
		var env Envelope
		if err := json.Unmarshal([]byte(m), &env); err != nil {
			_ = d.redisClient.ZRem(ctx, taskDelayedKey, m).Err()
			continue
		}
		err := d.redisClient.RPush(
			ctx, queueKey(env.Spec.Category), m,
		).Err()
		if err != nil {
			slog.Warn("Failed to promote delayed task",
				log.CorrelationID(env.ID),
				log.Error(err))
			continue
		}
		_ = d.redisClient.ZRem(ctx, taskDelayedKey, m).Err()
	}
}

func queueKey(category string) string {
	return fmt.Sprintf("%s:%s", taskQueuePrefix, category)
}

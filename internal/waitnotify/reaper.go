package waitnotify

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// Reaper clears delivered notifications once their retention window has
// passed. Late registrations inside the window still observe the
// notification; after the window the correlation ID can be reused
type Reaper struct {
	engine      *Engine
	redisClient *redis.Client
	config      *config.Config
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

const reapIndexKey = "cascade:notify:expiry"

// NewReaper creates a worker that tracks notification expiry in the wait
// store's Redis and reaps notifications past retention
func NewReaper(e *Engine, cfg *config.Config) *Reaper {
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.WaitStore.Addr,
		Password: cfg.WaitStore.Password,
		DB:       cfg.WaitStore.DB,
	})

	return &Reaper{
		engine:      e,
		redisClient: client,
		config:      cfg,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the reaping loop
func (r *Reaper) Start() {
	r.engine.SetTracker(r)
	r.wg.Add(1)
	go r.run()
}

// Stop gracefully shuts down the reaper
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
	_ = r.redisClient.Close()
}

// Track records when a delivered notification becomes reapable
func (r *Reaper) Track(ctx context.Context, id api.CorrelationID) {
	expiry := time.Now().Add(r.config.WaitNotify.NotifyRetention)
	err := r.redisClient.ZAdd(ctx, reapIndexKey, redis.Z{
		Score:  float64(expiry.UnixMilli()),
		Member: string(id),
	}).Err()
	if err != nil {
		slog.Warn("Failed to track notification expiry",
			log.CorrelationID(id), log.Error(err))
	}
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.WaitNotify.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reapExpired()
		}
	}
}

func (r *Reaper) reapExpired() {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := r.redisClient.ZRangeByScore(r.ctx, reapIndexKey,
		&redis.ZRangeBy{Min: "-inf", Max: now},
	).Result()
	if err != nil {
		slog.Warn("Failed to query notification expiry index",
			log.Error(err))
		return
	}

	for _, id := range ids {
		corrID := api.CorrelationID(id)
		if err := r.engine.ReapNotify(r.ctx, corrID); err != nil {
			slog.Warn("Failed to reap notification",
				log.CorrelationID(corrID), log.Error(err))
			continue
		}
		if err := r.redisClient.ZRem(
			r.ctx, reapIndexKey, id,
		).Err(); err != nil {
			slog.Warn("Failed to remove expiry index entry",
				log.CorrelationID(corrID), log.Error(err))
		}
	}
}

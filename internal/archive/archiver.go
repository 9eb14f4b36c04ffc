// Package archive persists terminal plan executions to a blob bucket
// so the hot stores only carry live work
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"

	"github.com/cascadeci/cascade/internal/engine"
	"github.com/cascadeci/cascade/internal/events"
	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

type (
	// Archiver watches for concluded plan executions and writes their
	// final projection to the bucket
	Archiver struct {
		engine *engine.Engine
		bucket BucketWriter
		prefix string
		hub    timebox.EventHub
		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}

	// BucketWriter is the slice of the blob API the archiver needs
	BucketWriter interface {
		WriteAll(
			context.Context, string, []byte, *blob.WriterOptions,
		) error
	}

	archiveObject struct {
		PlanExecutionID api.PlanExecutionID      `json:"plan_execution_id"`
		Plan            *api.PlanExecutionState  `json:"plan"`
		Nodes           []*api.NodeExecutionState `json:"nodes,omitempty"`
		ArchivedAt      time.Time                `json:"archived_at"`
	}
)

var ErrBucketRequired = errors.New("bucket is required")

// New creates an archiver over the engine's event hub
func New(
	eng *engine.Engine, bucket BucketWriter, prefix string,
	hub timebox.EventHub,
) (*Archiver, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		engine: eng,
		bucket: bucket,
		prefix: prefix,
		hub:    hub,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins watching for terminal plan executions
func (a *Archiver) Start() {
	a.wg.Go(a.run)
}

// Stop shuts the archiver down
func (a *Archiver) Stop() {
	a.cancel()
	a.wg.Wait()
}

func (a *Archiver) run() {
	consumer := a.hub.NewConsumer()
	defer consumer.Close()

	filter := events.FilterEvents(
		timebox.EventType(api.EventTypePlanStatusChanged),
	)
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev, ok := <-consumer.Receive():
			if !ok {
				return
			}
			if filter(ev) {
				a.handlePlanStatusChanged(ev)
			}
		}
	}
}

func (a *Archiver) handlePlanStatusChanged(ev *timebox.Event) {
	var data api.PlanStatusChangedEvent
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		slog.Error("Failed to unmarshal plan status event",
			log.Error(err))
		return
	}
	if !data.Status.IsTerminal() {
		return
	}
	if err := a.Archive(a.ctx, data.ID); err != nil {
		slog.Error("Failed to archive plan execution",
			log.PlanExecutionID(data.ID),
			log.Error(err))
	}
}

// Archive writes the full projection of a plan execution, node
// executions included, to the bucket
func (a *Archiver) Archive(
	ctx context.Context, id api.PlanExecutionID,
) error {
	plan, err := a.engine.GetPlanExecution(ctx, id)
	if err != nil {
		return err
	}

	nodes := make([]*api.NodeExecutionState, 0, len(plan.Nodes))
	for nodeID := range plan.Nodes {
		st, err := a.engine.GetNodeExecution(ctx, nodeID)
		if err != nil {
			slog.Warn("Skipping unarchivable node",
				log.NodeExecutionID(nodeID),
				log.Error(err))
			continue
		}
		nodes = append(nodes, st)
	}

	obj := archiveObject{
		PlanExecutionID: id,
		Plan:            plan,
		Nodes:           nodes,
		ArchivedAt:      time.Now(),
	}
	data, err := json.Marshal(&obj)
	if err != nil {
		return err
	}

	key := archiveKey(a.prefix, id)
	if err := a.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return err
	}
	slog.Info("Plan execution archived",
		log.PlanExecutionID(id),
		slog.String("key", key))
	return nil
}

func archiveKey(prefix string, id api.PlanExecutionID) string {
	if prefix == "" {
		return string(id) + ".json"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + string(id) + ".json"
}

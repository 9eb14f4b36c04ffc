package api

import (
	"context"
	"encoding/json"
	"time"
)

type (
	// TaskSpec describes a unit of remote work to hand to a worker
	TaskSpec struct {
		Category string          `json:"category"`
		Data     json.RawMessage `json:"data,omitempty"`
		Timeout  time.Duration   `json:"timeout,omitempty"`
	}

	// TaskDispatcher queues remote tasks. Completion is delivered later as
	// a DoneWith call against the returned task ID
	TaskDispatcher interface {
		QueueTask(
			ctx context.Context, setup SetupAbstractions, spec *TaskSpec,
			initialDelay time.Duration,
		) (CorrelationID, error)
	}
)

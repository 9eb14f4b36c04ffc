package waitnotify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/cascadeci/cascade/pkg/api"
)

type (
	// Queue delivers callback invocations in bounded batches over a
	// worker pool, decoupling delivery from the transactions that
	// resolve wait instances. A slow callback delays only its own
	// worker; ordering per wait instance comes from the store
	Queue struct {
		prod        topic.Producer[Delivery]
		cons        topic.Consumer[Delivery]
		handler     DeliveryHandler
		stop        chan struct{}
		batchSize   int
		workers     int
		wg          sync.WaitGroup
		startOnce   sync.Once
		stopOnce    sync.Once
		cleanupOnce sync.Once
	}

	// DeliveryHandler processes a batch of deliveries in one execution
	DeliveryHandler func([]Delivery) error

	// DeliveryKind distinguishes final notification from progress
	DeliveryKind int

	// Delivery is one pending callback invocation
	Delivery struct {
		Kind          DeliveryKind
		WaitID        api.WaitInstanceID
		Callback      *api.CallbackRef
		Responses     api.ResponseMap
		CorrelationID api.CorrelationID
		ProgressData  json.RawMessage
	}
)

const (
	DeliverNotify DeliveryKind = iota
	DeliverProgress
)

var ErrDeliveryPanicked = errors.New("callback delivery panicked")

const (
	deliveryMaxRetries = 3
	deliveryRetryDelay = 100 * time.Millisecond
)

// NewQueue creates a delivery queue with the provided batch size and
// worker count
func NewQueue(handler DeliveryHandler, batchSize, workers int) *Queue {
	queue := caravan.NewTopic[Delivery]()
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		prod:      queue.NewProducer(),
		cons:      queue.NewConsumer(),
		handler:   handler,
		stop:      make(chan struct{}),
		batchSize: batchSize,
		workers:   workers,
	}
}

// Start begins processing queued deliveries
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		for range q.workers {
			q.wg.Go(func() {
				for {
					select {
					case <-q.stop:
						return
					case d, ok := <-q.cons.Receive():
						if !ok {
							return
						}
						q.handleBatch(q.collectBatch(d))
					}
				}
			})
		}
	})
}

// Enqueue adds a delivery to the queue
func (q *Queue) Enqueue(d Delivery) {
	q.prod.Send() <- d
}

// Flush waits for queued deliveries to complete and stops the queue
func (q *Queue) Flush() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.wg.Wait()
	q.cleanupOnce.Do(q.flush)
}

// Cancel immediately stops the queue without draining it
func (q *Queue) Cancel() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.wg.Wait()
	q.cleanupOnce.Do(q.close)
}

func (q *Queue) collectBatch(first Delivery) []Delivery {
	batch := []Delivery{first}
	for len(batch) < q.batchSize {
		select {
		case d, ok := <-q.cons.Receive():
			if !ok {
				return batch
			}
			batch = append(batch, d)
		default:
			return batch
		}
	}
	return batch
}

func (q *Queue) flush() {
	for {
		select {
		case d, ok := <-q.cons.Receive():
			if !ok {
				q.close()
				return
			}
			q.handleBatch(q.collectBatch(d))
		default:
			q.close()
			return
		}
	}
}

func (q *Queue) close() {
	q.prod.Close()
	q.cons.Close()
}

func (q *Queue) handleBatch(batch []Delivery) {
	for attempt := range deliveryMaxRetries {
		err := q.tryHandleBatch(batch)
		if err == nil {
			return
		}
		slog.Error("Callback delivery batch failed",
			slog.Int("batch_size", len(batch)),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", deliveryMaxRetries),
			slog.Any("error", err))
		if attempt < deliveryMaxRetries-1 {
			time.Sleep(deliveryRetryDelay)
		}
	}
	slog.Error("Callback delivery batch permanently failed",
		slog.Int("batch_size", len(batch)))
}

func (q *Queue) tryHandleBatch(batch []Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDeliveryPanicked, r)
		}
	}()
	return q.handler(batch)
}

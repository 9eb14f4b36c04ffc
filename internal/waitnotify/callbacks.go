package waitnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cascadeci/cascade/pkg/api"
)

type (
	// NotifyCallback fires once every correlation ID a wait instance
	// references has been notified
	NotifyCallback interface {
		Notify(ctx context.Context, responses api.ResponseMap) error
	}

	// ProgressCallback fires each time an intermediate progress update
	// arrives for a correlation ID the wait instance references
	ProgressCallback interface {
		Progress(
			ctx context.Context, id api.CorrelationID,
			data json.RawMessage,
		) error
	}

	// NotifyFactory rebuilds a notify callback from its stored parameters
	NotifyFactory func(params json.RawMessage) (NotifyCallback, error)

	// ProgressFactory rebuilds a progress callback from its stored
	// parameters
	ProgressFactory func(params json.RawMessage) (ProgressCallback, error)

	// Registry maps callback kinds to factories. Callbacks can't be
	// persisted as code, so wait instances store a kind plus parameters
	// and the registry rebuilds the callback at delivery time. Kinds are
	// registered once at process start
	Registry struct {
		mu       sync.RWMutex
		notify   map[api.CallbackKind]NotifyFactory
		progress map[api.CallbackKind]ProgressFactory
	}
)

var (
	ErrUnknownCallbackKind = errors.New("unknown callback kind")
	ErrNilCallback         = errors.New("callback must not be nil")
	ErrNoCorrelationIDs    = errors.New("at least one correlation ID required")
)

// NewRegistry creates an empty callback registry
func NewRegistry() *Registry {
	return &Registry{
		notify:   map[api.CallbackKind]NotifyFactory{},
		progress: map[api.CallbackKind]ProgressFactory{},
	}
}

// RegisterNotify registers a notify callback factory under a kind
func (r *Registry) RegisterNotify(
	kind api.CallbackKind, fn NotifyFactory,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify[kind] = fn
}

// RegisterProgress registers a progress callback factory under a kind
func (r *Registry) RegisterProgress(
	kind api.CallbackKind, fn ProgressFactory,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[kind] = fn
}

// BuildNotify rebuilds the notify callback a wait instance references
func (r *Registry) BuildNotify(ref *api.CallbackRef) (NotifyCallback, error) {
	if ref == nil {
		return nil, ErrNilCallback
	}
	r.mu.RLock()
	fn, ok := r.notify[ref.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCallbackKind, ref.Kind)
	}
	return fn(ref.Params)
}

// BuildProgress rebuilds the progress callback a wait instance references
func (r *Registry) BuildProgress(
	ref *api.CallbackRef,
) (ProgressCallback, error) {
	if ref == nil {
		return nil, ErrNilCallback
	}
	r.mu.RLock()
	fn, ok := r.progress[ref.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCallbackKind, ref.Kind)
	}
	return fn(ref.Params)
}

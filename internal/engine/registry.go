package engine

import (
	"fmt"
	"sync"

	"github.com/cascadeci/cascade/pkg/api"
)

// Registry maps step types to their executors, facilitators, and
// advisers. Populated once at process start; the engine never falls
// back to reflection or dynamic lookup
type Registry struct {
	mu           sync.RWMutex
	executors    map[api.StepType]api.StepExecutor
	facilitators map[string]api.Facilitator
	advisers     map[string]api.Adviser
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		executors:    map[api.StepType]api.StepExecutor{},
		facilitators: map[string]api.Facilitator{},
		advisers:     map[string]api.Adviser{},
	}
}

// RegisterExecutor registers a step executor for a step type
func (r *Registry) RegisterExecutor(t api.StepType, ex api.StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = ex
}

// RegisterFacilitator registers a facilitator under a type name
func (r *Registry) RegisterFacilitator(name string, f api.Facilitator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facilitators[name] = f
}

// RegisterAdviser registers an adviser under a type name
func (r *Registry) RegisterAdviser(name string, a api.Adviser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advisers[name] = a
}

// Executor returns the executor for a step type
func (r *Registry) Executor(t api.StepType) (api.StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, t)
	}
	return ex, nil
}

// Facilitator returns the facilitator for a type name
func (r *Registry) Facilitator(name string) (api.Facilitator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.facilitators[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFacilitator, name)
	}
	return f, nil
}

// Advisers returns the advisers for the given type names, skipping any
// that are not registered
func (r *Registry) Advisers(names []string) []api.Adviser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]api.Adviser, 0, len(names))
	for _, n := range names {
		if a, ok := r.advisers[n]; ok {
			res = append(res, a)
		}
	}
	return res
}

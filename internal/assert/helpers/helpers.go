package helpers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeci/cascade/internal/resolver"
	"github.com/cascadeci/cascade/pkg/api"
)

type (
	// MockExecutor is a scriptable step executor. Responses are keyed by
	// setup node ID so one executor can serve a whole plan
	MockExecutor struct {
		mu        sync.Mutex
		responses map[api.SetupNodeID]*api.StepResponse
		sequences map[api.SetupNodeID][]*api.StepResponse
		handles   map[api.SetupNodeID]*api.AsyncHandle
		errors    map[api.SetupNodeID]error
		resumed   map[api.SetupNodeID]*api.StepResponse
		executed  []api.SetupNodeID
	}

	// MockFacilitator returns a configured execution mode, defaulting
	// to synchronous
	MockFacilitator struct {
		mu    sync.Mutex
		modes map[api.SetupNodeID]api.ExecutionMode
	}

	// MockAdviser replays a fixed response for every advising event.
	// With FailuresOnly set it stays silent on successful conclusions
	MockAdviser struct {
		mu           sync.Mutex
		Response     *api.AdviserResponse
		Err          error
		FailuresOnly bool
		events       []*api.AdvisingEvent
	}

	// MockTasks records queued task specs without dispatching them
	MockTasks struct {
		mu     sync.Mutex
		queued []QueuedTask
	}

	// QueuedTask is one recorded QueueTask call
	QueuedTask struct {
		ID    api.CorrelationID
		Setup api.SetupAbstractions
		Spec  *api.TaskSpec
		Delay time.Duration
	}

	// MapSecretSource resolves secrets from an in-memory map
	MapSecretSource struct {
		Secrets map[string]string
	}
)

const (
	// TestStepType is the step type the environment's mock executor
	// registers under
	TestStepType api.StepType = "test"

	// TestFacilitator is the facilitator type registered by default
	TestFacilitator = "test"
)

// NewMockExecutor creates an executor that succeeds with empty outcomes
// until told otherwise
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		responses: map[api.SetupNodeID]*api.StepResponse{},
		sequences: map[api.SetupNodeID][]*api.StepResponse{},
		handles:   map[api.SetupNodeID]*api.AsyncHandle{},
		errors:    map[api.SetupNodeID]error{},
		resumed:   map[api.SetupNodeID]*api.StepResponse{},
	}
}

// SetResponse configures the synchronous response for a setup node
func (m *MockExecutor) SetResponse(id api.SetupNodeID, r *api.StepResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = r
}

// SetResponseSequence configures responses consumed one per Execute
// call; the last response repeats once the sequence is exhausted
func (m *MockExecutor) SetResponseSequence(
	id api.SetupNodeID, rs ...*api.StepResponse,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[id] = rs
}

// SetHandle configures an async handle for a setup node
func (m *MockExecutor) SetHandle(id api.SetupNodeID, h *api.AsyncHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[id] = h
}

// SetError configures an execution error for a setup node
func (m *MockExecutor) SetError(id api.SetupNodeID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[id] = err
}

// SetResumeResponse configures the response HandleAsyncResponse returns
func (m *MockExecutor) SetResumeResponse(
	id api.SetupNodeID, r *api.StepResponse,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed[id] = r
}

// Executed returns the setup node IDs that reached Execute, in order
func (m *MockExecutor) Executed() []api.SetupNodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]api.SetupNodeID, len(m.executed))
	copy(res, m.executed)
	return res
}

// WasExecuted reports whether Execute was reached for a setup node
func (m *MockExecutor) WasExecuted(id api.SetupNodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.executed {
		if e == id {
			return true
		}
	}
	return false
}

func (m *MockExecutor) Execute(
	_ context.Context, amb *api.Ambiance, _ json.RawMessage,
) (*api.StepResponse, *api.AsyncHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := amb.CurrentSetupID()
	m.executed = append(m.executed, id)

	if err, ok := m.errors[id]; ok {
		return nil, nil, err
	}
	if h, ok := m.handles[id]; ok {
		return nil, h, nil
	}
	if seq, ok := m.sequences[id]; ok && len(seq) > 0 {
		r := seq[0]
		if len(seq) > 1 {
			m.sequences[id] = seq[1:]
		}
		return r, nil, nil
	}
	if r, ok := m.responses[id]; ok {
		return r, nil, nil
	}
	return &api.StepResponse{Status: api.StatusSucceeded}, nil, nil
}

func (m *MockExecutor) HandleAsyncResponse(
	_ context.Context, amb *api.Ambiance, _ json.RawMessage,
	responses api.ResponseMap,
) (*api.StepResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := amb.CurrentSetupID()
	if r, ok := m.resumed[id]; ok {
		return r, nil
	}

	for _, rd := range responses {
		if rd != nil && rd.Error {
			return api.FailedResponse(
				"async callback failed", api.FailureTypeApplication,
			), nil
		}
	}
	return &api.StepResponse{Status: api.StatusSucceeded}, nil
}

// NewMockFacilitator creates a facilitator that chooses sync mode
func NewMockFacilitator() *MockFacilitator {
	return &MockFacilitator{modes: map[api.SetupNodeID]api.ExecutionMode{}}
}

// SetMode overrides the execution mode for a setup node
func (m *MockFacilitator) SetMode(id api.SetupNodeID, mode api.ExecutionMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[id] = mode
}

func (m *MockFacilitator) Facilitate(
	_ context.Context, amb *api.Ambiance, _ json.RawMessage,
) (*api.FacilitatorResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mode, ok := m.modes[amb.CurrentSetupID()]
	if !ok {
		mode = api.ModeSync
	}
	return &api.FacilitatorResponse{Mode: mode}, nil
}

func (m *MockAdviser) OnAdviseEvent(
	ev *api.AdvisingEvent,
) (*api.AdviserResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if m.FailuresOnly && ev.Status == api.StatusSucceeded {
		return nil, nil
	}
	return m.Response, m.Err
}

// Events returns the advising events seen so far
func (m *MockAdviser) Events() []*api.AdvisingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*api.AdvisingEvent, len(m.events))
	copy(res, m.events)
	return res
}

// NewMockTasks creates an empty task recorder
func NewMockTasks() *MockTasks {
	return &MockTasks{}
}

func (m *MockTasks) QueueTask(
	_ context.Context, setup api.SetupAbstractions, spec *api.TaskSpec,
	initialDelay time.Duration,
) (api.CorrelationID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := api.CorrelationID(uuid.New().String())
	m.queued = append(m.queued, QueuedTask{
		ID:    id,
		Setup: setup,
		Spec:  spec,
		Delay: initialDelay,
	})
	return id, nil
}

// Queued returns the recorded QueueTask calls
func (m *MockTasks) Queued() []QueuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]QueuedTask, len(m.queued))
	copy(res, m.queued)
	return res
}

func (s *MapSecretSource) GetSecret(
	_ context.Context, _ api.FunctorToken, name string,
) (string, error) {
	if v, ok := s.Secrets[name]; ok {
		return v, nil
	}
	return "", resolver.ErrSecretNotFound
}

// NewTestNode creates a plan node wired to the environment's mock
// executor and facilitator
func NewTestNode(id api.SetupNodeID) *api.PlanNode {
	return &api.PlanNode{
		ID:              id,
		Name:            "Test " + string(id),
		StepType:        TestStepType,
		FacilitatorType: TestFacilitator,
	}
}

// NewLinearPlan chains the given nodes with NextID links, starting at
// the first
func NewLinearPlan(ids ...api.SetupNodeID) *api.Plan {
	plan := &api.Plan{
		Nodes:       map[api.SetupNodeID]*api.PlanNode{},
		StartNodeID: ids[0],
	}
	for i, id := range ids {
		node := NewTestNode(id)
		if i < len(ids)-1 {
			node.NextID = ids[i+1]
		}
		plan.Nodes[id] = node
	}
	return plan
}

// NewPlanID generates a unique plan execution ID
func NewPlanID() api.PlanExecutionID {
	return api.PlanExecutionID("plan-" + uuid.New().String()[:8])
}

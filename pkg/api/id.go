package api

type (
	// PlanExecutionID uniquely identifies a single run of a plan
	PlanExecutionID string

	// NodeExecutionID uniquely identifies one node instance in a running
	// plan. A retried node gets a fresh NodeExecutionID
	NodeExecutionID string

	// SetupNodeID identifies a node definition within a plan. It is reused
	// across instances of the same node
	SetupNodeID string

	// CorrelationID is an opaque token matching an asynchronous completion
	// back to the party waiting on it
	CorrelationID string

	// WaitInstanceID identifies a single wait registration
	WaitInstanceID string

	// RestraintID identifies a named resource restraint
	RestraintID string

	// ResourceUnit is the specific contended key under a restraint, such as
	// an account or infrastructure identifier
	ResourceUnit string

	// FunctorToken scopes secret-resolution functors to one plan execution
	FunctorToken string

	// StepType identifies the kind of work a node performs
	StepType string
)

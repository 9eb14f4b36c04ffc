package api

type (
	// Status represents the current state of a node execution
	Status string

	// PlanStatus represents the overall state of a plan execution
	PlanStatus string
)

const (
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusSuspended        Status = "suspended"
	StatusInterveneWaiting Status = "intervene_waiting"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusAborted          Status = "aborted"
	StatusExpired          Status = "expired"
)

const (
	PlanRunning   PlanStatus = "running"
	PlanPaused    PlanStatus = "paused"
	PlanSucceeded PlanStatus = "succeeded"
	PlanFailed    PlanStatus = "failed"
	PlanAborted   PlanStatus = "aborted"
	PlanExpired   PlanStatus = "expired"
)

// IsTerminal returns true for statuses that admit no further transitions
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusExpired:
		return true
	}
	return false
}

// IsTerminal returns true for plan statuses that admit no further transitions
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanSucceeded, PlanFailed, PlanAborted, PlanExpired:
		return true
	}
	return false
}

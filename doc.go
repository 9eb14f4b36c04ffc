// Package cascade is the pipeline execution orchestration core: a durable
// state machine that drives a DAG of execution nodes through facilitation,
// execution, advisement, and resumption, coordinating with out-of-process
// workers through a generic wait/notify correlation engine and bounding
// concurrent resource usage through an ordered restraint scheduler.
package cascade

const (
	// Name is the service name reported in logs and health output
	Name = "cascade"

	// Version is the engine version reported in logs and health output
	Version = "0.3.0"
)

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type (
	// Plan is a directed acyclic graph of node definitions. Sibling order
	// is expressed through NextID chains; containment through ChildIDs
	Plan struct {
		Nodes       map[SetupNodeID]*PlanNode `json:"nodes"`
		StartNodeID SetupNodeID               `json:"start_node_id"`
	}

	// PlanNode is one node definition within a plan
	PlanNode struct {
		ID              SetupNodeID     `json:"id"`
		Name            string          `json:"name"`
		StepType        StepType        `json:"step_type"`
		Group           string          `json:"group,omitempty"`
		Parameters      json.RawMessage `json:"parameters,omitempty"`
		FacilitatorType string          `json:"facilitator_type,omitempty"`
		AdviserTypes    []string        `json:"adviser_types,omitempty"`
		Restraint       *RestraintDecl  `json:"restraint,omitempty"`
		NextID          SetupNodeID     `json:"next_id,omitempty"`
		ChildIDs        []SetupNodeID   `json:"child_ids,omitempty"`
		Timeout         time.Duration   `json:"timeout,omitempty"`
	}

	// RestraintDecl declares a node's dependency on a constrained resource.
	// The unit expression is resolved against the ambiance at start time
	RestraintDecl struct {
		RestraintID  RestraintID `json:"restraint_id"`
		ResourceUnit string      `json:"resource_unit"`
		Permits      int         `json:"permits"`
		Capacity     int         `json:"capacity"`
	}
)

var (
	ErrEmptyPlan        = errors.New("plan has no nodes")
	ErrMissingStartNode = errors.New("plan start node not found")
	ErrDanglingNodeRef  = errors.New("plan references unknown node")
)

// StartNode returns the plan's starting node, or nil for an empty plan
func (p *Plan) StartNode() *PlanNode {
	return p.Nodes[p.StartNodeID]
}

// Validate checks structural integrity of the plan graph
func (p *Plan) Validate() error {
	if len(p.Nodes) == 0 {
		return ErrEmptyPlan
	}
	if _, ok := p.Nodes[p.StartNodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingStartNode, p.StartNodeID)
	}
	for id, node := range p.Nodes {
		if node.NextID != "" {
			if _, ok := p.Nodes[node.NextID]; !ok {
				return fmt.Errorf("%w: %s -> %s",
					ErrDanglingNodeRef, id, node.NextID)
			}
		}
		for _, child := range node.ChildIDs {
			if _, ok := p.Nodes[child]; !ok {
				return fmt.Errorf("%w: %s -> %s",
					ErrDanglingNodeRef, id, child)
			}
		}
	}
	return nil
}

package api

import (
	"maps"
	"time"
)

type (
	// RestraintInstanceID identifies one request for a restrained resource
	RestraintInstanceID string

	// RestraintInstanceState is the admission state of one request
	RestraintInstanceState string

	// ReleaseEntityType names the kind of entity whose completion frees a
	// restraint instance
	ReleaseEntityType string

	// RestraintInstance is one request for permits on a resource unit.
	// Order is assigned at creation and drives FIFO fairness; instances
	// are never reused
	RestraintInstance struct {
		ID                RestraintInstanceID    `json:"id"`
		RestraintID       RestraintID            `json:"restraint_id"`
		ResourceUnit      ResourceUnit           `json:"resource_unit"`
		Permits           int                    `json:"permits"`
		Order             int64                  `json:"order"`
		State             RestraintInstanceState `json:"state"`
		ReleaseEntityType ReleaseEntityType      `json:"release_entity_type"`
		ReleaseEntityID   string                 `json:"release_entity_id"`
		ResumeID          CorrelationID          `json:"resume_id,omitempty"`
		Deadline          time.Time              `json:"deadline,omitempty"`
		CreatedAt         time.Time              `json:"created_at"`
	}

	// RestraintUnitState is the aggregate state of one contended resource
	// unit under a restraint: its capacity, the highest assigned order,
	// and every instance ever requested against it
	RestraintUnitState struct {
		RestraintID  RestraintID                                `json:"restraint_id"`
		ResourceUnit ResourceUnit                               `json:"resource_unit"`
		Capacity     int                                        `json:"capacity"`
		MaxOrder     int64                                      `json:"max_order"`
		Instances    map[RestraintInstanceID]*RestraintInstance `json:"instances,omitempty"`
		LastUpdated  time.Time                                  `json:"last_updated"`
	}
)

const (
	RestraintBlocked  RestraintInstanceState = "blocked"
	RestraintActive   RestraintInstanceState = "active"
	RestraintFinished RestraintInstanceState = "finished"
)

const (
	ReleaseEntityPlan ReleaseEntityType = "plan_execution"
	ReleaseEntityNode ReleaseEntityType = "node_execution"
)

// SetInstance returns a new state with the instance stored
func (st *RestraintUnitState) SetInstance(
	i *RestraintInstance,
) *RestraintUnitState {
	res := *st
	res.Instances = maps.Clone(st.Instances)
	if res.Instances == nil {
		res.Instances = map[RestraintInstanceID]*RestraintInstance{}
	}
	res.Instances[i.ID] = i
	if i.Order > res.MaxOrder {
		res.MaxOrder = i.Order
	}
	return &res
}

// SetCapacity returns a new state with the unit capacity set
func (st *RestraintUnitState) SetCapacity(c int) *RestraintUnitState {
	res := *st
	res.Capacity = c
	return &res
}

// SetLastUpdated returns a new state with the last updated timestamp set
func (st *RestraintUnitState) SetLastUpdated(
	t time.Time,
) *RestraintUnitState {
	res := *st
	res.LastUpdated = t
	return &res
}

// SetState returns a copy of the instance with the admission state set
func (i *RestraintInstance) SetState(
	s RestraintInstanceState,
) *RestraintInstance {
	res := *i
	res.State = s
	return &res
}

// HeldPermits sums permits held by all non-finished instances
func (st *RestraintUnitState) HeldPermits() int {
	held := 0
	for _, i := range st.Instances {
		if i.State == RestraintActive {
			held += i.Permits
		}
	}
	return held
}

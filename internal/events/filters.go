package events

import "github.com/kode4food/timebox"

// EventFilter selects events a subscriber cares about
type EventFilter func(*timebox.Event) bool

// FilterEvents matches events whose type is in the given set
func FilterEvents(eventTypes ...timebox.EventType) EventFilter {
	lookup := map[timebox.EventType]bool{}
	for _, et := range eventTypes {
		lookup[et] = true
	}
	return func(ev *timebox.Event) bool {
		return lookup[ev.Type]
	}
}

// FilterAggregate matches events raised against one aggregate
func FilterAggregate(id timebox.AggregateID) EventFilter {
	return func(ev *timebox.Event) bool {
		if len(ev.AggregateID) != len(id) {
			return false
		}
		for i, part := range id {
			if ev.AggregateID[i] != part {
				return false
			}
		}
		return true
	}
}

// FilterPlan matches plan-aggregate events for one plan execution
func FilterPlan(id timebox.ID) EventFilter {
	return func(ev *timebox.Event) bool {
		return IsPlanEvent(ev) && ev.AggregateID[1] == id
	}
}

// AndFilters matches events accepted by every filter
func AndFilters(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// OrFilters matches events accepted by any filter
func OrFilters(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, filter := range filters {
			if filter(ev) {
				return true
			}
		}
		return false
	}
}

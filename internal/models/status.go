package models

// Status is the lifecycle state of an event.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	// StatusDeleted soft-deletes a record: hidden from listings, does not
	// block slots. Delete itself removes records outright.
	StatusDeleted Status = "deleted"
)

// statusTransitions is the authoritative transition table. Completed and
// cancelled are terminal; deleted is reachable from any state and terminal.
var statusTransitions = map[Status][]Status{
	StatusScheduled:   {StatusRescheduled, StatusCompleted, StatusCancelled, StatusDeleted},
	StatusRescheduled: {StatusRescheduled, StatusCompleted, StatusCancelled, StatusDeleted},
	StatusCompleted:   {},
	StatusCancelled:   {},
	StatusDeleted:     {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether no further status or time edits are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDeleted
}

// CanTransitionTo reports whether the move from s to next is allowed.
// A no-op transition to the same non-terminal status is permitted.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next && !s.Terminal() {
		return true
	}
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Blocking reports whether an event in this status still occupies its time
// slot for conflict purposes.
func (s Status) Blocking() bool {
	return s != StatusCancelled && s != StatusDeleted
}

package lifecycle

import (
	"fmt"

	"postpilot/internal/models"
	"postpilot/internal/store"
)

// ErrNotFound covers both a missing job/bot and one owned by another account.
// The two cases are never distinguished.
var ErrNotFound = store.ErrNotFound

// ValidationError reports a user-correctable problem with a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IllegalTransitionError reports a guard violation: the job was not in a legal
// source state for the requested event, retries were exhausted, or a
// concurrent transition won the write.
type IllegalTransitionError struct {
	Status models.JobStatus
	Event  Event
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s job in state %q: %s", e.Event, e.Status, e.Reason)
}

func illegal(status models.JobStatus, ev Event, reason string) *IllegalTransitionError {
	return &IllegalTransitionError{Status: status, Event: ev, Reason: reason}
}

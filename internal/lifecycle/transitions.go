package lifecycle

import (
	"postpilot/internal/models"
)

// Event names a lifecycle transition request.
type Event string

const (
	EventEdit   Event = "edit"
	EventClaim  Event = "claim"
	EventRetry  Event = "retry"
	EventCancel Event = "cancel"
	EventDelete Event = "delete"

	// EventComplete and EventFail are reported by the execution adapter once
	// per claim.
	EventComplete Event = "complete"
	EventFail     Event = "fail"
)

// transitions is the single source of truth for legal source states per
// event. Edit and delete leave the status untouched (or remove the row), so
// their target is the zero value.
var transitions = map[Event]struct {
	from []models.JobStatus
	to   models.JobStatus
}{
	EventEdit:     {from: []models.JobStatus{models.StatusPending, models.StatusFailed}},
	EventClaim:    {from: []models.JobStatus{models.StatusPending}, to: models.StatusProcessing},
	EventComplete: {from: []models.JobStatus{models.StatusProcessing}, to: models.StatusCompleted},
	EventFail:     {from: []models.JobStatus{models.StatusProcessing}, to: models.StatusFailed},
	EventRetry:    {from: []models.JobStatus{models.StatusFailed}, to: models.StatusPending},
	EventCancel:   {from: []models.JobStatus{models.StatusPending, models.StatusProcessing}, to: models.StatusCancelled},
	EventDelete:   {from: []models.JobStatus{models.StatusPending, models.StatusFailed}},
}

// sourceStates returns the legal source states for an event. The same slice
// guards the conditional UPDATE, so the check the guard performs in memory is
// re-evaluated atomically at write time.
func sourceStates(ev Event) []models.JobStatus {
	return transitions[ev].from
}

// target returns the state an event transitions into.
func target(ev Event) models.JobStatus {
	return transitions[ev].to
}

// guard rejects an event whose source state is not legal for the job's
// current status.
func guard(status models.JobStatus, ev Event) error {
	t, ok := transitions[ev]
	if !ok {
		return illegal(status, ev, "unknown event")
	}
	for _, from := range t.from {
		if status == from {
			return nil
		}
	}
	if status.Terminal() {
		return illegal(status, ev, "job is in a terminal state")
	}
	return illegal(status, ev, "job is not in an eligible state")
}

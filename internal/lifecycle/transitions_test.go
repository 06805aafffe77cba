package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"postpilot/internal/models"
)

func TestGuardTable(t *testing.T) {
	legal := map[models.JobStatus][]Event{
		models.StatusPending:    {EventEdit, EventClaim, EventCancel, EventDelete},
		models.StatusProcessing: {EventComplete, EventFail, EventCancel},
		models.StatusFailed:     {EventEdit, EventRetry, EventDelete},
		models.StatusCompleted:  {},
		models.StatusCancelled:  {},
	}
	events := []Event{EventEdit, EventClaim, EventComplete, EventFail, EventRetry, EventCancel, EventDelete}

	for status, allowed := range legal {
		allowedSet := map[Event]bool{}
		for _, ev := range allowed {
			allowedSet[ev] = true
		}
		for _, ev := range events {
			err := guard(status, ev)
			if allowedSet[ev] {
				assert.NoError(t, err, "%s should allow %s", status, ev)
				continue
			}
			var terr *IllegalTransitionError
			assert.ErrorAs(t, err, &terr, "%s should reject %s", status, ev)
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	for _, status := range []models.JobStatus{models.StatusCompleted, models.StatusCancelled} {
		for ev := range transitions {
			err := guard(status, ev)
			var terr *IllegalTransitionError
			assert.ErrorAs(t, err, &terr)
			assert.Contains(t, terr.Reason, "terminal")
		}
	}
}

func TestGuardUnknownEvent(t *testing.T) {
	err := guard(models.StatusPending, Event("promote"))
	var terr *IllegalTransitionError
	assert.ErrorAs(t, err, &terr)
}

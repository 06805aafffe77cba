// Package audit writes domain events to the append-only logs table. Recording
// is fire-and-forget: a sink failure never blocks or fails the lifecycle
// transition that produced the event.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"postpilot/internal/models"
	"postpilot/internal/store"
)

const recordTimeout = 5 * time.Second

// Sink persists audit entries through the log store.
type Sink struct {
	logs *store.LogStore
	log  zerolog.Logger
}

func NewSink(logs *store.LogStore, logger zerolog.Logger) *Sink {
	return &Sink{logs: logs, log: logger}
}

// Record appends the entry asynchronously. The write detaches from the
// caller's context so a cancelled request cannot drop its own audit trail;
// insert failures are logged and swallowed.
func (s *Sink) Record(_ context.Context, entry models.LogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Level == "" {
		entry.Level = models.LogInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.logs.Append(ctx, entry); err != nil {
			s.log.Debug().Err(err).Str("category", string(entry.Category)).Msg("audit record dropped")
		}
	}()
}

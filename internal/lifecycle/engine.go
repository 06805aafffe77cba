// Package lifecycle implements the job state machine: which transitions are
// legal, how retry accounting and timestamps evolve, and the guards that keep
// them consistent under concurrent mutation. Every transition is written with
// compare-and-swap semantics against the record store, so a request racing a
// concurrent transition surfaces an IllegalTransitionError instead of
// silently overwriting it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"postpilot/internal/models"
	"postpilot/internal/store"
	"postpilot/internal/telemetry"
)

var urlPattern = regexp.MustCompile(`^https?://.+`)

// JobStore is the record store contract the engine consumes. Claim, UpdateIf,
// and DeleteIf must be atomic conditional writes guarded by the current
// status, returning store.ErrConflict when the row is no longer eligible.
type JobStore interface {
	Create(ctx context.Context, job models.Job) error
	Get(ctx context.Context, id string) (models.Job, error)
	GetOwned(ctx context.Context, id, ownerID string) (models.Job, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	Claim(ctx context.Context, id string, now time.Time) (models.Job, error)
	UpdateIf(ctx context.Context, job models.Job, from ...models.JobStatus) error
	DeleteIf(ctx context.Context, id, ownerID string, from ...models.JobStatus) error
	List(ctx context.Context, f store.ListJobsFilter) ([]models.Job, int, error)
	CountByStatus(ctx context.Context, ownerID string) (map[models.JobStatus]int, error)
}

// BotRegistry is the narrow bot interface the engine depends on. Counter
// increments must be atomic under concurrent completions.
type BotRegistry interface {
	IsOwnedBy(ctx context.Context, botID, ownerID string) (bool, error)
	Settings(ctx context.Context, botID string) (models.BotSettings, error)
	IncrementSuccess(ctx context.Context, botID string) error
	IncrementFailure(ctx context.Context, botID string) error
}

// AuditSink receives structured audit events. Record must never block or fail
// the transition that produced the event.
type AuditSink interface {
	Record(ctx context.Context, entry models.LogEntry)
}

// Engine is the job lifecycle engine.
type Engine struct {
	jobs  JobStore
	bots  BotRegistry
	audit AuditSink
	log   zerolog.Logger

	defaultMaxRetries int
	maxContentLength  int

	now func() time.Time
}

// NewEngine wires the engine to its collaborators.
func NewEngine(jobs JobStore, bots BotRegistry, audit AuditSink, defaultMaxRetries, maxContentLength int, logger zerolog.Logger) *Engine {
	if defaultMaxRetries <= 0 {
		defaultMaxRetries = 3
	}
	if maxContentLength <= 0 {
		maxContentLength = 1000
	}
	return &Engine{
		jobs:              jobs,
		bots:              bots,
		audit:             audit,
		log:               logger,
		defaultMaxRetries: defaultMaxRetries,
		maxContentLength:  maxContentLength,
		now:               time.Now,
	}
}

// CreateParams collects inputs for scheduling a new job.
type CreateParams struct {
	BotID       string
	URL         string
	Content     string
	ScheduledAt time.Time
	MaxRetries  int
}

// Create validates and persists a new pending job. The bot must belong to the
// caller; maxRetries defaults to the bot's configured retry attempts.
func (e *Engine) Create(ctx context.Context, ownerID string, p CreateParams) (models.Job, error) {
	now := e.now()
	if err := e.validatePayload(p.URL, p.Content); err != nil {
		return models.Job{}, err
	}
	if !p.ScheduledAt.After(now) {
		return models.Job{}, &ValidationError{Field: "scheduled_at", Reason: "must be in the future"}
	}

	owned, err := e.bots.IsOwnedBy(ctx, p.BotID, ownerID)
	if err != nil {
		return models.Job{}, fmt.Errorf("check bot ownership: %w", err)
	}
	if !owned {
		return models.Job{}, ErrNotFound
	}

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		settings, err := e.bots.Settings(ctx, p.BotID)
		if err != nil {
			return models.Job{}, fmt.Errorf("read bot settings: %w", err)
		}
		maxRetries = settings.RetryAttempts
	}
	if maxRetries <= 0 {
		maxRetries = e.defaultMaxRetries
	}

	job := models.Job{
		ID:          uuid.New().String(),
		BotID:       p.BotID,
		OwnerID:     ownerID,
		URL:         p.URL,
		Content:     p.Content,
		ScheduledAt: p.ScheduledAt,
		Status:      models.StatusPending,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}

	telemetry.JobsScheduled.Inc()
	e.recordAudit(ctx, job, models.LogInfo, "job scheduled")
	return job, nil
}

// EditParams carries the fields a caller may change on a pending or failed
// job. Nil means "leave unchanged"; status and owner are never settable.
type EditParams struct {
	URL         *string
	Content     *string
	ScheduledAt *time.Time
}

// Edit mutates payload and schedule in place without changing status.
func (e *Engine) Edit(ctx context.Context, ownerID, id string, p EditParams) (models.Job, error) {
	job, err := e.jobs.GetOwned(ctx, id, ownerID)
	if err != nil {
		return models.Job{}, err
	}
	if err := guard(job.Status, EventEdit); err != nil {
		return models.Job{}, err
	}

	if p.URL != nil {
		job.URL = *p.URL
	}
	if p.Content != nil {
		job.Content = *p.Content
	}
	if err := e.validatePayload(job.URL, job.Content); err != nil {
		return models.Job{}, err
	}
	if p.ScheduledAt != nil {
		if !p.ScheduledAt.After(e.now()) {
			return models.Job{}, &ValidationError{Field: "scheduled_at", Reason: "must be in the future"}
		}
		job.ScheduledAt = *p.ScheduledAt
	}

	job.UpdatedAt = e.now()
	if err := e.jobs.UpdateIf(ctx, job, sourceStates(EventEdit)...); err != nil {
		return models.Job{}, e.mapConflict(err, job.Status, EventEdit)
	}
	return job, nil
}

// Delete hard-removes a pending or failed job.
func (e *Engine) Delete(ctx context.Context, ownerID, id string) error {
	job, err := e.jobs.GetOwned(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := guard(job.Status, EventDelete); err != nil {
		return err
	}
	if err := e.jobs.DeleteIf(ctx, id, ownerID, sourceStates(EventDelete)...); err != nil {
		return e.mapConflict(err, job.Status, EventDelete)
	}
	return nil
}

// Retry re-queues a failed job, bumping its retry count and clearing the
// previous attempt's error and timestamps. Exhausted retries are rejected.
func (e *Engine) Retry(ctx context.Context, ownerID, id string) (models.Job, error) {
	job, err := e.jobs.GetOwned(ctx, id, ownerID)
	if err != nil {
		return models.Job{}, err
	}
	if err := guard(job.Status, EventRetry); err != nil {
		return models.Job{}, err
	}
	if job.RetryCount >= job.MaxRetries {
		return models.Job{}, illegal(job.Status, EventRetry, "maximum retry attempts reached")
	}

	job.Status = target(EventRetry)
	job.RetryCount++
	job.Error = nil
	job.ExecutedAt = nil
	job.CompletedAt = nil
	job.UpdatedAt = e.now()
	if err := e.jobs.UpdateIf(ctx, job, sourceStates(EventRetry)...); err != nil {
		return models.Job{}, e.mapConflict(err, job.Status, EventRetry)
	}

	telemetry.JobsRetried.Inc()
	e.recordAudit(ctx, job, models.LogInfo, "job queued for retry")
	return job, nil
}

// Cancel stops a pending or processing job. A claimed execution may still be
// in flight; its eventual report loses the CAS race and is dropped.
func (e *Engine) Cancel(ctx context.Context, ownerID, id string) (models.Job, error) {
	job, err := e.jobs.GetOwned(ctx, id, ownerID)
	if err != nil {
		return models.Job{}, err
	}
	if err := guard(job.Status, EventCancel); err != nil {
		return models.Job{}, err
	}

	job.Status = target(EventCancel)
	job.UpdatedAt = e.now()
	if err := e.jobs.UpdateIf(ctx, job, sourceStates(EventCancel)...); err != nil {
		return models.Job{}, e.mapConflict(err, job.Status, EventCancel)
	}

	telemetry.JobsCancelled.Inc()
	e.recordAudit(ctx, job, models.LogInfo, "job cancelled")
	return job, nil
}

// DueJobs returns pending jobs whose scheduled time has passed, oldest first.
func (e *Engine) DueJobs(ctx context.Context, limit int) ([]models.Job, error) {
	return e.jobs.FindDue(ctx, e.now(), limit)
}

// Claim atomically transitions a due pending job into processing on behalf of
// the selector. Exactly one of any concurrent claims succeeds.
func (e *Engine) Claim(ctx context.Context, id string) (models.Job, error) {
	job, err := e.jobs.Claim(ctx, id, e.now())
	if errors.Is(err, store.ErrConflict) {
		return models.Job{}, illegal(models.StatusPending, EventClaim, "job is not in an eligible state")
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("claim job: %w", err)
	}
	telemetry.JobsClaimed.Inc()
	return job, nil
}

// ReportSuccess finalizes a processing job as completed and credits the bot.
func (e *Engine) ReportSuccess(ctx context.Context, id string, result models.JobResult) error {
	job, err := e.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := guard(job.Status, EventComplete); err != nil {
		return err
	}

	now := e.now()
	result.Success = true
	job.Status = target(EventComplete)
	job.CompletedAt = &now
	job.Result = &result
	job.Error = nil
	job.UpdatedAt = now
	if err := e.jobs.UpdateIf(ctx, job, sourceStates(EventComplete)...); err != nil {
		return e.mapConflict(err, job.Status, EventComplete)
	}

	if err := e.bots.IncrementSuccess(ctx, job.BotID); err != nil {
		return fmt.Errorf("increment bot success: %w", err)
	}
	telemetry.JobsCompleted.Inc()
	e.recordAudit(ctx, job, models.LogInfo, "job completed")
	return nil
}

// ReportFailure finalizes a processing job as failed, recording the error and
// any partial result, and debits the bot.
func (e *Engine) ReportFailure(ctx context.Context, id string, jobErr models.JobError, result *models.JobResult) error {
	job, err := e.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := guard(job.Status, EventFail); err != nil {
		return err
	}

	now := e.now()
	if result != nil {
		result.Success = false
	}
	job.Status = target(EventFail)
	job.CompletedAt = &now
	job.Error = &jobErr
	job.Result = result
	job.UpdatedAt = now
	if err := e.jobs.UpdateIf(ctx, job, sourceStates(EventFail)...); err != nil {
		return e.mapConflict(err, job.Status, EventFail)
	}

	if err := e.bots.IncrementFailure(ctx, job.BotID); err != nil {
		return fmt.Errorf("increment bot failure: %w", err)
	}
	telemetry.JobsFailed.Inc()
	e.recordAudit(ctx, job, models.LogWarn, "job failed: "+jobErr.Message)
	return nil
}

// List returns the owner's jobs for the given filter.
func (e *Engine) List(ctx context.Context, f store.ListJobsFilter) ([]models.Job, int, error) {
	return e.jobs.List(ctx, f)
}

// Stats aggregates the owner's jobs per status. Success rate is the share of
// completed jobs across all of them, rounded, 0 when there are none.
func (e *Engine) Stats(ctx context.Context, ownerID string) (models.JobStats, error) {
	counts, err := e.jobs.CountByStatus(ctx, ownerID)
	if err != nil {
		return models.JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	stats := models.JobStats{
		Pending:    counts[models.StatusPending],
		Processing: counts[models.StatusProcessing],
		Completed:  counts[models.StatusCompleted],
		Failed:     counts[models.StatusFailed],
		Cancelled:  counts[models.StatusCancelled],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Completed + stats.Failed + stats.Cancelled
	if stats.Total > 0 {
		stats.SuccessRate = int(math.Round(float64(stats.Completed) / float64(stats.Total) * 100))
	}
	return stats, nil
}

func (e *Engine) validatePayload(url, content string) error {
	if !urlPattern.MatchString(url) {
		return &ValidationError{Field: "url", Reason: "must be an http or https URL"}
	}
	if content == "" {
		return &ValidationError{Field: "content", Reason: "is required"}
	}
	if utf8.RuneCountInString(content) > e.maxContentLength {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("cannot exceed %d characters", e.maxContentLength)}
	}
	return nil
}

// mapConflict translates a lost CAS race into the transition error the caller
// can act on; other storage failures pass through wrapped.
func (e *Engine) mapConflict(err error, status models.JobStatus, ev Event) error {
	if errors.Is(err, store.ErrConflict) {
		return illegal(status, ev, "job is no longer in an eligible state")
	}
	return fmt.Errorf("%s job: %w", ev, err)
}

func (e *Engine) recordAudit(ctx context.Context, job models.Job, level models.LogLevel, message string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, models.LogEntry{
		Level:    level,
		Category: models.CategoryJob,
		Message:  message,
		JobID:    job.ID,
		BotID:    job.BotID,
		UserID:   job.OwnerID,
		Metadata: map[string]any{"status": string(job.Status), "retry_count": job.RetryCount},
	})
}

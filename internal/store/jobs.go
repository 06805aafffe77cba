package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"postpilot/internal/models"
)

const jobColumns = `id, bot_id, owner_id, url, content, scheduled_at, status, executed_at, completed_at, error, result, retry_count, max_retries, created_at, updated_at`

// JobStore is the Postgres-backed job record store. Claim and the conditional
// updates are single UPDATE statements guarded by the current status, so the
// database is the only synchronization point between the API and concurrent
// selector passes.
type JobStore struct {
	pool *pgxpool.Pool
}

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job models.Job) error {
	errJSON, resJSON, err := marshalDetails(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, job.ID, job.BotID, job.OwnerID, job.URL, job.Content, job.ScheduledAt, job.Status,
		job.ExecutedAt, job.CompletedAt, errJSON, resJSON, job.RetryCount, job.MaxRetries,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by id without owner scoping. Reserved for the selector
// and completion paths; owner-facing reads go through GetOwned.
func (s *JobStore) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetOwned fetches a job visible to the given owner. A missing row and a row
// owned by someone else both come back as ErrNotFound.
func (s *JobStore) GetOwned(ctx context.Context, id, ownerID string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	return scanJob(row)
}

// FindDue returns pending jobs whose scheduled time has passed, oldest
// deadline first with id as the deterministic tie-break.
func (s *JobStore) FindDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $3
	`, models.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Claim atomically moves a due pending job into processing, stamping
// executed_at. Exactly one of any number of concurrent claims succeeds; the
// rest get ErrConflict.
func (s *JobStore) Claim(ctx context.Context, id string, now time.Time) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, executed_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4 AND scheduled_at <= $3
		RETURNING `+jobColumns+`
	`, id, models.StatusProcessing, now, models.StatusPending)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return models.Job{}, ErrConflict
	}
	return job, err
}

// UpdateIf writes the job's mutable fields only while its stored status is
// still one of from. ErrConflict means a concurrent transition won.
func (s *JobStore) UpdateIf(ctx context.Context, job models.Job, from ...models.JobStatus) error {
	errJSON, resJSON, err := marshalDetails(job)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET url = $2, content = $3, scheduled_at = $4, status = $5, executed_at = $6,
		    completed_at = $7, error = $8, result = $9, retry_count = $10, updated_at = $11
		WHERE id = $1 AND status = ANY($12)
	`, job.ID, job.URL, job.Content, job.ScheduledAt, job.Status, job.ExecutedAt,
		job.CompletedAt, errJSON, resJSON, job.RetryCount, job.UpdatedAt, statusList(from))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteIf removes a job while it is still owned by ownerID and in one of the
// given states.
func (s *JobStore) DeleteIf(ctx context.Context, id, ownerID string, from ...models.JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs WHERE id = $1 AND owner_id = $2 AND status = ANY($3)
	`, id, ownerID, statusList(from))
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ListJobsFilter narrows List output. Zero values mean "no filter".
type ListJobsFilter struct {
	OwnerID string
	Status  models.JobStatus
	BotID   string
	Page    int
	PerPage int
}

// List returns the owner's jobs newest-first plus the unpaginated total.
func (s *JobStore) List(ctx context.Context, f ListJobsFilter) ([]models.Job, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}

	where := `WHERE owner_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR bot_id = $3)`
	args := []any{f.OwnerID, string(f.Status), f.BotID}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs `+where+`
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, append(args, f.PerPage, (f.Page-1)*f.PerPage)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// CountByStatus breaks down the owner's jobs per lifecycle state. Every state
// appears in the result, zero-valued when absent.
func (s *JobStore) CountByStatus(ctx context.Context, ownerID string) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM jobs WHERE owner_id = $1 GROUP BY status
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int, len(models.JobStatuses))
	for _, st := range models.JobStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func statusList(statuses []models.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func marshalDetails(job models.Job) ([]byte, []byte, error) {
	var errJSON, resJSON []byte
	var err error
	if job.Error != nil {
		if errJSON, err = json.Marshal(job.Error); err != nil {
			return nil, nil, fmt.Errorf("marshal job error: %w", err)
		}
	}
	if job.Result != nil {
		if resJSON, err = json.Marshal(job.Result); err != nil {
			return nil, nil, fmt.Errorf("marshal job result: %w", err)
		}
	}
	return errJSON, resJSON, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var errJSON, resJSON []byte
	err := row.Scan(&job.ID, &job.BotID, &job.OwnerID, &job.URL, &job.Content, &job.ScheduledAt,
		&job.Status, &job.ExecutedAt, &job.CompletedAt, &errJSON, &resJSON,
		&job.RetryCount, &job.MaxRetries, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if len(errJSON) > 0 {
		job.Error = &models.JobError{}
		if err := json.Unmarshal(errJSON, job.Error); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal job error: %w", err)
		}
	}
	if len(resJSON) > 0 {
		job.Result = &models.JobResult{}
		if err := json.Unmarshal(resJSON, job.Result); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

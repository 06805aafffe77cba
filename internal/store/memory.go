package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"postpilot/internal/models"
)

// MemoryJobStore is a mutex-guarded in-memory job record store with the same
// conditional-write semantics as the Postgres store. It backs the engine and
// selector tests and is handy for local experiments; production runs on
// Postgres.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]models.Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (s *MemoryJobStore) GetOwned(_ context.Context, id, ownerID string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (s *MemoryJobStore) FindDue(_ context.Context, now time.Time, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Job
	for _, job := range s.jobs {
		if job.Status == models.StatusPending && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryJobStore) Claim(_ context.Context, id string, now time.Time) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.StatusPending || job.ScheduledAt.After(now) {
		return models.Job{}, ErrConflict
	}
	job.Status = models.StatusProcessing
	at := now
	job.ExecutedAt = &at
	job.UpdatedAt = now
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryJobStore) UpdateIf(_ context.Context, job models.Job, from ...models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok || !statusIn(current.Status, from) {
		return ErrConflict
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) DeleteIf(_ context.Context, id, ownerID string, from ...models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok || current.OwnerID != ownerID || !statusIn(current.Status, from) {
		return ErrConflict
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) List(_ context.Context, f ListJobsFilter) ([]models.Job, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Job
	for _, job := range s.jobs {
		if job.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.BotID != "" && job.BotID != f.BotID {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryJobStore) CountByStatus(_ context.Context, ownerID string) (map[models.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.JobStatus]int, len(models.JobStatuses))
	for _, st := range models.JobStatuses {
		counts[st] = 0
	}
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			counts[job.Status]++
		}
	}
	return counts, nil
}

// MemoryLogStore is an in-memory audit log with the same filtering and
// scoping semantics as the Postgres store, for handler tests.
type MemoryLogStore struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

func (s *MemoryLogStore) Append(_ context.Context, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryLogStore) List(_ context.Context, f ListLogsFilter) ([]models.LogEntry, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 50
	}
	userID := f.UserID
	if f.Category == models.CategorySystem {
		userID = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.LogEntry
	for _, e := range s.entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryLogStore) Clear(_ context.Context, userID string, level models.LogLevel, category models.LogCategory, olderThan *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.LogEntry
	var removed int64
	for _, e := range s.entries {
		match := e.UserID == userID &&
			(level == "" || e.Level == level) &&
			(category == "" || e.Category == category) &&
			(olderThan == nil || e.CreatedAt.Before(*olderThan))
		if match {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *MemoryLogStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.LogEntry
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func statusIn(status models.JobStatus, set []models.JobStatus) bool {
	for _, st := range set {
		if status == st {
			return true
		}
	}
	return false
}

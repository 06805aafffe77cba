package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// JobStatuses lists every lifecycle state, in display order.
var JobStatuses = []JobStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Valid reports whether s is a known lifecycle state.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible. A failed job is
// not terminal: an explicit retry re-enters pending.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job is a scheduled post owned by a single user and assigned to one bot.
type Job struct {
	ID          string     `json:"id"`
	BotID       string     `json:"bot_id"`
	OwnerID     string     `json:"owner_id"`
	URL         string     `json:"url"`
	Content     string     `json:"content"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      JobStatus  `json:"status"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobError captures why an execution attempt failed. Present only while the
// job is in the failed state.
type JobError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// JobResult records the outcome of a completed or failed execution attempt.
type JobResult struct {
	Success        bool   `json:"success"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	PostURL        string `json:"post_url,omitempty"`
	ArtifactKey    string `json:"artifact_key,omitempty"`
}

// JobStats is the per-owner status breakdown returned by the stats endpoint.
type JobStats struct {
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	Total       int `json:"total"`
	SuccessRate int `json:"success_rate"`
}

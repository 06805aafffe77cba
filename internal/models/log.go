package models

import (
	"time"
)

// LogLevel ranks audit entries for filtering.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogCategory groups audit entries by subsystem.
type LogCategory string

const (
	CategoryAuth   LogCategory = "auth"
	CategoryBot    LogCategory = "bot"
	CategoryJob    LogCategory = "job"
	CategorySystem LogCategory = "system"
)

func (c LogCategory) Valid() bool {
	switch c {
	case CategoryAuth, CategoryBot, CategoryJob, CategorySystem:
		return true
	}
	return false
}

// LogEntry is an append-only audit record. Job, bot, and user ids are weak
// references kept for display; the entry outlives the entities it points at.
type LogEntry struct {
	ID        string         `json:"id"`
	Level     LogLevel       `json:"level"`
	Category  LogCategory    `json:"category"`
	Message   string         `json:"message"`
	JobID     string         `json:"job_id,omitempty"`
	BotID     string         `json:"bot_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

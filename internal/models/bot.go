package models

import (
	"math"
	"time"
)

// BotStatus reflects the health of a bot identity.
type BotStatus string

const (
	BotActive   BotStatus = "active"
	BotInactive BotStatus = "inactive"
	BotError    BotStatus = "error"
)

// Valid reports whether s is a known bot status.
func (s BotStatus) Valid() bool {
	switch s {
	case BotActive, BotInactive, BotError:
		return true
	}
	return false
}

// Bot is an automation identity owned by a single user. The secret is stored
// encrypted at rest and never serialized.
type Bot struct {
	ID           string      `json:"id"`
	OwnerID      string      `json:"owner_id"`
	Name         string      `json:"name"`
	Username     string      `json:"username"`
	Secret       string      `json:"-"`
	Status       BotStatus   `json:"status"`
	LastLoginAt  *time.Time  `json:"last_login_at,omitempty"`
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
	Settings     BotSettings `json:"settings"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// BotSettings carries the scheduling hints and defaults read by the selector
// and applied to new jobs of this bot.
type BotSettings struct {
	DelayBetweenPosts int    `json:"delay_between_posts"` // seconds
	RetryAttempts     int    `json:"retry_attempts"`
	UserAgent         string `json:"user_agent"`
}

// DefaultBotSettings mirrors the defaults applied when a bot is created
// without explicit settings.
func DefaultBotSettings() BotSettings {
	return BotSettings{
		DelayBetweenPosts: 30,
		RetryAttempts:     3,
		UserAgent:         "chrome",
	}
}

// SuccessRate returns the percentage of successful executions, rounded to the
// nearest integer, or 0 when the bot has no attempts yet.
func (b Bot) SuccessRate() int {
	total := b.SuccessCount + b.FailureCount
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(b.SuccessCount) / float64(total) * 100))
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"postpilot/internal/models"
)

// LogStore persists the append-only audit trail. Entries are never updated;
// the only delete path is the owner-scoped bulk clear.
type LogStore struct {
	pool *pgxpool.Pool
}

// Append inserts one audit entry.
func (s *LogStore) Append(ctx context.Context, entry models.LogEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO logs (id, level, category, message, job_id, bot_id, user_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`, entry.ID, entry.Level, entry.Category, entry.Message, entry.JobID, entry.BotID,
		entry.UserID, metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// ListLogsFilter narrows List output. Zero values mean "no filter".
type ListLogsFilter struct {
	UserID   string
	Level    models.LogLevel
	Category models.LogCategory
	Page     int
	PerPage  int
}

// List returns matching entries newest-first plus the unpaginated total.
// System-category queries are not scoped to the caller; everything else is.
func (s *LogStore) List(ctx context.Context, f ListLogsFilter) ([]models.LogEntry, int, error) {
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

	where := `WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR level = $2) AND ($3 = '' OR category = $3)`
	args := []any{userID, string(f.Level), string(f.Category)}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, level, category, message, COALESCE(job_id, ''), COALESCE(bot_id, ''),
		       COALESCE(user_id, ''), metadata, created_at
		FROM logs `+where+`
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, append(args, f.PerPage, (f.Page-1)*f.PerPage)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message, &e.JobID, &e.BotID,
			&e.UserID, &metadata, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan log: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Clear bulk-deletes the owner's entries, optionally narrowed by level,
// category, and an age cutoff. Returns the number of rows removed.
func (s *LogStore) Clear(ctx context.Context, userID string, level models.LogLevel, category models.LogCategory, olderThan *time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM logs
		WHERE user_id = $1
		  AND ($2 = '' OR level = $2)
		  AND ($3 = '' OR category = $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
	`, userID, string(level), string(category), olderThan)
	if err != nil {
		return 0, fmt.Errorf("clear logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Prune removes entries older than the cutoff across all owners. Used by the
// scheduler's retention sweep.
func (s *LogStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

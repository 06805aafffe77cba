package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"postpilot/internal/models"
)

const botColumns = `id, owner_id, name, username, secret, status, last_login_at, success_count, failure_count, settings, created_at, updated_at`

// BotStore is the Postgres-backed bot registry. Counter increments are single
// UPDATE statements so concurrent job completions never lose updates.
type BotStore struct {
	pool *pgxpool.Pool
}

// Create inserts a bot. The (owner, name) pair is unique; a duplicate comes
// back as ErrConflict.
func (s *BotStore) Create(ctx context.Context, bot models.Bot) error {
	settings, err := json.Marshal(bot.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bots (`+botColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, bot.ID, bot.OwnerID, bot.Name, bot.Username, bot.Secret, bot.Status, bot.LastLoginAt,
		bot.SuccessCount, bot.FailureCount, settings, bot.CreatedAt, bot.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

// GetOwned fetches a bot visible to the given owner.
func (s *BotStore) GetOwned(ctx context.Context, id, ownerID string) (models.Bot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+botColumns+` FROM bots WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	return scanBot(row)
}

// Get fetches a bot by id without owner scoping, for the execution path.
func (s *BotStore) Get(ctx context.Context, id string) (models.Bot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	return scanBot(row)
}

// List returns the owner's bots newest-first.
func (s *BotStore) List(ctx context.Context, ownerID string) ([]models.Bot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+botColumns+` FROM bots WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	var bots []models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// Update persists mutable bot fields, scoped to the owner.
func (s *BotStore) Update(ctx context.Context, bot models.Bot) error {
	settings, err := json.Marshal(bot.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE bots
		SET name = $3, username = $4, secret = $5, status = $6, last_login_at = $7,
		    settings = $8, updated_at = $9
		WHERE id = $1 AND owner_id = $2
	`, bot.ID, bot.OwnerID, bot.Name, bot.Username, bot.Secret, bot.Status, bot.LastLoginAt,
		settings, bot.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("update bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a bot and, via the schema's cascade, its jobs.
func (s *BotStore) Delete(ctx context.Context, id, ownerID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM bots WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsOwnedBy reports whether the bot exists and belongs to the owner.
func (s *BotStore) IsOwnedBy(ctx context.Context, id, ownerID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM bots WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check bot ownership: %w", err)
	}
	return true, nil
}

// Settings reads the bot's scheduling hints.
func (s *BotStore) Settings(ctx context.Context, id string) (models.BotSettings, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT settings FROM bots WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BotSettings{}, ErrNotFound
	}
	if err != nil {
		return models.BotSettings{}, fmt.Errorf("query bot settings: %w", err)
	}
	settings := models.DefaultBotSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		return models.BotSettings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return settings, nil
}

// IncrementSuccess bumps the success counter in a single statement.
func (s *BotStore) IncrementSuccess(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bots SET success_count = success_count + 1, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

// IncrementFailure bumps the failure counter in a single statement.
func (s *BotStore) IncrementFailure(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bots SET failure_count = failure_count + 1, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

func scanBot(row pgx.Row) (models.Bot, error) {
	var bot models.Bot
	var settings []byte
	err := row.Scan(&bot.ID, &bot.OwnerID, &bot.Name, &bot.Username, &bot.Secret, &bot.Status,
		&bot.LastLoginAt, &bot.SuccessCount, &bot.FailureCount, &settings, &bot.CreatedAt, &bot.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Bot{}, ErrNotFound
	}
	if err != nil {
		return models.Bot{}, fmt.Errorf("scan bot: %w", err)
	}
	bot.Settings = models.DefaultBotSettings()
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &bot.Settings); err != nil {
			return models.Bot{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return bot, nil
}

// Touch marks a successful login probe.
func (s *BotStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bots SET last_login_at = $2, status = $3, updated_at = $2 WHERE id = $1
	`, id, at, models.BotActive)
	return err
}

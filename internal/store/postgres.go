package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row is absent or not visible to the caller.
// Absent and unauthorized are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write finds the row no longer in
// an eligible state, or when a uniqueness constraint is violated.
var ErrConflict = errors.New("conflict")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Jobs exposes the job record store.
func (s *Store) Jobs() *JobStore { return &JobStore{pool: s.pool} }

// Bots exposes the bot registry store.
func (s *Store) Bots() *BotStore { return &BotStore{pool: s.pool} }

// Logs exposes the audit log store.
func (s *Store) Logs() *LogStore { return &LogStore{pool: s.pool} }

// Package history persists run outcomes to Postgres.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pedeee/ticketwatch/internal/pipeline"
	"github.com/pedeee/ticketwatch/internal/status"
)

// StoreConfig controls the Postgres connection pool for history rows.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes run and change rows into Postgres.
type Store struct {
	pool execCloser
}

// NewStore creates a Postgres-backed history store using the provided
// config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewStoreWithPool(pool execCloser) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun inserts one run row plus one row per change.
// It assumes a table schema like:
// CREATE TABLE watch_runs (
//
//	id UUID PRIMARY KEY,
//	started_at TIMESTAMPTZ NOT NULL,
//	finished_at TIMESTAMPTZ NOT NULL,
//	selected INT NOT NULL,
//	succeeded INT NOT NULL,
//	failed INT NOT NULL,
//	changed INT NOT NULL,
//	success_rate DOUBLE PRECISION NOT NULL,
//	interrupted BOOLEAN NOT NULL
//
// );
// CREATE TABLE watch_changes (
//
//	run_id UUID NOT NULL REFERENCES watch_runs(id),
//	url TEXT NOT NULL,
//	title TEXT NOT NULL,
//	old_status TEXT NOT NULL,
//	new_status TEXT NOT NULL,
//	event_dt TIMESTAMPTZ
//
// );
func (s *Store) RecordRun(ctx context.Context, sum pipeline.RunSummary, changes []status.Change) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if sum.RunID == uuid.Nil {
		return fmt.Errorf("run id is required")
	}

	const runQuery = `
INSERT INTO watch_runs (
	id,
	started_at,
	finished_at,
	selected,
	succeeded,
	failed,
	changed,
	success_rate,
	interrupted
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`
	if _, err := s.pool.Exec(ctx, runQuery,
		sum.RunID,
		sum.StartedAt,
		sum.FinishedAt,
		sum.Selected,
		sum.Succeeded,
		sum.Failed,
		sum.Changed,
		sum.SuccessRate(),
		sum.Interrupted,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	const changeQuery = `
INSERT INTO watch_changes (
	run_id,
	url,
	title,
	old_status,
	new_status,
	event_dt
) VALUES (
	$1,$2,$3,$4,$5,$6
)`
	for _, c := range changes {
		if _, err := s.pool.Exec(ctx, changeQuery,
			sum.RunID,
			c.URL,
			c.Title,
			c.OldStatus,
			c.NewStatus,
			c.EventDate,
		); err != nil {
			return fmt.Errorf("insert change for %s: %w", c.URL, err)
		}
	}
	return nil
}

// Package history keeps an optional audit trail of every growth action
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hevygrow/internal/config"
)

// Action is one successful follow, unfollow or like
type Action struct {
	ID        int64     `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"run_id"`
	Engine    string    `db:"engine" json:"engine"`
	Action    string    `db:"action" json:"action"`
	Username  string    `db:"username" json:"username"`
	WorkoutID string    `db:"workout_id" json:"workout_id,omitempty"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	At        time.Time `db:"created_at" json:"created_at"`
}

// Recorder appends actions to the ledger
type Recorder interface {
	Record(ctx context.Context, a Action) error
}

// Reader lists recorded actions, newest first
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Action, error)
}

// Nop drops every action
type Nop struct{}

func (Nop) Record(ctx context.Context, a Action) error { return nil }

// Schema creates the ledger table
const Schema = `
CREATE TABLE IF NOT EXISTS growth_actions (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	engine     TEXT NOT NULL,
	action     TEXT NOT NULL,
	username   TEXT NOT NULL,
	workout_id TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores actions in the growth_actions table
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres wraps an open connection
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

// Open connects to cfg.DSN, pings it and ensures the schema exists
func Open(ctx context.Context, cfg config.HistoryConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("history DSN is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	p := NewPostgres(db, cfg.QueryTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the ledger table if needed
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create growth_actions: %w", err)
	}
	return nil
}

// Record inserts one action
func (p *Postgres) Record(ctx context.Context, a Action) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if a.At.IsZero() {
		a.At = time.Now()
	}

	query := `
		INSERT INTO growth_actions (run_id, engine, action, username, workout_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := p.db.ExecContext(ctx, query,
		a.RunID, a.Engine, a.Action, a.Username, a.WorkoutID, a.Reason, a.At.UTC()); err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}

	log.Debug().Str("engine", a.Engine).Str("action", a.Action).Str("username", a.Username).
		Msg("action recorded")
	return nil
}

// Recent returns up to limit actions, newest first
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Action, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, run_id, engine, action, username, workout_id, reason, created_at
		FROM growth_actions
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	var actions []Action
	if err := p.db.SelectContext(ctx, &actions, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, nil
}

// Close closes the connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

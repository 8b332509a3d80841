package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the Postgres connection pool
type DB struct {
	*sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS chain_events (
	id           BIGSERIAL PRIMARY KEY,
	execution_id TEXT        NOT NULL,
	job_id       TEXT        NOT NULL,
	at           TIMESTAMPTZ NOT NULL,
	from_status  TEXT,
	to_status    TEXT        NOT NULL,
	reason       TEXT        NOT NULL DEFAULT '',
	meta_json    TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS chain_events_execution_idx ON chain_events (execution_id, at);
`

// NewDB opens a connection pool for databaseURL and checks it is reachable
func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{DB: sqlDB}, nil
}

// Migrate creates the tables used by the repositories
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations runs database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS warikan_groups (
			id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			version BIGINT NOT NULL DEFAULT 1,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_warikan_groups_active_channel
			ON warikan_groups(channel_id) WHERE status = 'active' AND channel_id <> '';
		CREATE INDEX IF NOT EXISTS idx_warikan_groups_closed_at
			ON warikan_groups(closed_at) WHERE status IN ('completed', 'deleted');

		CREATE TABLE IF NOT EXISTS warikan_history (
			id BIGSERIAL PRIMARY KEY,
			group_id TEXT NOT NULL,
			group_name TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			amount NUMERIC(14, 2) NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_warikan_history_group_id ON warikan_history(group_id);
	`)
	return err
}

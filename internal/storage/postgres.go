package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgKV is a PostgreSQL-backed KV using pgx/v5, for centrally managed
// deployments where agent state must survive machine reimaging.
//
// Expected schema:
//
//	CREATE TABLE agent_state (
//	    key        TEXT PRIMARY KEY,
//	    value      BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type PgKV struct {
	pool *pgxpool.Pool
}

// NewPgKV creates a PostgreSQL-backed store.
func NewPgKV(pool *pgxpool.Pool) *PgKV {
	return &PgKV{pool: pool}
}

// Get returns the value for key, or found=false.
func (p *PgKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM agent_state WHERE key = $1`, key,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: query %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key.
func (p *PgKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agent_state (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (p *PgKV) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM agent_state WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

// HealthCheck verifies connectivity to the database.
func (p *PgKV) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

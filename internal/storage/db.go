package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// NewPool opens a pgx pool and checks the connection.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the pgvector extension and the document table if they
// are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, table string, dim int) error {
	for _, stmt := range schemaStatements(table, dim) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(table string, dim int) []string {
	t := pq.QuoteIdentifier(table)
	idx := pq.QuoteIdentifier(table + "_source_tag_idx")
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          BIGSERIAL PRIMARY KEY,
	content     TEXT NOT NULL,
	source_tag  TEXT NOT NULL,
	link        TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	imported_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	embedding   vector(%d) NOT NULL
)`, t, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_tag)`, idx, t),
	}
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Chunk is one indexed piece of a source document.
type Chunk struct {
	Content    string
	SourceTag  string
	Link       string
	Title      string
	ImportedAt time.Time
	Embedding  []float32
}

// Match is a search hit. Score is cosine similarity clamped to [0,1].
type Match struct {
	ID        int64
	Content   string
	SourceTag string
	Link      string
	Score     float64
}

// VectorStore reads and writes embeddings in one pgvector table.
type VectorStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewVectorStore(pool *pgxpool.Pool, table string) *VectorStore {
	return &VectorStore{pool: pool, table: table}
}

// Insert adds a chunk with its embedding.
func (s *VectorStore) Insert(ctx context.Context, c Chunk) error {
	imported := c.ImportedAt
	if imported.IsZero() {
		imported = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertQuery(s.table),
		c.Content, c.SourceTag, c.Link, c.Title, imported, pgvector.NewVector(c.Embedding))
	return err
}

// InsertBatch adds all chunks in one transaction.
func (s *VectorStore) InsertBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	query := insertQuery(s.table)
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, c := range chunks {
		imported := c.ImportedAt
		if imported.IsZero() {
			imported = now
		}
		batch.Queue(query, c.Content, c.SourceTag, c.Link, c.Title, imported, pgvector.NewVector(c.Embedding))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return tx.Commit(ctx)
}

// Search returns the topK nearest chunks by cosine distance. An empty
// sourceTag searches the whole table.
func (s *VectorStore) Search(ctx context.Context, embedding []float32, topK int, sourceTag string) ([]Match, error) {
	query, args := searchQuery(s.table, pgvector.NewVector(embedding), topK, sourceTag)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Content, &m.SourceTag, &m.Link, &m.Score); err != nil {
			return nil, err
		}
		m.Score = clampScore(m.Score)
		results = append(results, m)
	}
	return results, rows.Err()
}

// Count reports how many chunks carry sourceTag, or all chunks when empty.
func (s *VectorStore) Count(ctx context.Context, sourceTag string) (int64, error) {
	t := pq.QuoteIdentifier(s.table)
	var n int64
	var err error
	if sourceTag == "" {
		err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t)).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE source_tag = $1`, t), sourceTag).Scan(&n)
	}
	return n, err
}

func insertQuery(table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (content, source_tag, link, title, imported_at, embedding) VALUES ($1, $2, $3, $4, $5, $6)`,
		pq.QuoteIdentifier(table))
}

func searchQuery(table string, vec pgvector.Vector, topK int, sourceTag string) (string, []any) {
	t := pq.QuoteIdentifier(table)
	if sourceTag == "" {
		q := fmt.Sprintf(`SELECT id, content, source_tag, link, 1 - (embedding <=> $1) AS score FROM %s ORDER BY embedding <=> $1 LIMIT $2`, t)
		return q, []any{vec, topK}
	}
	q := fmt.Sprintf(`SELECT id, content, source_tag, link, 1 - (embedding <=> $1) AS score FROM %s WHERE source_tag = $2 ORDER BY embedding <=> $1 LIMIT $3`, t)
	return q, []any{vec, sourceTag, topK}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

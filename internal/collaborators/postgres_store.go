package collaborators

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements VectorStore against a pgvector-enabled
// Postgres database. Grounded on the teacher's store/storage.go:
// pgxpool.Pool, pgvector.NewVector, the cosine-distance "<=>" operator
// query shape, and pool.Ping for health checks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and pings the pool before returning, so
// startup fails fast on a bad DATABASE_URL (teacher behavior).
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() { p.pool.Close() }

// Search returns the topK chunks with smallest cosine distance to
// queryVector, optionally restricted to a single document, skipping
// chunks whose embedding is absent. Distance is returned as-is
// (ascending order, per spec section 6.2); the caller converts it to
// similarity.
func (p *PostgresStore) Search(ctx context.Context, queryVector []float32, topK int, filter SearchFilter) ([]ChunkRecord, error) {
	vector := pgvector.NewVector(queryVector)

	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.content,
		       COALESCE(c.section_title, ''), COALESCE(d.title, ''),
		       COALESCE(d.source_file, ''),
		       (c.embedding <=> $1) AS distance
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL
	`
	args := []any{vector}
	if filter.DocumentID != "" {
		query += " AND c.document_id = $2 ORDER BY c.embedding <=> $1 LIMIT $3"
		args = append(args, filter.DocumentID, topK)
	} else {
		query += " ORDER BY c.embedding <=> $1 LIMIT $2"
		args = append(args, topK)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var rec ChunkRecord
		if err := rows.Scan(
			&rec.ChunkID,
			&rec.DocumentID,
			&rec.ChunkIndex,
			&rec.Content,
			&rec.SectionTitle,
			&rec.DocumentTitle,
			&rec.SourceFile,
			&rec.Distance,
		); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return out, nil
}

// Ping performs the trivial store read used by the health check.
func (p *PostgresStore) Ping(ctx context.Context) (bool, float64, error) {
	start := time.Now()
	var one int
	err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	latency := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		return false, latency, err
	}
	return one == 1, latency, nil
}

// HasVectorExtension reports whether the pgvector extension is
// installed, mirroring the teacher's "CREATE EXTENSION IF NOT EXISTS
// vector" presence assumption made explicit as a runtime check.
func (p *PostgresStore) HasVectorExtension(ctx context.Context) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')",
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

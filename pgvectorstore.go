package memstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGVectorStore implements VectorStore against a Postgres database with the
// pgvector extension, giving C5 (vector store) a physically separate,
// dedicated backend from C4 (fact store) as the component split requires.
// The table carries an HNSW index over cosine distance; Search uses the
// `<=>` operator (cosine distance, 0 = identical) converted to a
// similarity score via 1 - distance.
type PGVectorStore struct {
	pool       *pgxpool.Pool
	dim        int
	autoRepair bool
	rc         *refCounted
}

// NewPGVectorStore connects to dsn and ensures the memstore_vectors table
// (and its HNSW index) exists at the given embedding dimension.
func NewPGVectorStore(ctx context.Context, dsn string, dim int, autoRepair bool) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("memstore: pgvector: connecting: %w", err)
	}

	s := &PGVectorStore{pool: pool, dim: dim, autoRepair: autoRepair}
	s.rc = newRefCounted(s.closeBackend)

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memstore: pgvector: enabling extension: %w", err)
	}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGVectorStore) ensureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memstore_vectors (
		fact_id    TEXT PRIMARY KEY,
		embedding  vector(%d) NOT NULL,
		category   TEXT NOT NULL,
		importance DOUBLE PRECISION NOT NULL
	)`, s.dim))
	if err != nil {
		return fmt.Errorf("memstore: pgvector: creating table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_memstore_vectors_hnsw
		ON memstore_vectors USING hnsw (embedding vector_cosine_ops)`)
	if err != nil {
		return fmt.Errorf("memstore: pgvector: creating index: %w", err)
	}
	return nil
}

// Store inserts or replaces the row for rec.FactID. A dimension mismatch
// against the configured dimension is refused unless autoRepair is set, in
// which case the table is dropped and recreated at the new dimension
// (existing rows are lost; the caller re-embeds and re-stores, tracked by
// id with per-row retries, per spec §4.3).
func (s *PGVectorStore) Store(ctx context.Context, rec VectorRecord) error {
	if len(rec.Vector) != s.dim {
		if !s.autoRepair {
			return fmt.Errorf("%w: have %d, want %d", ErrDimensionMismatch, len(rec.Vector), s.dim)
		}
		if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS memstore_vectors`); err != nil {
			return fmt.Errorf("memstore: pgvector: dropping table for repair: %w", err)
		}
		s.dim = len(rec.Vector)
		if err := s.ensureTable(ctx); err != nil {
			return err
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memstore_vectors (fact_id, embedding, category, importance)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fact_id) DO UPDATE SET embedding = excluded.embedding,
		   category = excluded.category, importance = excluded.importance`,
		rec.FactID, pgvector.NewVector(rec.Vector), string(rec.Category), rec.Importance,
	)
	if err != nil {
		return fmt.Errorf("memstore: pgvector: storing %s: %w", rec.FactID, err)
	}
	return nil
}

// HasDuplicate consults the approximate top-1 neighbor and reports whether
// its cosine similarity is at least threshold (dedupTopOne if non-positive).
func (s *PGVectorStore) HasDuplicate(ctx context.Context, vector []float32, threshold float64) (bool, error) {
	if threshold <= 0 {
		threshold = dedupTopOne
	}
	results, err := s.Search(ctx, vector, 1, threshold)
	if err != nil {
		return false, nil
	}
	return len(results) > 0, nil
}

// Search returns up to limit nearest neighbors by cosine similarity, scored
// >= minScore. Backend failures degrade to an empty result, never a panic.
func (s *PGVectorStore) Search(ctx context.Context, vector []float32, limit int, minScore float64) ([]VectorSearchResult, error) {
	if len(vector) != s.dim {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT fact_id, 1 - (embedding <=> $1) AS score, category, importance
		 FROM memstore_vectors
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(vector), limit,
	)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	var out []VectorSearchResult
	for rows.Next() {
		var r VectorSearchResult
		var category string
		if err := rows.Scan(&r.FactID, &r.Score, &category, &r.Importance); err != nil {
			continue
		}
		r.Category = Category(category)
		if r.Score < minScore {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Delete removes the row for factID, if any.
func (s *PGVectorStore) Delete(ctx context.Context, factID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM memstore_vectors WHERE fact_id = $1`, factID); err != nil {
		return fmt.Errorf("memstore: pgvector: deleting %s: %w", factID, err)
	}
	return nil
}

// Count returns the number of stored rows, or 0 on backend failure.
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memstore_vectors`).Scan(&n); err != nil {
		return 0, nil
	}
	return n, nil
}

// Close releases this handle's reference, closing the pool once no other
// caller holds it.
func (s *PGVectorStore) Close() error {
	return s.rc.release()
}

func (s *PGVectorStore) closeBackend() error {
	s.pool.Close()
	return nil
}

// Acquire increments the reference count for an additional concurrent
// caller (spec §5: reference-counted singleton).
func (s *PGVectorStore) Acquire() {
	s.rc.acquire()
}

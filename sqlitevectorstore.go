package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// SQLiteVectorStore implements VectorStore without a vector extension: it
// stores embeddings as little-endian float32 BLOBs and scores by brute-force
// cosine similarity, the same representation and math the fact store's own
// embedding column once used (teacher's embedding.go / sqlite.go). This
// backend is selected when no Postgres/pgvector DSN is configured (spec §4.3
// separates C5 from C4; this is the "no Postgres configured" fallback named
// in the component split).
type SQLiteVectorStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int // 0 until the first successful store

	autoRepair bool
	rc         *refCounted
}

// NewSQLiteVectorStore creates (or reopens) the memstore_vectors table on
// db. autoRepair controls dimension-mismatch handling: when set, a mismatch
// drops and rebuilds the table instead of returning empty results.
func NewSQLiteVectorStore(db *sql.DB, autoRepair bool) (*SQLiteVectorStore, error) {
	s := &SQLiteVectorStore{db: db, autoRepair: autoRepair}
	s.rc = newRefCounted(s.closeBackend)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS memstore_vectors (
		fact_id    TEXT PRIMARY KEY,
		vector     BLOB NOT NULL,
		dim        INTEGER NOT NULL,
		category   TEXT NOT NULL,
		importance REAL NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("memstore: vectorstore: creating table: %w", err)
	}
	var dim sql.NullInt64
	if err := db.QueryRow(`SELECT dim FROM memstore_vectors LIMIT 1`).Scan(&dim); err == nil && dim.Valid {
		s.dim = int(dim.Int64)
	}
	return s, nil
}

// Store inserts or replaces the vector row for rec.FactID. A dimension
// mismatch against a previously established dimension is refused unless
// autoRepair is set, in which case the table is rebuilt at the new
// dimension and the caller is responsible for re-embedding and re-storing
// existing rows (they are dropped here).
func (s *SQLiteVectorStore) Store(ctx context.Context, rec VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim != 0 && len(rec.Vector) != s.dim {
		if !s.autoRepair {
			return fmt.Errorf("%w: have %d, got %d", ErrDimensionMismatch, s.dim, len(rec.Vector))
		}
		if err := s.rebuildLocked(ctx); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memstore_vectors (fact_id, vector, dim, category, importance)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(fact_id) DO UPDATE SET vector = excluded.vector, dim = excluded.dim,
		   category = excluded.category, importance = excluded.importance`,
		rec.FactID, EncodeFloat32s(rec.Vector), len(rec.Vector), string(rec.Category), rec.Importance,
	)
	if err != nil {
		return fmt.Errorf("memstore: vectorstore: storing %s: %w", rec.FactID, err)
	}
	s.dim = len(rec.Vector)
	return nil
}

// rebuildLocked drops and recreates memstore_vectors. Caller must hold s.mu.
func (s *SQLiteVectorStore) rebuildLocked(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memstore_vectors`); err != nil {
		return fmt.Errorf("memstore: vectorstore: rebuilding table: %w", err)
	}
	s.dim = 0
	return nil
}

// HasDuplicate reports whether an existing row has cosine similarity at
// least threshold against vector (dedupTopOne if threshold <= 0).
func (s *SQLiteVectorStore) HasDuplicate(ctx context.Context, vector []float32, threshold float64) (bool, error) {
	if threshold <= 0 {
		threshold = dedupTopOne
	}
	results, err := s.Search(ctx, vector, 1, threshold)
	if err != nil {
		return false, nil // backend error: log-and-false per §4.3
	}
	return len(results) > 0, nil
}

// Search returns up to limit rows scoring >= minScore, ranked by cosine
// similarity descending. A dimension mismatch returns an empty slice (the
// warning is the caller's concern to log).
func (s *SQLiteVectorStore) Search(ctx context.Context, vector []float32, limit int, minScore float64) ([]VectorSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(vector) != s.dim {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT fact_id, vector, category, importance FROM memstore_vectors`)
	if err != nil {
		return nil, nil // backend error: log-and-empty per §4.3
	}
	defer rows.Close()

	var scored []VectorSearchResult
	for rows.Next() {
		var factID, category string
		var blob []byte
		var importance float64
		if err := rows.Scan(&factID, &blob, &category, &importance); err != nil {
			continue
		}
		vec := DecodeFloat32s(blob)
		score := CosineSimilarity(vector, vec)
		if score < minScore {
			continue
		}
		scored = append(scored, VectorSearchResult{
			FactID: factID, Score: score, Category: Category(category), Importance: importance,
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Delete removes the vector row for factID, if any.
func (s *SQLiteVectorStore) Delete(ctx context.Context, factID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memstore_vectors WHERE fact_id = ?`, factID); err != nil {
		return fmt.Errorf("memstore: vectorstore: deleting %s: %w", factID, err)
	}
	return nil
}

// Count returns the number of stored vector rows, or 0 on backend failure.
func (s *SQLiteVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memstore_vectors`).Scan(&n); err != nil {
		return 0, nil
	}
	return n, nil
}

// Close releases this handle's reference. The backing *sql.DB is owned by
// the caller (matching the fact store's own "caller owns the db"
// philosophy), so closeBackend is a no-op; refcounting here exists so
// callers that layer their own resources atop the vector store (e.g. an
// index warm cache) can hook into the zero-refcount transition.
func (s *SQLiteVectorStore) Close() error {
	return s.rc.release()
}

func (s *SQLiteVectorStore) closeBackend() error {
	return nil
}

// Acquire increments the reference count, mirroring the "open clears any
// stale initialization promise so reconnects work after close" contract
// for callers that hold this store across multiple hook invocations.
func (s *SQLiteVectorStore) Acquire() {
	s.rc.acquire()
}

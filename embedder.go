// Package memstore provides a hybrid long-term memory engine for a
// conversational agent runtime. It persists small textual facts together
// with vector embeddings and makes them recallable by keyword, semantic
// similarity, entity/key lookup, and typed graph traversal.
//
// # Conventions
//
// Relationship facts are directional: a fact like "Alice trusts Bob" with
// Entity "Alice" is only indexed under Alice. To ensure reliable lookup
// from either side of a relationship, store both directions at capture
// time:
//
//	{Text: "Alice trusts Bob",        Entity: "Alice", Category: CategoryFact}
//	{Text: "Bob is trusted by Alice", Entity: "Bob",   Category: CategoryFact}
//
// The capture pipeline does this automatically for PART_OF/RELATED_TO
// links it infers; callers doing explicit Store calls control the inverse
// phrasing themselves, since it varies by relationship type.
package memstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Embedder produces vector embeddings for text (C1). Dimension D must be
// stable across a deployment; the fact store and vector store both record
// and validate it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns a stable identifier for the embedding model (e.g.
	// "embeddinggemma"). The store records this on first use and rejects
	// mismatched embedders on subsequent opens.
	Model() string
}

// embedBackoff returns the bounded exponential backoff policy used for a
// single embed call site (spec §5: "each retry budget is local to the
// call site").
func embedBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

// embedWithRetry calls e.Embed with bounded exponential backoff, stopping
// immediately on context cancellation.
func embedWithRetry(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	var result [][]float32
	op := func() error {
		var err error
		result, err = e.Embed(ctx, texts)
		return err
	}
	if err := backoff.Retry(op, embedBackoff(ctx)); err != nil {
		return nil, fmt.Errorf("memstore: embedding failed: %w", err)
	}
	return result, nil
}

// Single embeds a single text using the given Embedder, with retries.
func Single(ctx context.Context, e Embedder, text string) ([]float32, error) {
	results, err := embedWithRetry(ctx, e, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("memstore: empty embedding response")
	}
	return results[0], nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 if the vectors differ in length, are empty, or have zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// EncodeFloat32s serializes a float32 slice to a little-endian byte slice,
// suitable for storing as a BLOB in SQLite.
func EncodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFloat32s deserializes a little-endian byte slice back to a float32 slice.
func DecodeFloat32s(buf []byte) []float32 {
	n := len(buf) / 4
	v := make([]float32, n)
	for i := range n {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

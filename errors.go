package memstore

import "errors"

// Sentinel errors a caller can test for with errors.Is.
var (
	ErrNoEmbedder        = errors.New("memstore: no embedder configured")
	ErrDimensionMismatch = errors.New("memstore: embedding dimension mismatch")
	ErrNotFound          = errors.New("memstore: not found")
	ErrAlreadySuperseded = errors.New("memstore: fact already superseded")
	ErrInvariant         = errors.New("memstore: invariant violation")
)

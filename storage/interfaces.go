package storage

import (
	"context"

	"github.com/poiesic/baler/core"
)

// VectorIndex persists stored vectors and answers similarity queries.
// Implementations must be thread-safe and support concurrent access.
type VectorIndex interface {
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Page returns the metadata of up to limit vectors starting at offset,
	// in a stable backend-defined order. A page shorter than limit is the last.
	Page(ctx context.Context, offset, limit int) ([]core.Metadata, error)

	// Query returns the n vectors most similar to vector by cosine
	// similarity, highest first.
	Query(ctx context.Context, vector []float32, n int) ([]*core.ScoredVector, error)

	// Upsert writes vectors, replacing any stored under the same ID.
	Upsert(ctx context.Context, vectors ...*core.StoredVector) error

	// Close releases the backend.
	Close() error
}

// Scanner is implemented by indexes that can walk every stored vector with
// a cursor, rather than re-reading from the start for each Page.
type Scanner interface {
	// Scan calls fn with the metadata of every stored vector, fetching
	// pageSize at a time. An error from fn stops the scan and is returned.
	Scan(ctx context.Context, pageSize int, fn func(core.Metadata) error) error
}

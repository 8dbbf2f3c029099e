package ai

import (
	"context"

	"github.com/poiesic/baler/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Used for search queries.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Tagger is the language-model capability used by the ingestion pipeline
// and by recommendations. Implementations must be thread-safe for concurrent use.
type Tagger interface {
	// GenerateTags returns 5-7 descriptive tags for a review excerpt.
	// Failures are absorbed: the result is empty and the failure is logged.
	GenerateTags(ctx context.Context, chunk string) []string

	// StreamResponse answers query using only the given stored excerpts.
	// Text arrives as EventChunk events followed by one EventSources event.
	// Failures after the stream has started are delivered as an EventError
	// event. The channel is closed when the response ends.
	StreamResponse(ctx context.Context, query string, excerpts []core.Metadata) (<-chan StreamEvent, error)
}

// Provider aggregates AI services for convenient initialization and lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Tagger returns the language-model service.
	Tagger() Tagger

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}

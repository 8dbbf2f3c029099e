package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/core"
)

// MockTagger is a test double for ai.Tagger.
// It allows custom behavior injection via function fields.
type MockTagger struct {
	// GenerateTagsFunc is called by GenerateTags if set.
	// If nil, tags are the first words of the chunk.
	GenerateTagsFunc func(ctx context.Context, chunk string) []string

	// StreamResponseFunc is called by StreamResponse if set.
	// If nil, the query is echoed back followed by the sources.
	StreamResponseFunc func(ctx context.Context, query string, excerpts []core.Metadata) (<-chan ai.StreamEvent, error)

	mu     sync.Mutex
	chunks []string
}

// NewMockTagger creates a mock tagger with default behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockTagger() *MockTagger {
	return &MockTagger{}
}

// GenerateTags records chunk and returns tags for it.
// Safe for concurrent use.
func (m *MockTagger) GenerateTags(ctx context.Context, chunk string) []string {
	m.mu.Lock()
	m.chunks = append(m.chunks, chunk)
	m.mu.Unlock()

	if m.GenerateTagsFunc != nil {
		return m.GenerateTagsFunc(ctx, chunk)
	}

	// Default: lowercase words, punctuation stripped, up to 5
	words := strings.Fields(strings.ToLower(chunk))
	tags := make([]string, 0, 5)
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word == "" {
			continue
		}
		tags = append(tags, word)
		if len(tags) == 5 {
			break
		}
	}
	return tags
}

// StreamResponse returns a closed channel holding the canned response.
func (m *MockTagger) StreamResponse(ctx context.Context, query string, excerpts []core.Metadata) (<-chan ai.StreamEvent, error) {
	if m.StreamResponseFunc != nil {
		return m.StreamResponseFunc(ctx, query, excerpts)
	}

	events := make(chan ai.StreamEvent, 2)
	events <- ai.ChunkEvent("You asked for " + query + ".")
	events <- ai.SourcesEvent(ai.SourcesFromExcerpts(excerpts))
	close(events)
	return events, nil
}

// CallCount returns the number of GenerateTags calls.
func (m *MockTagger) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// Chunks returns every chunk passed to GenerateTags, in call order.
func (m *MockTagger) Chunks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.chunks...)
}

// Reset clears recorded calls and injected behavior.
func (m *MockTagger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = nil
	m.GenerateTagsFunc = nil
	m.StreamResponseFunc = nil
}

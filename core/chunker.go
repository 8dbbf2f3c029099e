package core

import (
	"fmt"
	"strings"
)

// Default sentence window used when chunking reviews.
const (
	DefaultChunkSize    = 4
	DefaultChunkOverlap = 1
)

// Chunk splits text into overlapping windows of chunkSize sentences.
//
// Sentences are delimited by periods, trimmed, and empty ones discarded.
// Consecutive windows share overlap sentences. Each window is rejoined
// with ". " and terminated with a period. The final windows may hold fewer
// than chunkSize sentences. Text with no period at all is one sentence, so
// "hello world" yields ["hello world."].
//
// Text without any sentence yields an empty slice and a nil error.
// A non-positive stride (overlap >= chunkSize) is a configuration error.
func Chunk(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize < 1 || overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunkParams, chunkSize, overlap)
	}

	parts := strings.Split(text, ".")
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return []string{}, nil
	}

	stride := chunkSize - overlap
	chunks := make([]string, 0, len(sentences)/stride+1)
	for start := 0; start < len(sentences); start += stride {
		end := min(start+chunkSize, len(sentences))
		chunks = append(chunks, strings.Join(sentences[start:end], ". ")+".")
	}
	return chunks, nil
}

// ChunkRecord chunks the review text of record and numbers the windows.
func ChunkRecord(record *RawRecord, chunkSize, overlap int) ([]TextChunk, error) {
	texts, err := Chunk(record.ReviewText, chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]TextChunk, len(texts))
	for i, text := range texts {
		chunks[i] = TextChunk{Index: i, Text: text}
	}
	return chunks, nil
}

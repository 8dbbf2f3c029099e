package core

import (
	"encoding/json"
	"strconv"
)

// Metadata keys stored alongside every vector.
const (
	MetaArtist      = "artist"
	MetaAlbumTitle  = "album_title"
	MetaScore       = "score"
	MetaReviewURL   = "review_url"
	MetaCoverURL    = "cover_url"
	MetaAuthor      = "author"
	MetaReleaseYear = "release_year"
	MetaTextChunk   = "text_chunk"
	MetaTags        = "tags"
)

// Metadata is the flat, string-valued record attached to a stored vector.
type Metadata map[string]string

// Get returns the value for key, or MissingValue if it is absent.
func (m Metadata) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return MissingValue
}

// ReviewURL returns the review URL the chunk was taken from.
func (m Metadata) ReviewURL() string {
	return m[MetaReviewURL]
}

// Tags decodes the JSON-encoded tag list. Malformed values decode to nil.
func (m Metadata) Tags() []string {
	raw, ok := m[MetaTags]
	if !ok {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

// Score parses the stored score. ok is false when the score was missing.
func (m Metadata) Score() (score float64, ok bool) {
	v, err := strconv.ParseFloat(m[MetaScore], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Decoded returns a copy of the metadata suitable for JSON export, with
// tags expanded back into a list.
func (m Metadata) Decoded() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	if tags := m.Tags(); tags != nil {
		out[MetaTags] = tags
	}
	return out
}

// Chunk rebuilds the enriched chunk that produced m. The chunk index is not
// stored and comes back as zero. The result has the same ID, document and
// metadata as the original.
func (m Metadata) Chunk() *EnrichedChunk {
	chunk := &EnrichedChunk{
		TextChunk:   TextChunk{Text: m[MetaTextChunk]},
		Tags:        m.Tags(),
		Artist:      m[MetaArtist],
		AlbumTitle:  m[MetaAlbumTitle],
		ReviewURL:   m[MetaReviewURL],
		CoverURL:    m[MetaCoverURL],
		Author:      m[MetaAuthor],
		ReleaseYear: Year(m[MetaReleaseYear]),
	}
	if score, ok := m.Score(); ok {
		chunk.Score = &score
	}
	return chunk
}

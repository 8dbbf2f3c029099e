package core

import (
	"encoding/binary"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// MissingValue replaces absent scalar fields in stored metadata.
// It doubles as the scraper's marker for an unknown artist.
const MissingValue = "N/A"

// InvalidArtist marks records whose artist could not be determined.
// Such records are excluded before any processing.
const InvalidArtist = MissingValue

// ID is a unique identifier for stored vectors.
// It is derived from content so identical input always maps to the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID returns the ID of a chunk taken from the review at reviewURL.
func ChunkID(reviewURL, chunkText string) ID {
	return IDFromContent(reviewURL + chunkText)
}

// Year is a release year as published by the source. The scraper emits it as
// a string ("2019" or "N/A") but hand-edited files sometimes carry a number.
type Year string

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (y *Year) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*y = Year(strings.TrimSpace(s))
		return nil
	}
	if string(data) == "null" {
		*y = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*y = Year(n.String())
	return nil
}

// RawRecord is one review as produced by the scraper.
type RawRecord struct {
	Artist         string   `json:"artist"`
	AlbumTitle     string   `json:"album_title"`
	Score          *float64 `json:"score,omitempty"`
	ReviewURL      string   `json:"review_url"`
	ReviewText     string   `json:"review_text"`
	Author         string   `json:"author,omitempty"`
	ReleaseYear    Year     `json:"release_year,omitempty"`
	CoverURL       string   `json:"cover_url,omitempty"`
	IsBestNewMusic bool     `json:"is_best_new_music,omitempty"`
}

// TextChunk is a sentence window taken from a review.
type TextChunk struct {
	Index int // Position in the record's chunk sequence
	Text  string
}

// EnrichedChunk is a chunk that received tags from the language model,
// together with the record fields needed for display.
type EnrichedChunk struct {
	TextChunk
	Tags        []string
	Artist      string
	AlbumTitle  string
	Score       *float64
	ReviewURL   string
	CoverURL    string
	Author      string
	ReleaseYear Year
}

// NewEnrichedChunk attaches tags to a chunk of record.
func NewEnrichedChunk(record *RawRecord, chunk TextChunk, tags []string) *EnrichedChunk {
	return &EnrichedChunk{
		TextChunk:   chunk,
		Tags:        tags,
		Artist:      record.Artist,
		AlbumTitle:  record.AlbumTitle,
		Score:       record.Score,
		ReviewURL:   record.ReviewURL,
		CoverURL:    record.CoverURL,
		Author:      record.Author,
		ReleaseYear: record.ReleaseYear,
	}
}

// ID returns the content-derived ID of the chunk.
func (c *EnrichedChunk) ID() ID {
	return ChunkID(c.ReviewURL, c.Text)
}

// Document returns the searchable text that gets embedded.
func (c *EnrichedChunk) Document() string {
	return "Tags: " + strings.Join(c.Tags, ", ") + ". Review excerpt: " + c.Text
}

// Metadata flattens the chunk into scalar metadata. Tags are JSON encoded
// and every missing field is replaced by MissingValue.
func (c *EnrichedChunk) Metadata() Metadata {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)

	score := MissingValue
	if c.Score != nil {
		score = strconv.FormatFloat(*c.Score, 'f', -1, 64)
	}

	return Metadata{
		MetaArtist:      orMissing(c.Artist),
		MetaAlbumTitle:  orMissing(c.AlbumTitle),
		MetaScore:       score,
		MetaReviewURL:   orMissing(c.ReviewURL),
		MetaCoverURL:    orMissing(c.CoverURL),
		MetaAuthor:      orMissing(c.Author),
		MetaReleaseYear: orMissing(string(c.ReleaseYear)),
		MetaTextChunk:   orMissing(c.Text),
		MetaTags:        string(encoded),
	}
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return MissingValue
	}
	return s
}

// StoredVector is the unit persisted in a vector index.
type StoredVector struct {
	Id        ID
	Embedding []float32
	Document  string
	Metadata  Metadata
}

// ScoredVector is a query hit together with its similarity score.
type ScoredVector struct {
	Vector *StoredVector
	Score  float32
}

package ai

import (
	"encoding/json"

	"github.com/poiesic/baler/core"
)

// TagFormat describes how a backend lays out its tag list.
type TagFormat int

const (
	// TagFormatJSON expects a JSON array of strings.
	TagFormatJSON TagFormat = iota
	// TagFormatCSV accepts a JSON array or, failing that, one comma-separated line.
	TagFormatCSV
)

// Source identifies a review cited in a streamed response.
type Source struct {
	AlbumTitle string `json:"album_title"`
	Artist     string `json:"artist"`
	URL        string `json:"url"`
}

// EventKind discriminates StreamEvent payloads.
type EventKind int

const (
	EventChunk EventKind = iota
	EventSources
	EventError
)

// StreamEvent is one element of a streamed response.
// It encodes as {"chunk": ...}, {"sources": [...]} or {"error": ...}.
type StreamEvent struct {
	Kind    EventKind
	Text    string
	Sources []Source
}

// ChunkEvent carries a piece of generated text.
func ChunkEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventChunk, Text: text}
}

// SourcesEvent carries the reviews the answer was grounded on.
func SourcesEvent(sources []Source) StreamEvent {
	return StreamEvent{Kind: EventSources, Sources: sources}
}

// ErrorEvent reports a failure after streaming began.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Kind: EventError, Text: err.Error()}
}

// MarshalJSON encodes the event as a single-key object.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []Source{}
		}
		return json.Marshal(struct {
			Sources []Source `json:"sources"`
		}{sources})
	case EventError:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Text})
	default:
		return json.Marshal(struct {
			Chunk string `json:"chunk"`
		}{e.Text})
	}
}

// SourcesFromExcerpts lists the reviews behind excerpts, one entry per URL,
// in first-seen order.
func SourcesFromExcerpts(excerpts []core.Metadata) []Source {
	seen := make(map[string]struct{}, len(excerpts))
	sources := make([]Source, 0, len(excerpts))
	for _, meta := range excerpts {
		url := meta.Get(core.MetaReviewURL)
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		sources = append(sources, Source{
			AlbumTitle: meta.Get(core.MetaAlbumTitle),
			Artist:     meta.Get(core.MetaArtist),
			URL:        url,
		})
	}
	return sources
}

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/core"
)

const (
	// DefaultTopK is the number of excerpts retrieved per request.
	DefaultTopK = 5

	// NoMatchResponse is sent when the index returns nothing for a query.
	NoMatchResponse = "Apologies, but none of the reviews in my collection seem to match that particular vibe. Try a different query."
)

// Searcher retrieves stored excerpts for a free-text query.
// vectorstore.Adapter satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, topK, offset int) ([]core.Metadata, error)
}

// Recommender answers music requests from the review index.
type Recommender struct {
	searcher Searcher
	tagger   ai.Tagger
	topK     int
	logger   *slog.Logger
}

// Option configures a Recommender.
type Option func(*Recommender) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recommender) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithTopK sets the default number of excerpts retrieved per request.
func WithTopK(k int) Option {
	return func(r *Recommender) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		r.topK = k
		return nil
	}
}

// NewRecommender creates a new recommender.
func NewRecommender(searcher Searcher, tagger ai.Tagger, opts ...Option) (*Recommender, error) {
	if searcher == nil {
		return nil, ErrSearcherRequired
	}
	if tagger == nil {
		return nil, ErrTaggerRequired
	}

	r := &Recommender{
		searcher: searcher,
		tagger:   tagger,
		topK:     DefaultTopK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "recommender")

	return r, nil
}

// Recommend streams an answer to query. topK <= 0 selects the configured
// default.
func (r *Recommender) Recommend(ctx context.Context, query string, topK int) (<-chan ai.StreamEvent, error) {
	return r.RecommendWithMonitor(ctx, query, topK, nil)
}

// RecommendWithMonitor is Recommend with callbacks at each stage.
func (r *Recommender) RecommendWithMonitor(ctx context.Context, query string, topK int, monitor RecommendMonitor) (<-chan ai.StreamEvent, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = r.topK
	}

	monitor.Start(query)

	excerpts, err := r.searcher.Search(ctx, query, topK, 0)
	if err != nil {
		r.logger.Error("error searching reviews", "query", query, "err", err)
		return nil, err
	}
	monitor.AfterSearch(excerpts)

	if len(excerpts) == 0 {
		r.logger.Info("no reviews matched", "query", query)
		monitor.NoMatch()
		events := make(chan ai.StreamEvent, 2)
		events <- ai.ChunkEvent(NoMatchResponse)
		events <- ai.SourcesEvent([]ai.Source{})
		close(events)
		return events, nil
	}

	excerpts = rerank(excerpts, query)
	monitor.AfterRerank(excerpts)

	events, err := r.tagger.StreamResponse(ctx, query, excerpts)
	if err != nil {
		r.logger.Error("error opening response stream", "err", err)
		return nil, err
	}
	monitor.StreamOpened()
	r.logger.Debug("streaming recommendation", "query", query, "excerpts", len(excerpts))

	return events, nil
}

// WriteNDJSON writes each event as one JSON line until events is closed or
// ctx is done. Error events are written like any other event.
func WriteNDJSON(ctx context.Context, w io.Writer, events <-chan ai.StreamEvent) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}

// Collect drains events into the full answer text and its sources. The
// first error event is returned as an error after the stream ends.
func Collect(events <-chan ai.StreamEvent) (text string, sources []ai.Source, err error) {
	var sb strings.Builder
	for ev := range events {
		switch ev.Kind {
		case ai.EventChunk:
			sb.WriteString(ev.Text)
		case ai.EventSources:
			sources = ev.Sources
		case ai.EventError:
			if err == nil {
				err = fmt.Errorf("stream failed: %s", ev.Text)
			}
		}
	}
	return sb.String(), sources, err
}

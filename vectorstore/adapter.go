// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/metrics"
	"github.com/poiesic/baler/storage"
)

const (
	// DefaultPageSize is the page length used to enumerate stored metadata.
	DefaultPageSize = 1000

	// DefaultUpsertBatchSize bounds the vectors embedded and written together.
	DefaultUpsertBatchSize = 100

	// DefaultReadyTimeout bounds WaitReady.
	DefaultReadyTimeout = 60 * time.Second

	// DefaultReadyInterval is the pause between readiness probes.
	DefaultReadyInterval = time.Second
)

// Adapter turns enriched chunks into stored vectors and answers paged
// similarity searches. It is safe for concurrent use if the index and
// embedder are.
type Adapter struct {
	index           storage.VectorIndex
	embedder        ai.Embedder
	pageSize        int
	upsertBatchSize int
	logger          *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter) error

// WithPageSize sets the page length used by ProcessedURLs and Export.
func WithPageSize(size int) Option {
	return func(a *Adapter) error {
		if size < 1 {
			return fmt.Errorf("page size must be positive, got %d", size)
		}
		a.pageSize = size
		return nil
	}
}

// WithUpsertBatchSize sets the sub-batch size used by Upsert.
func WithUpsertBatchSize(size int) Option {
	return func(a *Adapter) error {
		if size < 1 {
			return fmt.Errorf("upsert batch size must be positive, got %d", size)
		}
		a.upsertBatchSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// NewAdapter creates an adapter over index that embeds with embedder.
func NewAdapter(index storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Adapter, error) {
	if index == nil || embedder == nil {
		return nil, errors.New("vectorstore: index and embedder are required")
	}
	a := &Adapter{
		index:           index,
		embedder:        embedder,
		pageSize:        DefaultPageSize,
		upsertBatchSize: DefaultUpsertBatchSize,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.logger = a.logger.With("component", "vectorstore")
	return a, nil
}

// Count returns the number of stored vectors.
func (a *Adapter) Count(ctx context.Context) (int, error) {
	return a.index.Count(ctx)
}

// ProcessedURLs returns the review URLs present in the store. On any read
// failure the error is logged and an empty set is returned, so that a
// flaky store leads to re-processing rather than to an aborted run.
func (a *Adapter) ProcessedURLs(ctx context.Context) map[string]struct{} {
	urls := make(map[string]struct{})
	err := a.Each(ctx, func(meta core.Metadata) error {
		if url := meta.ReviewURL(); url != "" && url != core.MissingValue {
			urls[url] = struct{}{}
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("could not enumerate processed reviews, treating store as empty", "err", err)
		return map[string]struct{}{}
	}
	a.logger.Debug("enumerated processed reviews", "count", len(urls))
	return urls
}

// Each calls fn with the metadata of every stored vector, page by page.
// Indexes that implement storage.Scanner are walked with their cursor.
func (a *Adapter) Each(ctx context.Context, fn func(core.Metadata) error) error {
	if scanner, ok := a.index.(storage.Scanner); ok {
		return scanner.Scan(ctx, a.pageSize, fn)
	}
	for offset := 0; ; offset += a.pageSize {
		page, err := a.index.Page(ctx, offset, a.pageSize)
		if err != nil {
			return fmt.Errorf("reading page at offset %d: %w", offset, err)
		}
		for _, meta := range page {
			if err := fn(meta); err != nil {
				return err
			}
		}
		if len(page) < a.pageSize {
			return nil
		}
	}
}

// Upsert embeds and writes chunks in sub-batches. A sub-batch whose
// embedding or write fails is skipped; the others are still written.
// It returns the number of vectors written and, when sub-batches were
// skipped, a joined error describing them. That error is for reporting:
// callers should not abort on it.
func (a *Adapter) Upsert(ctx context.Context, chunks []*core.EnrichedChunk) (int, error) {
	written := 0
	var failures []error

	for start := 0; start < len(chunks); start += a.upsertBatchSize {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		end := min(start+a.upsertBatchSize, len(chunks))
		n, err := a.upsertSubBatch(ctx, chunks[start:end])
		if err != nil {
			a.logger.Warn("skipping sub-batch",
				"kind", core.KindBatchSkip,
				"start", start,
				"size", end-start,
				"err", err)
			failures = append(failures, core.Errorf(core.KindBatchSkip,
				fmt.Sprintf("upsert chunks %d-%d", start, end-1), err))
			continue
		}
		written += n
	}

	return written, errors.Join(failures...)
}

func (a *Adapter) upsertSubBatch(ctx context.Context, chunks []*core.EnrichedChunk) (int, error) {
	documents := make([]string, len(chunks))
	for i, c := range chunks {
		documents[i] = c.Document()
	}

	embeddings, err := a.embedder.EmbedTexts(ctx, documents)
	if err != nil {
		metrics.FailedSubBatches.WithLabelValues("embed").Inc()
		return 0, fmt.Errorf("embedding: %w", err)
	}
	if len(embeddings) != len(chunks) {
		metrics.FailedSubBatches.WithLabelValues("embed").Inc()
		return 0, fmt.Errorf("embedding: got %d vectors for %d documents", len(embeddings), len(chunks))
	}

	vectors := make([]*core.StoredVector, len(chunks))
	for i, c := range chunks {
		vectors[i] = &core.StoredVector{
			Id:        c.ID(),
			Embedding: embeddings[i],
			Document:  documents[i],
			Metadata:  c.Metadata(),
		}
	}

	if err := a.index.Upsert(ctx, vectors...); err != nil {
		metrics.FailedSubBatches.WithLabelValues("write").Inc()
		return 0, fmt.Errorf("writing: %w", err)
	}
	metrics.VectorsUpserted.Add(float64(len(vectors)))
	return len(vectors), nil
}

// Search returns up to topK metadata records for query, skipping the first
// offset matches. The index is asked for offset+topK hits and the window is
// cut locally.
func (a *Adapter) Search(ctx context.Context, query string, topK, offset int) (results []core.Metadata, err error) {
	defer func() {
		metrics.SearchRequests.WithLabelValues(metrics.Result(err)).Inc()
	}()

	if topK <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: topK=%d offset=%d", storage.ErrInvalidQuery, topK, offset)
	}

	vector, err := a.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := a.index.Query(ctx, vector, offset+topK)
	if err != nil {
		return nil, err
	}
	if offset >= len(hits) {
		return []core.Metadata{}, nil
	}

	hits = hits[offset:min(offset+topK, len(hits))]
	results = make([]core.Metadata, len(hits))
	for i, hit := range hits {
		results[i] = hit.Vector.Metadata
	}
	return results, nil
}

// WaitReady polls the index until it answers, interval apart, for at most
// timeout. Zero values select the defaults.
func (a *Adapter) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if interval <= 0 {
		interval = DefaultReadyInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := a.index.Ping(ctx)
		if err == nil {
			if attempt > 1 {
				a.logger.Info("vector store is ready", "attempts", attempt)
			}
			return nil
		}
		a.logger.Debug("vector store not ready", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return core.Errorf(core.KindFatal, "wait for vector store",
				fmt.Errorf("%w after %s: %w", ErrStoreUnreachable, timeout, err))
		case <-ticker.C:
		}
	}
}

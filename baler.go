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

// Package baler wires the review index together: the vector store, the
// language-model and embedding services, the ingestion pipeline and the
// recommender.
package baler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/ai/fastembed"
	"github.com/poiesic/baler/ai/gemini"
	"github.com/poiesic/baler/ai/openai"
	"github.com/poiesic/baler/config"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/ingestion"
	"github.com/poiesic/baler/reembed"
	"github.com/poiesic/baler/search"
	"github.com/poiesic/baler/storage"
	"github.com/poiesic/baler/storage/badger"
	"github.com/poiesic/baler/storage/qdrant"
	"github.com/poiesic/baler/vectorstore"
)

// Baler owns the vector index and AI services for one session.
type Baler struct {
	config   *config.Config
	index    storage.VectorIndex
	provider ai.Provider
	adapter  *vectorstore.Adapter
	logger   *slog.Logger
}

// Option configures a Baler.
type Option func(*options)

type options struct {
	index    storage.VectorIndex
	provider ai.Provider
	logger   *slog.Logger
}

// WithIndex uses index instead of opening the configured store.
// The Baler takes ownership and closes it.
func WithIndex(index storage.VectorIndex) Option {
	return func(o *options) {
		o.index = index
	}
}

// WithProvider uses provider instead of building the configured services.
// The Baler takes ownership and closes it.
func WithProvider(provider ai.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open connects to the configured store and AI services. A nil cfg selects
// the defaults.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Baler, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	provider := o.provider
	if provider == nil {
		p, err := NewProvider(ctx, cfg.AIConfig())
		if err != nil {
			return nil, err
		}
		provider = p
	}

	index := o.index
	if index == nil {
		idx, err := OpenIndex(ctx, cfg)
		if err != nil {
			provider.Close()
			return nil, err
		}
		index = idx
	}

	adapter, err := vectorstore.NewAdapter(index, provider.Embedder(),
		vectorstore.WithPageSize(cfg.Store.PageSize),
		vectorstore.WithUpsertBatchSize(cfg.Store.UpsertBatchSize),
		vectorstore.WithLogger(o.logger),
	)
	if err != nil {
		index.Close()
		provider.Close()
		return nil, err
	}

	return &Baler{
		config:   cfg,
		index:    index,
		provider: provider,
		adapter:  adapter,
		logger:   o.logger.With("component", "baler"),
	}, nil
}

// NewProvider builds the tagging and embedding services selected by cfg.
func NewProvider(ctx context.Context, cfg *ai.Config) (ai.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == ai.ProviderOpenAI && cfg.Embedder == ai.EmbedderOpenAI {
		return openai.NewProvider(cfg)
	}

	var (
		embedder ai.Embedder
		closers  []io.Closer
	)
	switch cfg.Embedder {
	case ai.EmbedderFastEmbed:
		fe, err := fastembed.New(cfg)
		if err != nil {
			return nil, err
		}
		embedder = fe
		closers = append(closers, fe)
	case ai.EmbedderOpenAI:
		e, err := openai.NewEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	var tagger ai.Tagger
	switch cfg.Provider {
	case ai.ProviderGemini:
		client, err := gemini.NewClient(ctx, cfg)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		tagger = client
	case ai.ProviderOpenAI:
		t, err := openai.NewTagger(cfg)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		tagger = t
	}

	return ai.NewProvider(embedder, tagger, closers...), nil
}

// OpenIndex opens the vector index selected by cfg.
func OpenIndex(ctx context.Context, cfg *config.Config) (storage.VectorIndex, error) {
	switch cfg.Store.Backend {
	case config.BackendQdrant:
		qc := cfg.QdrantConfig()
		if cfg.AI.Embedder == string(ai.EmbedderFastEmbed) {
			if dims, ok := fastembed.Dimensions(cfg.AI.EmbeddingModel); ok {
				qc.VectorSize = dims
			}
		}
		return qdrant.NewIndex(ctx, qc)
	case config.BackendBadger:
		if cfg.Store.InMemory {
			idx, err := badger.NewMemoryIndex()
			if err != nil {
				return nil, err
			}
			return idx, nil
		}
		return badger.NewIndex(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Adapter returns the vector store adapter.
func (b *Baler) Adapter() *vectorstore.Adapter {
	return b.adapter
}

// Provider returns the AI services.
func (b *Baler) Provider() ai.Provider {
	return b.provider
}

// WaitReady blocks until the store answers or the configured timeout passes.
func (b *Baler) WaitReady(ctx context.Context) error {
	return b.adapter.WaitReady(ctx,
		b.config.Store.ReadyTimeout.Duration(),
		b.config.Store.ReadyInterval.Duration())
}

// NewIngestionPipeline creates a pipeline tuned by the ingest configuration.
// opts are applied after the configured values.
func (b *Baler) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	ic := b.config.Ingest
	base := []ingestion.Option{
		ingestion.WithBatchSize(ic.BatchSize),
		ingestion.WithConcurrency(ic.Concurrency),
		ingestion.WithInterBatchDelay(ic.InterBatchDelay.Duration()),
		ingestion.WithChunking(ic.ChunkSize, ic.ChunkOverlap),
		ingestion.WithLogger(b.logger),
	}
	return ingestion.NewPipeline(b.adapter, b.provider.Tagger(), append(base, opts...)...)
}

// NewRecommender creates a recommender over the store.
func (b *Baler) NewRecommender(opts ...search.Option) (*search.Recommender, error) {
	base := []search.Option{
		search.WithTopK(b.config.Search.TopK),
		search.WithLogger(b.logger),
	}
	return search.NewRecommender(b.adapter, b.provider.Tagger(), append(base, opts...)...)
}

// Count returns the number of stored vectors.
func (b *Baler) Count(ctx context.Context) (int, error) {
	return b.adapter.Count(ctx)
}

// Inspect returns the metadata of up to n stored vectors in key order.
func (b *Baler) Inspect(ctx context.Context, n int) ([]core.Metadata, error) {
	return b.index.Page(ctx, 0, n)
}

// Export writes every stored metadata record to w as NDJSON, with tags
// decoded into lists. It returns the number of records written.
func (b *Baler) Export(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	err := b.adapter.Each(ctx, func(meta core.Metadata) error {
		if err := enc.Encode(meta.Decoded()); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Reembed rebuilds every stored chunk from its metadata and writes it to
// into with into's embedder. A nil into re-embeds the store in place.
func (b *Baler) Reembed(ctx context.Context, into *Baler, progress io.Writer) (*reembed.Result, error) {
	target := b.adapter
	if into != nil {
		target = into.adapter
	}
	r, err := reembed.NewReembedder(b.adapter, target, &reembed.Config{
		BatchSize:      b.config.Store.UpsertBatchSize,
		ReportInterval: b.config.Store.UpsertBatchSize,
	}, progress)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// Close releases the AI services and the vector index.
func (b *Baler) Close() error {
	var errs []error
	if err := b.provider.Close(); err != nil {
		b.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := b.index.Close(); err != nil {
		b.logger.Error("error closing vector index", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

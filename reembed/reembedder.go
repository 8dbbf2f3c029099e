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

package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/ingestion"
)

// DefaultBatchSize is the number of chunks re-embedded per upsert.
const DefaultBatchSize = 100

// Source enumerates stored metadata. vectorstore.Adapter satisfies it.
type Source interface {
	Count(ctx context.Context) (int, error)
	Each(ctx context.Context, fn func(core.Metadata) error) error
}

// Target embeds and stores chunks. vectorstore.Adapter satisfies it.
type Target interface {
	Upsert(ctx context.Context, chunks []*core.EnrichedChunk) (int, error)
}

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to embed and write together
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: DefaultBatchSize,
	}
}

// Result summarizes a reembedding run.
type Result struct {
	Read             int
	Written          int
	FailedSubBatches int
	Elapsed          time.Duration
}

// Reembedder orchestrates the reembedding of every stored chunk.
type Reembedder struct {
	source   Source
	target   Target
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a new reembedder. source and target may be the
// same store. progress receives progress lines; nil discards them.
func NewReembedder(source Source, target Target, config *Config, progress io.Writer) (*Reembedder, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if target == nil {
		return nil, ErrTargetRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = config.BatchSize
	}

	return &Reembedder{
		source:   source,
		target:   target,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reembed"),
	}, nil
}

// Run rebuilds every stored chunk from its metadata and upserts it into the
// target. Failed sub-batches are counted and skipped; read failures and
// cancellation abort the run.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	total, err := r.source.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count stored chunks: %w", err)
	}
	if total == 0 {
		r.logger.Info("nothing to reembed")
		return result, nil
	}
	r.logger.Info("starting reembedding", "chunks", total, "batch_size", r.config.BatchSize)

	tracker := ingestion.NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()
	defer func() {
		tracker.Finish()
		result.Elapsed = tracker.Elapsed()
	}()

	batch := make([]*core.EnrichedChunk, 0, r.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := r.target.Upsert(ctx, batch)
		result.Written += written
		if err != nil {
			if core.IsFatal(err) {
				return err
			}
			result.FailedSubBatches++
			r.logger.Warn("sub-batch failed", "size", len(batch), "err", err)
		}
		tracker.Increment(len(batch))
		batch = batch[:0]
		return nil
	}

	// Chunks are buffered before any write so that rewriting the source
	// in place cannot disturb its own pagination.
	var chunks []*core.EnrichedChunk
	err = r.source.Each(ctx, func(meta core.Metadata) error {
		chunks = append(chunks, meta.Chunk())
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to read stored chunks: %w", err)
	}
	result.Read = len(chunks)

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		batch = append(batch, chunk)
		if len(batch) == r.config.BatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	r.logger.Info("reembedding complete",
		"read", result.Read,
		"written", result.Written,
		"failed_sub_batches", result.FailedSubBatches)
	return result, nil
}

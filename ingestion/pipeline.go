package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/metrics"
	"github.com/poiesic/baler/retry"
)

const (
	// DefaultBatchSize is the number of reviews tagged and written together.
	DefaultBatchSize = 5

	// DefaultConcurrency bounds in-flight tagging requests.
	DefaultConcurrency = 10

	// DefaultInterBatchDelay is the pause between batches.
	DefaultInterBatchDelay = time.Second
)

// Store is the part of vectorstore.Adapter the pipeline writes through.
type Store interface {
	Count(ctx context.Context) (int, error)
	ProcessedURLs(ctx context.Context) map[string]struct{}
	Upsert(ctx context.Context, chunks []*core.EnrichedChunk) (int, error)
}

// Report summarizes one ingestion run.
type Report struct {
	RunID            string
	Loaded           int // Records decoded from the input
	Skipped          int // Lines that failed to decode
	Invalid          int // Records that failed validation
	Duplicates       int // Records replaced by a later one with the same URL
	AlreadyProcessed int // Records already present in the store
	Processed        int // Records that went through tagging
	ChunksTagged     int
	ChunksDropped    int // Chunks for which no tags were produced
	VectorsWritten   int
	FailedSubBatches int
	FinalCount       int // Store count after the run, -1 if it could not be read
	NoOp             bool
	Elapsed          time.Duration
}

// Pipeline tags review chunks with a language model and writes them to the
// vector store. Batches run one after another; within a batch every chunk
// is tagged concurrently on a bounded worker pool.
type Pipeline struct {
	store           Store
	tagger          ai.Tagger
	pool            *ants.Pool
	batchSize       int
	concurrency     int
	interBatchDelay time.Duration
	chunkSize       int
	chunkOverlap    int
	progress        io.Writer
	logger          *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithBatchSize sets how many reviews are processed per batch.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrent tagging requests.
func WithConcurrency(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("concurrency must be positive, got %d", size)
		}
		p.concurrency = size
		return nil
	}
}

// WithInterBatchDelay sets the pause between batches. Zero disables it.
func WithInterBatchDelay(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d < 0 {
			return fmt.Errorf("inter-batch delay cannot be negative, got %s", d)
		}
		p.interBatchDelay = d
		return nil
	}
}

// WithChunking sets the sentence window size and overlap.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		if _, err := core.Chunk("", size, overlap); err != nil {
			return core.Errorf(core.KindFatal, "configure chunking", err)
		}
		p.chunkSize = size
		p.chunkOverlap = overlap
		return nil
	}
}

// WithProgressWriter sets where progress lines are written.
// Default is io.Discard.
func WithProgressWriter(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store Store, tagger ai.Tagger, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if tagger == nil {
		return nil, ErrTaggerRequired
	}

	p := &Pipeline{
		store:           store,
		tagger:          tagger,
		batchSize:       DefaultBatchSize,
		concurrency:     DefaultConcurrency,
		interBatchDelay: DefaultInterBatchDelay,
		chunkSize:       core.DefaultChunkSize,
		chunkOverlap:    core.DefaultChunkOverlap,
		progress:        io.Discard,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	pool, err := ants.NewPool(p.concurrency)
	if err != nil {
		return nil, err
	}
	p.pool = pool

	return p, nil
}

// Run ingests the NDJSON reviews at path. Only fatal errors are returned;
// skipped lines, records, chunks and sub-batches are logged and counted in
// the report. When ctx is cancelled the run stops between batches and the
// partial report is returned together with the context error.
func (p *Pipeline) Run(ctx context.Context, path string) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), FinalCount: -1}
	logger := p.logger.With("run", report.RunID)
	start := time.Now()
	defer func() { report.Elapsed = time.Since(start) }()

	loaded, err := LoadRecords(path, logger)
	if err != nil {
		return nil, err
	}
	report.Loaded = len(loaded.Records) + loaded.Skipped
	report.Skipped = loaded.Skipped

	cleaned := Clean(loaded.Records, logger)
	report.Invalid = cleaned.Invalid
	report.Duplicates = cleaned.Duplicates

	processed := p.store.ProcessedURLs(ctx)
	pending := Pending(cleaned.Records, processed)
	report.AlreadyProcessed = len(cleaned.Records) - len(pending)

	metrics.RecordsTotal.WithLabelValues("loaded").Add(float64(report.Loaded))
	metrics.RecordsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	metrics.RecordsTotal.WithLabelValues("invalid").Add(float64(report.Invalid))
	metrics.RecordsTotal.WithLabelValues("duplicate").Add(float64(report.Duplicates))
	metrics.RecordsTotal.WithLabelValues("already_processed").Add(float64(report.AlreadyProcessed))

	logger.Info("loaded reviews",
		"path", path,
		"loaded", report.Loaded,
		"skipped", report.Skipped,
		"invalid", report.Invalid,
		"duplicates", report.Duplicates,
		"already_processed", report.AlreadyProcessed,
		"pending", len(pending))

	if len(pending) == 0 {
		report.NoOp = true
		logger.Info("nothing to process")
		report.FinalCount = p.finalCount(ctx, logger)
		return report, nil
	}

	tracker := NewProgressTracker(p.progress, len(pending), 1)
	tracker.Start()
	defer tracker.Finish()

	batches := (len(pending) + p.batchSize - 1) / p.batchSize
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("run interrupted", "batch", b+1, "batches", batches)
			return report, err
		}

		lo := b * p.batchSize
		hi := min(lo+p.batchSize, len(pending))
		if err := p.runBatch(ctx, logger, pending[lo:hi], report); err != nil {
			return report, err
		}
		tracker.Increment(hi - lo)
		logger.Info("batch complete",
			"batch", b+1,
			"batches", batches,
			"processed", report.Processed,
			"vectors", report.VectorsWritten)

		if b < batches-1 && p.interBatchDelay > 0 {
			if err := retry.Sleep(ctx, p.interBatchDelay); err != nil {
				logger.Warn("run interrupted", "batch", b+1, "batches", batches)
				return report, err
			}
		}
	}

	report.FinalCount = p.finalCount(ctx, logger)
	logger.Info("ingestion finished",
		"processed", report.Processed,
		"chunks_tagged", report.ChunksTagged,
		"chunks_dropped", report.ChunksDropped,
		"vectors", report.VectorsWritten,
		"failed_sub_batches", report.FailedSubBatches,
		"final_count", report.FinalCount,
		"elapsed", time.Since(start))
	return report, nil
}

// runBatch tags every chunk of records concurrently and writes the tagged
// chunks with a single upsert. Each result lands in its own (record, chunk)
// slot so tags can never be attributed to the wrong chunk.
func (p *Pipeline) runBatch(ctx context.Context, logger *slog.Logger, records []*core.RawRecord, report *Report) error {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	chunks := make([][]core.TextChunk, len(records))
	tags := make([][][]string, len(records))
	for i, record := range records {
		c, err := core.ChunkRecord(record, p.chunkSize, p.chunkOverlap)
		if err != nil {
			return core.Errorf(core.KindFatal, "chunk record", err)
		}
		if len(c) == 0 {
			logger.Debug("review has no sentences", "url", record.ReviewURL)
		}
		chunks[i] = c
		tags[i] = make([][]string, len(c))
	}

	var wg sync.WaitGroup
	var submitErr error
	for i := range records {
		for j, chunk := range chunks[i] {
			wg.Add(1)
			err := p.pool.Submit(func() {
				defer wg.Done()
				tags[i][j] = p.tagger.GenerateTags(ctx, chunk.Text)
			})
			if err != nil {
				wg.Done()
				submitErr = errors.Join(submitErr, err)
			}
		}
	}
	wg.Wait()
	if submitErr != nil {
		return core.Errorf(core.KindFatal, "submit tagging", submitErr)
	}

	var enriched []*core.EnrichedChunk
	dropped := 0
	for i, record := range records {
		for j, chunk := range chunks[i] {
			if len(tags[i][j]) == 0 {
				logger.Warn("dropping untagged chunk",
					"kind", core.KindChunkSkip,
					"url", record.ReviewURL,
					"chunk", chunk.Index)
				dropped++
				continue
			}
			enriched = append(enriched, core.NewEnrichedChunk(record, chunk, tags[i][j]))
		}
	}
	report.Processed += len(records)
	report.ChunksTagged += len(enriched)
	report.ChunksDropped += dropped
	metrics.RecordsTotal.WithLabelValues("processed").Add(float64(len(records)))
	metrics.ChunksTotal.WithLabelValues("tagged").Add(float64(len(enriched)))
	metrics.ChunksTotal.WithLabelValues("dropped").Add(float64(dropped))

	if len(enriched) == 0 {
		return nil
	}

	written, err := p.store.Upsert(ctx, enriched)
	report.VectorsWritten += written
	if err != nil {
		if core.IsFatal(err) {
			return err
		}
		report.FailedSubBatches += countFailures(err)
		logger.Warn("batch partially written", "written", written, "err", err)
	}
	return nil
}

// finalCount reads the store size, logging rather than failing on error.
func (p *Pipeline) finalCount(ctx context.Context, logger *slog.Logger) int {
	count, err := p.store.Count(ctx)
	if err != nil {
		logger.Warn("could not read final count", "err", err)
		return -1
	}
	return count
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// countFailures counts the errors joined into err.
func countFailures(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

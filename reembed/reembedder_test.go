package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/poiesic/baler/ai/mock"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/storage/badger"
	"github.com/poiesic/baler/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *vectorstore.Adapter {
	t.Helper()
	idx, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	adapter, err := vectorstore.NewAdapter(idx, mock.NewMockEmbedder(), vectorstore.WithPageSize(2))
	require.NoError(t, err)
	return adapter
}

func seed(t *testing.T, store *vectorstore.Adapter, n int) []*core.EnrichedChunk {
	t.Helper()
	score := 8.1
	chunks := make([]*core.EnrichedChunk, n)
	for i := range chunks {
		record := &core.RawRecord{
			Artist:      "Artist",
			AlbumTitle:  "Album",
			Score:       &score,
			ReviewURL:   "https://example.com/review",
			ReleaseYear: "1994",
		}
		chunks[i] = core.NewEnrichedChunk(record,
			core.TextChunk{Index: i, Text: string(rune('a'+i)) + " sentence."},
			[]string{"tag"})
	}
	written, err := store.Upsert(context.Background(), chunks)
	require.NoError(t, err)
	require.Equal(t, n, written)
	return chunks
}

type failingTarget struct {
	err error
}

func (f *failingTarget) Upsert(context.Context, []*core.EnrichedChunk) (int, error) {
	return 0, f.err
}

func TestNewReembedder(t *testing.T) {
	store := newStore(t)

	t.Run("defaults", func(t *testing.T) {
		r, err := NewReembedder(store, store, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultBatchSize, r.config.BatchSize)
		assert.Equal(t, DefaultBatchSize, r.config.ReportInterval)
	})

	t.Run("invalid batch size falls back", func(t *testing.T) {
		r, err := NewReembedder(store, store, &Config{BatchSize: -1}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultBatchSize, r.config.BatchSize)
	})

	t.Run("nil source", func(t *testing.T) {
		_, err := NewReembedder(nil, store, nil, nil)
		assert.Equal(t, ErrSourceRequired, err)
	})

	t.Run("nil target", func(t *testing.T) {
		_, err := NewReembedder(store, nil, nil, nil)
		assert.Equal(t, ErrTargetRequired, err)
	})
}

func TestRun_InPlace(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 5)

	var progress bytes.Buffer
	r, err := NewReembedder(store, store, &Config{BatchSize: 2}, &progress)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Read)
	assert.Equal(t, 5, result.Written)
	assert.Zero(t, result.FailedSubBatches)
	assert.NotEmpty(t, progress.String())

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRun_Migrate(t *testing.T) {
	ctx := context.Background()
	source := newStore(t)
	target := newStore(t)
	chunks := seed(t, source, 3)

	r, err := NewReembedder(source, target, &Config{BatchSize: 2}, nil)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Written)

	count, err := target.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hits, err := target.Search(ctx, chunks[1].Document(), 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunks[1].Metadata(), hits[0])

	// A second pass writes the same IDs.
	_, err = r.Run(ctx)
	require.NoError(t, err)
	count, err = target.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRun_Empty(t *testing.T) {
	r, err := NewReembedder(newStore(t), newStore(t), nil, nil)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Read)
	assert.Zero(t, result.Written)
}

func TestRun_TargetFailures(t *testing.T) {
	source := newStore(t)
	seed(t, source, 3)

	t.Run("skippable failures are counted", func(t *testing.T) {
		target := &failingTarget{err: core.Errorf(core.KindBatchSkip, "upsert", errors.New("embedder down"))}
		r, err := NewReembedder(source, target, &Config{BatchSize: 1}, nil)
		require.NoError(t, err)

		result, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, result.FailedSubBatches)
		assert.Zero(t, result.Written)
	})

	t.Run("fatal failure aborts", func(t *testing.T) {
		target := &failingTarget{err: core.Errorf(core.KindFatal, "upsert", errors.New("disk full"))}
		r, err := NewReembedder(source, target, &Config{BatchSize: 1}, nil)
		require.NoError(t, err)

		_, err = r.Run(context.Background())
		assert.True(t, core.IsFatal(err))
	})
}

func TestRun_Cancelled(t *testing.T) {
	source := newStore(t)
	seed(t, source, 3)
	r, err := NewReembedder(source, newStore(t), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	assert.Error(t, err)
}

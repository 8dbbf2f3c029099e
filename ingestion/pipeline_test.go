package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/baler/ai/mock"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/storage/badger"
	"github.com/poiesic/baler/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPipeline(t *testing.T, opts ...Option) (*Pipeline, *vectorstore.Adapter, *mock.MockTagger) {
	t.Helper()
	idx, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	adapter, err := vectorstore.NewAdapter(idx, mock.NewMockEmbedder())
	require.NoError(t, err)

	tagger := mock.NewMockTagger()
	opts = append([]Option{WithInterBatchDelay(0)}, opts...)
	pipeline, err := NewPipeline(adapter, tagger, opts...)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	return pipeline, adapter, tagger
}

func writeRecords(t *testing.T, records ...any) string {
	t.Helper()
	var sb strings.Builder
	for _, r := range records {
		if line, ok := r.(string); ok {
			sb.WriteString(line)
		} else {
			data, err := json.Marshal(r)
			require.NoError(t, err)
			sb.Write(data)
		}
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func review(artist, url, text string) *core.RawRecord {
	score := 8.5
	return &core.RawRecord{
		Artist:      artist,
		AlbumTitle:  artist + " LP",
		Score:       &score,
		ReviewURL:   url,
		ReviewText:  text,
		ReleaseYear: "2001",
	}
}

func storedURLs(t *testing.T, adapter *vectorstore.Adapter) map[string]int {
	t.Helper()
	urls := make(map[string]int)
	require.NoError(t, adapter.Each(context.Background(), func(meta core.Metadata) error {
		urls[meta.ReviewURL()]++
		return nil
	}))
	return urls
}

func TestNewPipeline_Validation(t *testing.T) {
	idx, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer idx.Close()
	adapter, err := vectorstore.NewAdapter(idx, mock.NewMockEmbedder())
	require.NoError(t, err)

	_, err = NewPipeline(nil, mock.NewMockTagger())
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewPipeline(adapter, nil)
	assert.ErrorIs(t, err, ErrTaggerRequired)

	tests := []struct {
		name string
		opt  Option
	}{
		{"zero batch size", WithBatchSize(0)},
		{"zero concurrency", WithConcurrency(0)},
		{"negative delay", WithInterBatchDelay(-1)},
		{"overlap not below size", WithChunking(2, 2)},
		{"zero chunk size", WithChunking(0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(adapter, mock.NewMockTagger(), tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestPipeline_Run(t *testing.T) {
	pipeline, adapter, tagger := setupPipeline(t, WithBatchSize(2))

	path := writeRecords(t,
		review("Slint", "u1", "Quiet verses. Loud choruses. Spoken word. Guitars ring. Drums crash."),
		review("Low", "u2", "Slow. Sad."),
		review("Can", "u3", "Motorik groove."),
	)

	report, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)

	assert.False(t, report.NoOp)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Loaded)
	assert.Equal(t, 3, report.Processed)
	// 5 sentences with size 4 and overlap 1 give 2 windows, the others 1 each.
	assert.Equal(t, 4, report.ChunksTagged)
	assert.Equal(t, 4, report.VectorsWritten)
	assert.Equal(t, 4, report.FinalCount)
	assert.Equal(t, 4, tagger.CallCount())

	assert.Equal(t, map[string]int{"u1": 2, "u2": 1, "u3": 1}, storedURLs(t, adapter))
}

func TestPipeline_Idempotent(t *testing.T) {
	pipeline, adapter, tagger := setupPipeline(t)

	path := writeRecords(t,
		review("Slint", "u1", "Quiet verses. Loud choruses."),
		review("Low", "u2", "Slow. Sad."),
	)

	first, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, first.FinalCount)
	calls := tagger.CallCount()

	second, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, second.NoOp)
	assert.Equal(t, 2, second.AlreadyProcessed)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 2, second.FinalCount)
	assert.Equal(t, calls, tagger.CallCount(), "no tagging on a re-run")

	count, err := adapter.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPipeline_Resume(t *testing.T) {
	pipeline, adapter, tagger := setupPipeline(t)

	first := writeRecords(t, review("Slint", "u1", "Quiet verses."))
	_, err := pipeline.Run(context.Background(), first)
	require.NoError(t, err)
	tagger.Reset()

	both := writeRecords(t,
		review("Slint", "u1", "Quiet verses."),
		review("Low", "u2", "Slow songs."),
	)
	report, err := pipeline.Run(context.Background(), both)
	require.NoError(t, err)

	assert.Equal(t, 1, report.AlreadyProcessed)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, []string{"Slow songs."}, tagger.Chunks())
	assert.Equal(t, map[string]int{"u1": 1, "u2": 1}, storedURLs(t, adapter))
}

func TestPipeline_DuplicatesKeepLast(t *testing.T) {
	pipeline, adapter, tagger := setupPipeline(t)

	path := writeRecords(t,
		review("Slint", "u1", "Early draft."),
		review("Slint", "u1", "Final text."),
	)
	report, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, []string{"Final text."}, tagger.Chunks())

	var texts []string
	require.NoError(t, adapter.Each(context.Background(), func(meta core.Metadata) error {
		texts = append(texts, meta[core.MetaTextChunk])
		return nil
	}))
	assert.Equal(t, []string{"Final text."}, texts)
}

func TestPipeline_SkipsInvalidAndMalformed(t *testing.T) {
	pipeline, adapter, _ := setupPipeline(t)

	path := writeRecords(t,
		review(core.InvalidArtist, "u0", "Unknown artist."),
		`{"artist": broken`,
		review("Low", "u2", "Slow."),
		review("Can", "", "No URL."),
	)
	report, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Loaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Invalid)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, map[string]int{"u2": 1}, storedURLs(t, adapter))
}

func TestPipeline_DropsUntaggedChunks(t *testing.T) {
	pipeline, adapter, tagger := setupPipeline(t, WithChunking(1, 0))
	tagger.GenerateTagsFunc = func(ctx context.Context, chunk string) []string {
		if strings.Contains(chunk, "mumble") {
			return []string{}
		}
		return []string{"clear"}
	}

	path := writeRecords(t, review("Slint", "u1", "Clear sentence. mumble. Another clear one."))
	report, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ChunksTagged)
	assert.Equal(t, 1, report.ChunksDropped)
	assert.Equal(t, 2, report.VectorsWritten)
	assert.Equal(t, map[string]int{"u1": 2}, storedURLs(t, adapter))
}

func TestPipeline_NoCrossAttribution(t *testing.T) {
	pipeline, adapter, tagger := setupPipeline(t, WithBatchSize(10), WithConcurrency(8), WithChunking(1, 0))
	// Tag each chunk with its own text so any mix-up is visible.
	tagger.GenerateTagsFunc = func(ctx context.Context, chunk string) []string {
		return []string{strings.TrimSuffix(chunk, ".")}
	}

	var records []any
	for i := 0; i < 10; i++ {
		url := "u" + string(rune('a'+i))
		records = append(records, review("Artist "+url, url, "one "+url+". two "+url+". three "+url+"."))
	}
	path := writeRecords(t, records...)

	report, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 30, report.VectorsWritten)

	require.NoError(t, adapter.Each(context.Background(), func(meta core.Metadata) error {
		text := meta[core.MetaTextChunk]
		assert.Equal(t, []string{strings.TrimSuffix(text, ".")}, meta.Tags())
		assert.True(t, strings.HasSuffix(strings.TrimSuffix(text, "."), meta.ReviewURL()))
		assert.Equal(t, "Artist "+meta.ReviewURL(), meta[core.MetaArtist])
		return nil
	}))
}

func TestPipeline_MissingMetadataStored(t *testing.T) {
	pipeline, adapter, _ := setupPipeline(t)

	path := writeRecords(t, &core.RawRecord{Artist: "Can", ReviewURL: "u1", ReviewText: "Krautrock."})
	_, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, adapter.Each(context.Background(), func(meta core.Metadata) error {
		assert.Equal(t, core.MissingValue, meta[core.MetaScore])
		assert.Equal(t, core.MissingValue, meta[core.MetaAlbumTitle])
		assert.Equal(t, core.MissingValue, meta[core.MetaReleaseYear])
		return nil
	}))
}

func TestPipeline_MissingFile(t *testing.T) {
	pipeline, _, _ := setupPipeline(t)

	report, err := pipeline.Run(context.Background(), filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrInputNotFound)
	assert.True(t, core.IsFatal(err))
}

func TestPipeline_EmptyInput(t *testing.T) {
	pipeline, _, tagger := setupPipeline(t)

	report, err := pipeline.Run(context.Background(), writeRecords(t))
	require.NoError(t, err)
	assert.True(t, report.NoOp)
	assert.Equal(t, 0, report.FinalCount)
	assert.Zero(t, tagger.CallCount())
}

func TestPipeline_Cancelled(t *testing.T) {
	pipeline, _, tagger := setupPipeline(t, WithBatchSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	tagger.GenerateTagsFunc = func(context.Context, string) []string {
		once.Do(cancel)
		return []string{"tag"}
	}

	path := writeRecords(t,
		review("A", "u1", "One."),
		review("B", "u2", "Two."),
		review("C", "u3", "Three."),
	)
	report, err := pipeline.Run(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Processed)
}

// failingStore fails every upsert with a batch-skip error.
type failingStore struct {
	*vectorstore.Adapter
}

func (f failingStore) Upsert(ctx context.Context, chunks []*core.EnrichedChunk) (int, error) {
	return 0, errors.Join(
		core.Errorf(core.KindBatchSkip, "upsert", errors.New("write refused")),
	)
}

func TestPipeline_FailedSubBatchesContinue(t *testing.T) {
	_, adapter, tagger := setupPipeline(t)
	pipeline, err := NewPipeline(failingStore{adapter}, tagger, WithInterBatchDelay(0), WithBatchSize(1))
	require.NoError(t, err)
	defer pipeline.Release()

	path := writeRecords(t, review("A", "u1", "One."), review("B", "u2", "Two."))
	report, err := pipeline.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.FailedSubBatches)
	assert.Equal(t, 0, report.VectorsWritten)
	assert.Equal(t, 0, report.FinalCount)
}

func TestPipeline_BoundsConcurrency(t *testing.T) {
	const limit = 3
	pipeline, adapter, tagger := setupPipeline(t, WithConcurrency(limit), WithBatchSize(12))

	var inFlight, peak atomic.Int32
	tagger.GenerateTagsFunc = func(ctx context.Context, chunk string) []string {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return []string{"tag"}
	}

	records := make([]any, 12)
	for i := range records {
		records[i] = review("Artist", fmt.Sprintf("u%d", i), fmt.Sprintf("Review %d.", i))
	}
	report, err := pipeline.Run(context.Background(), writeRecords(t, records...))
	require.NoError(t, err)

	assert.Equal(t, 12, report.ChunksTagged)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Greater(t, peak.Load(), int32(1))
	assert.Len(t, storedURLs(t, adapter), 12)
}

// orderedStore records upserts in a log shared with the tagger.
type orderedStore struct {
	*vectorstore.Adapter
	mu  *sync.Mutex
	log *[]string
}

func (o orderedStore) Upsert(ctx context.Context, chunks []*core.EnrichedChunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	sort.Strings(texts)
	o.mu.Lock()
	*o.log = append(*o.log, "upsert:"+strings.Join(texts, "|"))
	o.mu.Unlock()
	return o.Adapter.Upsert(ctx, chunks)
}

func TestPipeline_BatchesRunInSequence(t *testing.T) {
	_, adapter, tagger := setupPipeline(t)

	var (
		mu  sync.Mutex
		log []string
	)
	tagger.GenerateTagsFunc = func(ctx context.Context, chunk string) []string {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		log = append(log, "tag:"+chunk)
		mu.Unlock()
		return []string{"tag"}
	}

	pipeline, err := NewPipeline(orderedStore{adapter, &mu, &log}, tagger,
		WithInterBatchDelay(0), WithBatchSize(2), WithConcurrency(4))
	require.NoError(t, err)
	defer pipeline.Release()

	records := make([]any, 6)
	for i := range records {
		records[i] = review("Artist", fmt.Sprintf("u%d", i), fmt.Sprintf("Review %d.", i))
	}
	_, err = pipeline.Run(context.Background(), writeRecords(t, records...))
	require.NoError(t, err)

	// Every upsert must hold exactly the chunks tagged since the previous
	// one, so no tagging of a batch overlaps the write of the one before.
	var tagged []string
	upserts := 0
	for _, entry := range log {
		if text, ok := strings.CutPrefix(entry, "tag:"); ok {
			tagged = append(tagged, text)
			continue
		}
		upserts++
		sort.Strings(tagged)
		assert.Equal(t, "upsert:"+strings.Join(tagged, "|"), entry)
		assert.Len(t, tagged, 2)
		tagged = nil
	}
	assert.Equal(t, 3, upserts)
	assert.Empty(t, tagged)
}

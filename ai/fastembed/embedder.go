//go:build cgo

package fastembed

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/poiesic/baler/ai"
)

const (
	maxLength = 512
	batchSize = 256
)

var models = map[string]fastembed.EmbeddingModel{
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
}

// Embedder implements ai.Embedder with a local ONNX model.
// Queries and documents are embedded the same way, without the
// "query:"/"passage:" prefixes, so stored and query vectors line up.
type Embedder struct {
	mu         sync.RWMutex
	model      *fastembed.FlagEmbedding
	name       string
	dimensions int
	logger     *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// New loads the configured model, downloading it into the cache directory
// on first use.
func New(config *ai.Config) (*Embedder, error) {
	model, ok := models[config.EmbeddingModel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, config.EmbeddingModel)
	}

	cacheDir := config.EmbeddingCacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	showProgress := false

	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	dims, _ := Dimensions(config.EmbeddingModel)
	return &Embedder{
		model:      flag,
		name:       config.EmbeddingModel,
		dimensions: dims,
		logger:     slog.Default().With("component", "fastembed", "model", config.EmbeddingModel),
	}, nil
}

// EmbedText embeds a single query string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	e.logger.Debug("embedding texts", "count", len(texts))
	vectors, err := e.model.Embed(texts, batchSize)
	if err != nil {
		return nil, fmt.Errorf("fastembed: %w", err)
	}
	return vectors, nil
}

// Dimensions returns the model's vector width.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Destroy()
	e.model = nil
	return err
}

//go:build !cgo

package fastembed

import (
	"context"
	"errors"

	"github.com/poiesic/baler/ai"
)

// ErrNotAvailable is returned when the binary was built without cgo.
var ErrNotAvailable = errors.New("fastembed: not available (built without cgo, use the openai embedder instead)")

// Embedder is a stub for builds without cgo.
type Embedder struct{}

var _ ai.Embedder = (*Embedder)(nil)

// New always fails without cgo.
func New(*ai.Config) (*Embedder, error) {
	return nil, ErrNotAvailable
}

func (e *Embedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, ErrNotAvailable
}

func (e *Embedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, ErrNotAvailable
}

func (e *Embedder) Dimensions() int { return 0 }

func (e *Embedder) Close() error { return nil }

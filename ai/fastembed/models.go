package fastembed

import "errors"

var (
	// ErrUnsupportedModel is returned for model names with no local ONNX build.
	ErrUnsupportedModel = errors.New("fastembed: unsupported model")

	// ErrEmptyInput is returned when there is nothing to embed.
	ErrEmptyInput = errors.New("fastembed: empty input")
)

// DefaultModel matches the sentence-transformer the review index is built with.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// dimensions lists the output width of each supported model.
var dimensions = map[string]int{
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
}

// Dimensions reports the vector width produced by model.
func Dimensions(model string) (int, bool) {
	d, ok := dimensions[model]
	return d, ok
}

// Package embed turns text into fixed-dimension vectors.
//
// Encoders are local and deterministic: the same text and model id always
// produce the same vector. A Provider owns the shared encoder instance for a
// process.
package embed

import (
	"context"
	"fmt"
	"math"
	"sort"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Batch sizing.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// DefaultModel is the encoder used when none is configured.
const DefaultModel = "hash-256"

// models maps supported model ids to their dimensions.
var models = map[string]int{
	"hash-256": 256,
	"hash-384": 384,
	"hash-768": 768,
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// Models returns the supported model ids in sorted order.
func Models() []string {
	out := make([]string, 0, len(models))
	for m := range models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Dimensions returns the dimension of model, or ErrEncoderUnavailable.
func Dimensions(model string) (int, error) {
	dim, ok := models[model]
	if !ok {
		return 0, unavailable(model)
	}
	return dim, nil
}

// New creates the encoder for model.
func New(model string) (Embedder, error) {
	dim, err := Dimensions(model)
	if err != nil {
		return nil, err
	}
	return NewHashEmbedder(model, dim), nil
}

// ClampBatchSize bounds n to [MinBatchSize, MaxBatchSize], using
// DefaultBatchSize for non-positive values.
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}

func unavailable(model string) error {
	return ierrors.New(ierrors.ErrCodeEncoderUnavailable,
		fmt.Sprintf("unknown embedding model %q", model), nil).
		WithDetail("model", model).
		WithSuggestion(fmt.Sprintf("Use one of: %v", Models()))
}

// normalizeVector scales v to unit length in place. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / magnitude)
	}
	return v
}

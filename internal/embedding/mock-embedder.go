package embedding

import (
	"context"
	"hash/fnv"

	"github.com/hyperjump/atsume/pkg/utils"
)

// MockEmbedder is a deterministic bag-of-words embedder: every word is hashed to a
// signed bucket, so prompts sharing words get nearby vectors. It needs no model and
// is what tests and offline runs use.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a MockEmbedder producing vectors of the given size.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns the unit-length word-bucket vector for text. Text without words
// embeds to the zero vector.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, e.dimensions)
	for _, w := range utils.Words(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		v[sum%uint64(e.dimensions)] += sign
	}
	utils.NormalizeL2(v)
	return v, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}

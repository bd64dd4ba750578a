// Package vector provides an in-memory inner-product index over prompt embeddings.
package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is a single neighbor hit. Position is the insertion index of the vector.
type Result struct {
	ID       string
	Position int
	Score    float64 // inner product; cosine similarity for unit vectors
}

// MemoryIndex is a brute-force inner product index. Batches handled by the
// categorizer are small enough that exact search is the right tool.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Add appends vectors with the given IDs. Vectors are copied.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k vectors by inner product, best first.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topK(query, k, -1), nil
}

// Neighbors returns, for every stored vector, its k nearest other vectors.
// The result is indexed by insertion position; self matches are excluded.
func (m *MemoryIndex) Neighbors(ctx context.Context, k int) ([][]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]Result, len(m.vectors))
	for i, vec := range m.vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.topK(vec, k, i)
	}
	return out, nil
}

func (m *MemoryIndex) topK(query []float32, k int, skip int) []Result {
	if k <= 0 || len(m.ids) == 0 {
		return nil
	}
	scores := make([]Result, 0, len(m.ids))
	for i, vec := range m.vectors {
		if i == skip {
			continue
		}
		scores = append(scores, Result{ID: m.ids[i], Position: i, Score: InnerProduct(query, vec)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k]
}

// Vector returns a copy of the vector stored at position i.
func (m *MemoryIndex) Vector(i int) []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.vectors) {
		return nil
	}
	return append([]float32(nil), m.vectors[i]...)
}

// Dimensions returns the configured vector length.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

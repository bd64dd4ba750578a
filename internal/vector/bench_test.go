package vector

import (
	"context"
	"strconv"
	"testing"
)

func BenchmarkMemoryIndexNeighbors(b *testing.B) {
	idx, _ := NewMemoryIndex(64)
	ctx := context.Background()
	vecs := make([][]float32, 500)
	ids := make([]string, 500)
	for i := range vecs {
		vecs[i] = make([]float32, 64)
		vecs[i][i%64] = 1
		vecs[i][(i+1)%64] = float32(i) / 500
		ids[i] = strconv.Itoa(i)
	}
	_ = idx.Add(ctx, ids, vecs)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Neighbors(ctx, 15)
	}
}

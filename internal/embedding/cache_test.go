package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Get("a")               // a is now most recent
	c.Set("c", []float32{6}) // evicts b
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d", c.Len())
	}
}

// countingEmbedder records how many texts reach the wrapped embedder.
type countingEmbedder struct {
	*MockEmbedder
	seen int
	fail bool
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.fail {
		return nil, errors.New("upstream down")
	}
	c.seen += len(texts)
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.seen++
	return c.MockEmbedder.Embed(ctx, text)
}

func TestCached_BatchOnlySendsMisses(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	c := NewCached(inner, 10)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "red fox"); err != nil {
		t.Fatal(err)
	}
	vecs, err := c.EmbedBatch(ctx, []string{"red fox", "blue sky", "red fox"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if inner.seen != 3 {
		t.Errorf("expected 3 upstream texts (1 + 2 misses), got %d", inner.seen)
	}
	if vecs[0][0] != vecs[2][0] {
		t.Error("identical texts should embed identically")
	}
	if c.Dimensions() != 8 {
		t.Errorf("Dimensions=%d", c.Dimensions())
	}

	inner.fail = true
	if _, err := c.EmbedBatch(ctx, []string{"new text"}); err == nil {
		t.Error("expected upstream error")
	}
	if _, err := c.EmbedBatch(ctx, []string{"blue sky"}); err != nil {
		t.Errorf("fully cached batch should not reach upstream: %v", err)
	}
}

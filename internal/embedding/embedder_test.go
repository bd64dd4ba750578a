package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/vector"
)

func TestMockEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	vecs, err := e.EmbedBatch(ctx, []string{
		"castle on a hill at sunset",
		"castle on a hill at dawn",
		"portrait of an old fisherman",
	})
	if err != nil {
		t.Fatal(err)
	}
	near := vector.InnerProduct(vecs[0], vecs[1])
	far := vector.InnerProduct(vecs[0], vecs[2])
	if near <= far {
		t.Errorf("expected shared words to score higher: near=%f far=%f", near, far)
	}
	if len(vecs[0]) != e.Dimensions() {
		t.Errorf("len=%d", len(vecs[0]))
	}
}

func TestMockEmbedder_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEmbedder(4).EmbedBatch(ctx, []string{"x"}); err == nil {
		t.Error("expected context error")
	}
}

func TestNew_Providers(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 16, CacheSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.(*Cached); !ok {
		t.Errorf("expected cached embedder, got %T", e)
	}
	if e.Dimensions() != 16 {
		t.Errorf("Dimensions=%d", e.Dimensions())
	}

	if _, err := New(config.EmbeddingConfig{Provider: "word2vec"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("unknown provider: got %v", err)
	}

	t.Setenv("ATSUME_TEST_MISSING_KEY", "")
	_, err = New(config.EmbeddingConfig{
		Provider:  config.ProviderOpenAI,
		Endpoint:  "https://api.openai.com/v1",
		Model:     "text-embedding-3-small",
		APIKeyEnv: "ATSUME_TEST_MISSING_KEY",
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("missing key: got %v", err)
	}
}

func TestOpenAIEmbedder_Batch(t *testing.T) {
	var gotModel string
	var gotInputs int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel, gotInputs = req.Model, len(req.Input)
		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			// Reverse order to check that results are placed by index.
			j := len(req.Input) - 1 - i
			data[i] = map[string]interface{}{"object": "embedding", "index": j, "embedding": []float32{float32(j), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	t.Setenv("ATSUME_TEST_KEY", "sk-test")
	e, err := NewOpenAIEmbedder(config.EmbeddingConfig{
		Endpoint:   srv.URL + "/v1",
		Model:      "text-embedding-3-small",
		APIKeyEnv:  "ATSUME_TEST_KEY",
		Dimensions: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if gotModel != "text-embedding-3-small" || gotInputs != 3 {
		t.Errorf("request: model=%q inputs=%d", gotModel, gotInputs)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of place: %v", i, v)
		}
	}
}

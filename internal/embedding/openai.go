package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hyperjump/atsume/internal/config"
)

// maxOpenAIBatch is the most inputs sent in one embeddings request.
const maxOpenAIBatch = 256

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder builds a client from cfg. A custom cfg.Endpoint points it at any
// compatible server; the key comes from the cfg.APIKeyEnv variable.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	key := cfg.APIKey()
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if key == "" && (endpoint == "" || strings.Contains(endpoint, "api.openai.com")) {
		return nil, fmt.Errorf("no API key in $%s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		return nil, errors.New("no embedding model configured")
	}
	oc := openai.DefaultConfig(key)
	if endpoint != "" {
		oc.BaseURL = endpoint
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed returns the embedding for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request-sized chunks, keeping input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxOpenAIBatch {
		end := start + maxOpenAIBatch
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]
		rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      chunk,
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(rsp.Data) != len(chunk) {
			return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(rsp.Data), len(chunk))
		}
		vecs := make([][]float32, len(chunk))
		for _, d := range rsp.Data {
			if d.Index < 0 || d.Index >= len(chunk) || len(d.Embedding) == 0 {
				return nil, fmt.Errorf("create embeddings: bad vector at index %d", d.Index)
			}
			vecs[d.Index] = d.Embedding
		}
		for i, v := range vecs {
			if v == nil {
				return nil, fmt.Errorf("create embeddings: missing vector for input %d", start+i)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions returns the requested embedding size.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// Package embedding turns prompt text into vectors for clustering.
//
// Providers are selected by config: "openai" calls an OpenAI-compatible embeddings
// endpoint, "onnx" runs a local sentence-transformer model (CGO builds only), and
// "mock" hashes words into buckets so tests and offline runs need no model.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/config"
)

// ErrUnavailable is returned when the configured provider cannot be constructed.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used by the embedder.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New builds the embedder named by cfg.Provider, wrapped in an LRU cache when
// cfg.CacheSize is positive.
func New(cfg config.EmbeddingConfig, opts ...Option) (Embedder, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		e, err = NewOpenAIEmbedder(cfg)
	case config.ProviderONNX:
		e, err = NewONNXEmbedder(cfg)
	case config.ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrUnavailable, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	o.logger.Debug("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", e.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize))
	if cfg.CacheSize > 0 {
		return NewCached(e, cfg.CacheSize), nil
	}
	return e, nil
}

// embedEach embeds texts one at a time with embed.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

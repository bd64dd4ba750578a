//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"

	"github.com/hyperjump/atsume/internal/config"
)

// ONNXEmbedder is unavailable without CGO; see onnx.go.
type ONNXEmbedder struct{ Embedder }

// NewONNXEmbedder always fails when built without CGO.
func NewONNXEmbedder(config.EmbeddingConfig) (*ONNXEmbedder, error) {
	return nil, errors.New("onnx embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime installed")
}

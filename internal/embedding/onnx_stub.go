//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"
)

// ONNXEmbedder stub type when built without CGO (see onnx.go for the real implementation).
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(_ string, _, _, _ int) (*ONNXEmbedder, error) {
	return nil, fmt.Errorf("%w: ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime", ErrProviderUnavailable)
}

// Embed is unreachable in non-CGO builds; NewONNXEmbedder never returns an instance.
func (e *ONNXEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrProviderUnavailable
}

// EmbedBatch is unreachable in non-CGO builds; NewONNXEmbedder never returns an instance.
func (e *ONNXEmbedder) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrProviderUnavailable
}

// Dimensions is unreachable in non-CGO builds; NewONNXEmbedder never returns an instance.
func (e *ONNXEmbedder) Dimensions() int { return 0 }

// Close is unreachable in non-CGO builds; NewONNXEmbedder never returns an instance.
func (e *ONNXEmbedder) Close() error { return nil }

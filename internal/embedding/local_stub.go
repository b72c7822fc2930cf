//go:build !llamacpp

package embedding

import (
	"context"
	"fmt"
)

// LocalConfig configures the local embedder.
type LocalConfig struct {
	LibPath   string
	ModelPath string
	GPULayers int
}

// LocalEmbedder is unavailable without the llamacpp build tag.
type LocalEmbedder struct {
	modelPath string
}

// NewLocalEmbedder returns an embedder that is never available.
func NewLocalEmbedder(cfg LocalConfig) *LocalEmbedder {
	return &LocalEmbedder{modelPath: cfg.ModelPath}
}

// Available returns false: the local model is not compiled in.
func (e *LocalEmbedder) Available() bool { return false }

// Name identifies the embedder.
func (e *LocalEmbedder) Name() string { return ProviderLocal }

// Embed always fails in stub builds.
func (e *LocalEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("local embedder not available: build with -tags llamacpp")
}

// Close is a no-op.
func (e *LocalEmbedder) Close() error { return nil }

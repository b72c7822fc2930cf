// Package embedding produces dense vectors for knowledge-graph text.
//
// The default provider is a dependency-free feature-hashing embedder. A local
// GGUF embedding model can be used instead when the binary is built with
// -tags llamacpp.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderHash  = "hash"
	ProviderLocal = "local"
)

// Func returns a dense vector embedding for text.
type Func func(ctx context.Context, text string) ([]float32, error)

// Embedder produces embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Available() bool
	Name() string
	Close() error
}

// Config selects and configures an embedder.
type Config struct {
	Provider   string // "hash" (default) or "local"
	Dimensions int    // hash embedder only; default 256

	// Local model settings.
	LibPath   string // directory containing the llama.cpp shared libraries; falls back to YZMA_LIB
	ModelPath string // GGUF embedding model
	GPULayers int
}

// New returns the configured embedder. A local provider that is not
// available falls back to the hashing embedder.
func New(cfg Config, logger *slog.Logger) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case ProviderLocal:
		local := NewLocalEmbedder(LocalConfig{
			LibPath:   cfg.LibPath,
			ModelPath: cfg.ModelPath,
			GPULayers: cfg.GPULayers,
		})
		if local.Available() {
			return local, nil
		}
		if logger != nil {
			logger.Warn("local embedder unavailable, using hashing embedder",
				"model", cfg.ModelPath, "lib", cfg.LibPath)
		}
		return NewHashEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NodeText flattens a node's identity and metadata into text for embedding.
// Metadata keys are sorted so equal nodes embed identically.
func NodeText(id, nodeType string, metadata map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(nodeType)
	b.WriteByte(' ')
	b.WriteString(id)

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s %v", k, metadata[k])
	}
	return b.String()
}

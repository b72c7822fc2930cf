package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/nvandessel/nudgeloop/internal/vecmath"
)

const defaultDimensions = 256

// HashEmbedder maps unigram and bigram tokens into a fixed number of
// signed buckets (feature hashing) and L2-normalizes the result.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder with dims dimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed returns the hashed embedding of text. It never fails.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dims)
	tokens := Tokenize(strings.ToLower(text))
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	vecmath.Normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Available always reports true.
func (h *HashEmbedder) Available() bool { return true }

// Name identifies the embedder.
func (h *HashEmbedder) Name() string { return ProviderHash }

// Close is a no-op.
func (h *HashEmbedder) Close() error { return nil }

// Tokenize splits s into word tokens. Word characters are letters, digits
// and underscores.
func Tokenize(s string) []string {
	words := make([]string, 0)
	var current strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

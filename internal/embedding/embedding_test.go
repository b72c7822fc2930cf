package embedding

import (
	"context"
	"testing"

	"github.com/nvandessel/nudgeloop/internal/vecmath"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := h.Embed(ctx, "doomscrolling on reddit.com")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, _ := h.Embed(ctx, "Doomscrolling on Reddit.com")
	if len(a) != 64 {
		t.Fatalf("len = %d, want 64", len(a))
	}
	if got := vecmath.CosineSimilarity(a, b); got < 0.9999 {
		t.Errorf("case-insensitive texts have cosine %v, want 1", got)
	}
}

func TestHashEmbedder_RelatedTextIsCloser(t *testing.T) {
	h := NewHashEmbedder(0)
	ctx := context.Background()

	query, _ := h.Embed(ctx, "scroll reddit.com high")
	near, _ := h.Embed(ctx, "behavior scroll reddit.com severity high")
	far, _ := h.Embed(ctx, "pattern shoppingImpulse amazon.com visits")

	if vecmath.CosineSimilarity(query, near) <= vecmath.CosineSimilarity(query, far) {
		t.Error("related text should score higher than unrelated text")
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	vec, err := NewHashEmbedder(8).Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed(\"\") error = %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("empty text embedding = %v, want zero vector", vec)
		}
	}
}

func TestHashEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).Embed(ctx, "x"); err == nil {
		t.Error("Embed() with canceled context succeeded")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("behavior:scroll:tab_7 reddit.com")
	want := []string{"behavior", "scroll", "tab_7", "reddit", "com"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}{
		{"default", Config{}, ProviderHash, false},
		{"hash", Config{Provider: "hash", Dimensions: 32}, ProviderHash, false},
		{"local without model falls back", Config{Provider: "local"}, ProviderHash, false},
		{"unknown", Config{Provider: "openai"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && e.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", e.Name(), tt.wantName)
			}
		})
	}
}

func TestNodeText_SortedMetadata(t *testing.T) {
	a := NodeText("behavior:1", "behavior", map[string]interface{}{"kind": "scroll", "domain": "x.com"})
	b := NodeText("behavior:1", "behavior", map[string]interface{}{"domain": "x.com", "kind": "scroll"})
	if a != b {
		t.Errorf("NodeText not stable: %q vs %q", a, b)
	}
	if want := "behavior behavior:1 domain x.com kind scroll"; a != want {
		t.Errorf("NodeText() = %q, want %q", a, want)
	}
}

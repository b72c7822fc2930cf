// Package retrieval selects bounded, relevant slices of the knowledge graph
// to hand to an external nudge-phrasing step.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nvandessel/nudgeloop/internal/embedding"
	"github.com/nvandessel/nudgeloop/internal/store"
	"github.com/nvandessel/nudgeloop/internal/vecmath"
)

// Config bounds the retrieval results.
type Config struct {
	// MaxBehaviors caps behaviors in a nudge context (newest kept). Default: 20.
	MaxBehaviors int
	// MaxPatterns caps patterns in a nudge context. Default: 5.
	MaxPatterns int
	// EmbedTimeout bounds RetrieveSimilar. Default: 2s.
	EmbedTimeout time.Duration
	// CacheSize bounds the per-node embedding cache. Default: 4096.
	CacheSize int
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		MaxBehaviors: 20,
		MaxPatterns:  5,
		EmbedTimeout: 2 * time.Second,
		CacheSize:    4096,
	}
}

// NudgeContext is the fixed-shape snapshot handed to the phrasing step.
type NudgeContext struct {
	Behaviors []store.Node `json:"behaviors"`
	Patterns  []store.Node `json:"patterns"`
	Timestamp time.Time    `json:"timestamp"`
}

// Scored pairs a node with its similarity to a query.
type Scored struct {
	Node  store.Node `json:"node"`
	Score float64    `json:"score"`
}

// Builder reads the graph on demand. It never mutates it.
type Builder struct {
	graph    *store.Graph
	cfg      Config
	embedder embedding.Embedder
	cache    *lru.Cache[string, []float32]
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewBuilder creates a Builder over g. embedder may be nil, in which case
// RetrieveSimilar falls back to recency order.
func NewBuilder(g *store.Graph, cfg Config, embedder embedding.Embedder, logger *slog.Logger) (*Builder, error) {
	def := DefaultConfig()
	if cfg.MaxBehaviors <= 0 {
		cfg.MaxBehaviors = def.MaxBehaviors
	}
	if cfg.MaxPatterns <= 0 {
		cfg.MaxPatterns = def.MaxPatterns
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	return &Builder{
		graph:    g,
		cfg:      cfg,
		embedder: embedder,
		cache:    cache,
		logger:   logger,
		nowFunc:  time.Now,
	}, nil
}

// SetClock replaces the clock used to stamp nudge contexts.
func (b *Builder) SetClock(now func() time.Time) {
	b.nowFunc = now
}

// RetrieveBehaviorContext returns every behavior node whose id or any
// metadata value contains filter (case-insensitive). An empty filter
// matches all behaviors. Order is insertion order.
func (b *Builder) RetrieveBehaviorContext(filter string) []store.Node {
	return filterBehaviors(b.graph.GetNodesByType(store.NodeBehavior), filter)
}

// RetrieveRecentPatterns returns up to limit of the most recently inserted
// pattern nodes, most recent last.
func (b *Builder) RetrieveRecentPatterns(limit int) []store.Node {
	return lastN(b.graph.GetNodesByType(store.NodePattern), limit)
}

// GenerateContextForNudge combines behavior and pattern retrieval over one
// consistent copy of the graph. Behaviors are capped to the newest
// MaxBehaviors.
func (b *Builder) GenerateContextForNudge(filter string) NudgeContext {
	snap := b.graph.Export()

	var behaviors, patterns []store.Node
	for _, n := range snap.Nodes {
		switch n.Type {
		case store.NodeBehavior:
			behaviors = append(behaviors, n)
		case store.NodePattern:
			patterns = append(patterns, n)
		}
	}

	return NudgeContext{
		Behaviors: lastN(filterBehaviors(behaviors, filter), b.cfg.MaxBehaviors),
		Patterns:  lastN(patterns, b.cfg.MaxPatterns),
		Timestamp: b.nowFunc(),
	}
}

// FullGraph returns every node and edge for diagnostics and visualization.
func (b *Builder) FullGraph() store.Snapshot {
	return b.graph.Export()
}

// RetrieveSimilar ranks behavior and pattern nodes by cosine similarity to
// query and returns the top k. If embedding fails or exceeds the configured
// timeout, the k newest nodes are returned with zero scores instead.
func (b *Builder) RetrieveSimilar(ctx context.Context, query string, k int) []Scored {
	if k <= 0 {
		return nil
	}
	candidates := b.graph.QueryNodes(func(n store.Node) bool {
		return n.Type == store.NodeBehavior || n.Type == store.NodePattern
	})
	if len(candidates) == 0 {
		return []Scored{}
	}

	if b.embedder == nil || !b.embedder.Available() {
		return recencyFallback(candidates, k)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.EmbedTimeout)
	defer cancel()

	type result struct {
		scored []Scored
		err    error
	}
	done := make(chan result, 1)
	go func() {
		scored, err := b.rank(ctx, query, candidates)
		done <- result{scored, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			b.logger.Debug("similarity ranking failed, using recency", "error", r.err)
			return recencyFallback(candidates, k)
		}
		if k > len(r.scored) {
			k = len(r.scored)
		}
		return r.scored[:k]
	case <-ctx.Done():
		b.logger.Debug("similarity ranking timed out, using recency", "timeout", b.cfg.EmbedTimeout)
		return recencyFallback(candidates, k)
	}
}

func (b *Builder) rank(ctx context.Context, query string, candidates []store.Node) ([]Scored, error) {
	qvec, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored := make([]Scored, 0, len(candidates))
	for _, n := range candidates {
		vec, err := b.nodeVector(ctx, n)
		if err != nil {
			return nil, err
		}
		scored = append(scored, Scored{Node: n, Score: vecmath.CosineSimilarity(qvec, vec)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// nodeVector returns the cached embedding of n, computing it on a miss.
// The cache key includes UpdatedAt so touched nodes are re-embedded.
func (b *Builder) nodeVector(ctx context.Context, n store.Node) ([]float32, error) {
	key := n.ID + "@" + n.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if vec, ok := b.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := b.embedder.Embed(ctx, embedding.NodeText(n.ID, string(n.Type), n.Metadata))
	if err != nil {
		return nil, fmt.Errorf("embedding node %s: %w", n.ID, err)
	}
	b.cache.Add(key, vec)
	return vec, nil
}

// CacheLen returns the number of cached node embeddings.
func (b *Builder) CacheLen() int {
	return b.cache.Len()
}

func filterBehaviors(nodes []store.Node, filter string) []store.Node {
	if filter == "" {
		return nodes
	}
	f := strings.ToLower(filter)
	out := make([]store.Node, 0, len(nodes))
	for _, n := range nodes {
		if matches(n, f) {
			out = append(out, n)
		}
	}
	return out
}

func matches(n store.Node, lowerFilter string) bool {
	if strings.Contains(strings.ToLower(n.ID), lowerFilter) {
		return true
	}
	for _, v := range n.Metadata {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lowerFilter) {
			return true
		}
	}
	return false
}

func lastN(nodes []store.Node, n int) []store.Node {
	if n <= 0 {
		return []store.Node{}
	}
	if len(nodes) > n {
		nodes = nodes[len(nodes)-n:]
	}
	out := make([]store.Node, len(nodes))
	copy(out, nodes)
	return out
}

// recencyFallback returns the k newest candidates, newest first.
func recencyFallback(candidates []store.Node, k int) []Scored {
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]Scored, 0, k)
	for i := len(candidates) - 1; i >= 0 && len(out) < k; i-- {
		out = append(out, Scored{Node: candidates[i]})
	}
	return out
}

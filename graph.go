package memstore

import (
	"context"
	"fmt"
	"math"
)

// Graph is the typed fact-link capability (C9): auto-linking on store,
// Hebbian co-recall strengthening, and bounded BFS expansion during
// recall. Grounded on sqvect's graph-hybrid-search shape (recallGraph) for
// the idea of folding a typed node/edge traversal into recall, reimplemented
// against the fact store's own link table (the teacher has no graph of its
// own).
type Graph struct {
	Facts   FactStore
	Vectors VectorStore
	Config  GraphConfig
}

// NewGraph builds a Graph over facts/vectors using cfg.
func NewGraph(facts FactStore, vectors VectorStore, cfg GraphConfig) *Graph {
	return &Graph{Facts: facts, Vectors: vectors, Config: cfg}
}

// AutoLinkOnStore retrieves the top-k facts most similar to newFact's
// embedding and inserts bidirectional RELATED_TO links with strength
// derived from cosine similarity (spec §4.7). A no-op when graph.autoLink
// is disabled, the vector store is unavailable, or newFact carries no
// embedding.
func (g *Graph) AutoLinkOnStore(ctx context.Context, newFact Fact) error {
	if !g.Config.Enabled || !g.Config.AutoLink || g.Vectors == nil || len(newFact.Embedding) == 0 {
		return nil
	}
	limit := g.Config.AutoLinkLimit
	if limit <= 0 {
		limit = 3
	}
	hits, err := g.Vectors.Search(ctx, newFact.Embedding, limit+1, g.Config.AutoLinkMinScore)
	if err != nil {
		return fmt.Errorf("memstore: graph: searching for auto-link candidates: %w", err)
	}

	linked := 0
	for _, h := range hits {
		if h.FactID == newFact.ID || linked >= limit {
			continue
		}
		if err := g.Facts.UpsertLink(ctx, Link{FromID: newFact.ID, ToID: h.FactID, Kind: LinkRelatedTo, Strength: h.Score}); err != nil {
			return fmt.Errorf("memstore: graph: auto-linking %s->%s: %w", newFact.ID, h.FactID, err)
		}
		if err := g.Facts.UpsertLink(ctx, Link{FromID: h.FactID, ToID: newFact.ID, Kind: LinkRelatedTo, Strength: h.Score}); err != nil {
			return fmt.Errorf("memstore: graph: auto-linking %s->%s: %w", h.FactID, newFact.ID, err)
		}
		linked++
	}
	return nil
}

// hebbianDelta is the strength increment applied to a RELATED_TO link each
// time its two endpoints are recalled together in the same turn.
const hebbianDelta = 0.05

// StrengthenCoRecalled strengthens (or creates) a RELATED_TO link between
// every unordered pair of ids, bounded to recallHebbianMax pairs worth of
// ids to avoid quadratic blowups on large injections (spec §4.5).
func (g *Graph) StrengthenCoRecalled(ctx context.Context, ids []string, recallHebbianMax int) error {
	if recallHebbianMax > 0 && len(ids) > recallHebbianMax {
		return nil
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			if a == b {
				continue
			}
			if err := g.Facts.StrengthenRelated(ctx, a, b, hebbianDelta); err != nil {
				return fmt.Errorf("memstore: graph: strengthening %s<->%s: %w", a, b, err)
			}
		}
	}
	return nil
}

// TraversalHit is one fact reached by BFS expansion, along with its decayed
// score and the depth at which it was first reached.
type TraversalHit struct {
	FactID string
	Score  float64
	Depth  int
}

// Expand performs bounded-depth BFS from seedID over traversable link
// kinds (RELATED_TO, PART_OF, CAUSED_BY, DEPENDS_ON — SUPERSEDES links are
// history, not topical, per spec §4.7), decaying score by the traversed
// edge's strength at each hop, and returning every fact whose score exceeds
// floor. Cycles are broken by a visited set.
func (g *Graph) Expand(ctx context.Context, seedID string, seedScore float64, maxDepth int, floor float64) ([]TraversalHit, error) {
	if maxDepth <= 0 {
		return nil, nil
	}

	type frontierNode struct {
		id    string
		score float64
		depth int
	}

	visited := map[string]bool{seedID: true}
	queue := []frontierNode{{id: seedID, score: seedScore, depth: 0}}
	var hits []TraversalHit

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.depth >= maxDepth {
			continue
		}

		links, err := g.Facts.Neighbors(ctx, node.id, false)
		if err != nil {
			return hits, fmt.Errorf("memstore: graph: expanding from %s: %w", node.id, err)
		}
		for _, l := range links {
			if !l.Kind.Traversable() {
				continue
			}
			other := l.ToID
			if other == node.id {
				other = l.FromID
			}
			if visited[other] {
				continue
			}
			visited[other] = true

			childScore := node.score * l.Strength
			childDepth := node.depth + 1
			if childScore >= floor {
				hits = append(hits, TraversalHit{FactID: other, Score: childScore, Depth: childDepth})
			}
			queue = append(queue, frontierNode{id: other, score: childScore, depth: childDepth})
		}
	}
	return hits, nil
}

// decayedStrength computes strength^depth, the closed-form score decay the
// spec describes for uniform-strength paths; Expand computes the same
// quantity incrementally (edge-by-edge) so non-uniform paths decay
// correctly too — this helper exists for callers that only have the mean
// strength and a depth (e.g. tests asserting the spec's literal formula).
func decayedStrength(strength float64, depth int) float64 {
	return math.Pow(strength, float64(depth))
}

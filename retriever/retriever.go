// Package retriever implements the hybrid retrieval and ranking pipeline
// (C8): gathering FTS and ANN candidates, fusing them with Reciprocal Rank
// Fusion, applying post-fusion salience adjustments, optionally expanding
// through the fact graph, and shaping the result into the fixed injection
// envelope described in spec §6.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/matthewjhunter/memstore"
)

// graphExpansionFloor is the minimum decayed score a graph-expanded fact
// must retain to be merged into the candidate set (spec §4.5: "merge any
// fact whose expanded score exceeds graphFloor"). Not separately exposed
// in config.go; the engine does not let callers tune graph-expansion
// aggressiveness independently of autoRecall.minScore.
const graphExpansionFloor = 0.15

// graphExpansionTopN bounds how many top-ranked injected facts seed graph
// expansion, keeping the BFS fan-out proportional to what was actually
// shown rather than the full candidate pool.
const graphExpansionTopN = 5

// recallHebbianMax bounds the injected-id set size eligible for Hebbian
// co-recall strengthening (spec §4.5: "avoid quadratic blowups on large
// injections").
const recallHebbianMax = 20

// hydeMaxQueryChars bounds the HyDE-generated hypothetical answer (spec
// §4.5 "with a length guard"): long enough for a factual sentence or two,
// short enough that a rambling completion can't dominate the embedding.
const hydeMaxQueryChars = 400

// Retriever owns everything needed to answer a turn-start retrieval call.
// Chat and Graph may be nil (HyDE/graph features degrade to off).
type Retriever struct {
	Facts    memstore.FactStore
	Vectors  memstore.VectorStore
	Embedder memstore.Embedder
	Chat     memstore.ChatModel
	Graph    *memstore.Graph
}

// New builds a Retriever. vectors/chat/graph may be nil to disable the
// corresponding feature.
func New(facts memstore.FactStore, vectors memstore.VectorStore, embedder memstore.Embedder, chat memstore.ChatModel, graph *memstore.Graph) *Retriever {
	return &Retriever{Facts: facts, Vectors: vectors, Embedder: embedder, Chat: chat, Graph: graph}
}

// Result is what Retrieve hands back to the lifecycle coordinator.
type Result struct {
	// Text is the shaped <relevant-memories format="..."> body (without
	// the wrapping tag, which the coordinator owns alongside hot-memories
	// and procedure blocks).
	Text        string
	InjectedIDs []string
}

// Options narrows Retrieve beyond what AutoRecallConfig already encodes:
// per-call scope and point-in-time recall.
type Options struct {
	ScopeFilter       memstore.Scope
	AsOf              *time.Time
	IncludeSuperseded bool
	ExcludeCold       bool
}

// Retrieve runs the full candidate-gather -> fuse -> adjust -> expand ->
// shape pipeline for prompt (spec §4.5), and applies the retrieval side
// effects (refresh-on-access, Hebbian strengthening) before returning.
func (r *Retriever) Retrieve(ctx context.Context, prompt string, cfg memstore.AutoRecallConfig, graphCfg memstore.GraphConfig, searchCfg memstore.SearchConfig, opts Options) (*Result, error) {
	if !cfg.Enabled {
		return &Result{}, nil
	}

	searchLimit := cfg.Limit
	if cfg.InjectionFormat == memstore.FormatProgressive || cfg.InjectionFormat == memstore.FormatProgressiveHybrid {
		if cfg.ProgressiveMaxCandidates > searchLimit {
			searchLimit = cfg.ProgressiveMaxCandidates
		}
	}
	if searchLimit <= 0 {
		searchLimit = 10
	}

	var lists [][]rankedID

	ftsHits, err := r.Facts.Search(ctx, prompt, searchLimit, memstore.FactSearchOpts{
		ScopeFilter:       opts.ScopeFilter,
		ReinforcementBoost: true,
		AsOf:              opts.AsOf,
		IncludeSuperseded: opts.IncludeSuperseded,
	})
	if err != nil {
		return nil, fmt.Errorf("memstore/retriever: fts search: %w", err)
	}
	ftsList := make([]rankedID, 0, len(ftsHits))
	for _, h := range ftsHits {
		fCopy := h.Fact
		ftsList = append(ftsList, rankedID{id: h.Fact.ID, fact: &fCopy})
	}
	lists = append(lists, ftsList)

	if r.Vectors != nil && r.Embedder != nil {
		annList, err := r.vectorCandidates(ctx, prompt, cfg, searchCfg, searchLimit, opts.ScopeFilter)
		if err != nil {
			// Vector backend failures degrade to "no ANN candidates", never fatal (spec §4.3).
			annList = nil
		}
		if len(annList) > 0 {
			lists = append(lists, annList)
		}
	}

	if cfg.EntityLookup.Enabled && len(cfg.EntityLookup.Entities) > 0 {
		matched := entityMatches(prompt, cfg.EntityLookup.Entities)
		if len(matched) > 0 {
			lists = append(lists, entityLookupCandidates(ctx, r.Facts, matched, cfg.EntityLookup.MaxFactsPerEntity, opts.ScopeFilter))
		}
	}

	fusedList := rrfFuse(lists...)
	ranked := r.resolveAndFilter(ctx, fusedList, opts)
	ranked = applyAdjustments(ranked, cfg)

	if r.Graph != nil && graphCfg.Enabled && graphCfg.UseInRecall && graphCfg.MaxTraversalDepth > 0 {
		ranked = r.expandGraph(ctx, ranked, graphCfg)
	}

	sortByScoreDesc(ranked)
	if cfg.Limit > 0 && len(ranked) > cfg.Limit*2 {
		ranked = ranked[:cfg.Limit*2]
	}

	result := shape(ctx, ranked, cfg, r.Chat)

	if len(result.injectedIDs) > 0 {
		if err := r.Facts.RefreshAccessedFacts(ctx, result.injectedIDs); err != nil {
			return nil, fmt.Errorf("memstore/retriever: refreshing accessed facts: %w", err)
		}
		if r.Graph != nil {
			if err := r.Graph.StrengthenCoRecalled(ctx, result.injectedIDs, recallHebbianMax); err != nil {
				return nil, fmt.Errorf("memstore/retriever: strengthening co-recalled links: %w", err)
			}
		}
	}

	return &Result{Text: result.text, InjectedIDs: result.injectedIDs}, nil
}

// vectorCandidates embeds the query (HyDE-rewritten via a default-tier
// chat completion when search.hydeEnabled is set and a chat model is
// configured, spec §4.5) and searches the vector store, resolving each hit
// against the fact store to attach full row data (vector rows carry no
// scope metadata, so resolution also lets the scope filter apply).
func (r *Retriever) vectorCandidates(ctx context.Context, prompt string, cfg memstore.AutoRecallConfig, searchCfg memstore.SearchConfig, searchLimit int, scopeFilter memstore.Scope) ([]rankedID, error) {
	queryText := r.hydeQuery(ctx, prompt, searchCfg)

	vec, err := memstore.Single(ctx, r.Embedder, queryText)
	if err != nil {
		return nil, err
	}

	hits, err := r.Vectors.Search(ctx, vec, searchLimit*2, cfg.MinScore)
	if err != nil {
		return nil, err
	}

	out := make([]rankedID, 0, len(hits))
	for _, h := range hits {
		f, err := r.Facts.GetByID(ctx, h.FactID, memstore.GetByIDOpts{ScopeFilter: scopeFilter})
		if err != nil || f == nil {
			continue
		}
		out = append(out, rankedID{id: f.ID, fact: f})
	}
	return out, nil
}

// hydeQuery implements HyDE (spec §4.5): when search.hydeEnabled is set and
// a chat model is configured, asks the default tier to write a short
// hypothetical answer to prompt and embeds that instead of the raw prompt,
// on the theory that an answer sits closer in embedding space to the facts
// that would answer it than the question does. Any failure to enable or
// run HyDE degrades silently back to embedding prompt directly.
func (r *Retriever) hydeQuery(ctx context.Context, prompt string, cfg memstore.SearchConfig) string {
	if !cfg.HydeEnabled || r.Chat == nil {
		return prompt
	}

	answer, err := memstore.CompleteWithRetry(ctx, r.Chat, memstore.ChatRequest{
		Tier:   memstore.ChatTierDefault,
		Prompt: fmt.Sprintf("Write a short factual statement that answers: %s", prompt),
	})
	if err != nil {
		return prompt
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return prompt
	}
	if len(answer) > hydeMaxQueryChars {
		answer = answer[:hydeMaxQueryChars]
	}
	return answer
}

// resolveAndFilter drops fusion hits missing a resolved fact row, applies
// the tier/supersession/point-in-time filters (spec §4.5), and converts
// to the scored type adjustments operate on.
func (r *Retriever) resolveAndFilter(ctx context.Context, in []fused, opts Options) []scored {
	out := make([]scored, 0, len(in))
	for _, f := range in {
		fact := f.fact
		if fact == nil {
			resolved, err := r.Facts.GetByID(ctx, f.id, memstore.GetByIDOpts{
				ScopeFilter:       opts.ScopeFilter,
				IncludeSuperseded: opts.IncludeSuperseded,
				AsOf:              opts.AsOf,
			})
			if err != nil || resolved == nil {
				continue
			}
			fact = resolved
		}
		if opts.ExcludeCold && fact.Tier == memstore.TierCold {
			continue
		}
		if !opts.IncludeSuperseded && fact.SupersededAt != nil {
			continue
		}
		out = append(out, scored{fact: *fact, score: f.score})
	}
	return out
}

// applyAdjustments implements spec §4.5's optional post-fusion score
// multipliers: preferLongTerm, useImportanceRecency, and access-salience
// (always on, since it only ever narrows the ranking gap for frequently
// recalled facts).
func applyAdjustments(ranked []scored, cfg memstore.AutoRecallConfig) []scored {
	now := time.Now()
	for i := range ranked {
		f := ranked[i].fact

		if cfg.PreferLongTerm {
			switch f.DecayClass {
			case memstore.DecayPermanent:
				ranked[i].score *= 1.2
			case memstore.DecayStable:
				ranked[i].score *= 1.1
			}
		}

		if cfg.UseImportanceRecency {
			recencyFactor := 1.0
			if f.LastConfirmedAt != nil {
				ageSec := now.Sub(*f.LastConfirmedAt).Seconds()
				recencyFactor = 0.8 + 0.2*math.Max(0, 1-ageSec/(90*86400))
			}
			ranked[i].score *= (0.7 + 0.3*f.Importance) * recencyFactor
		}

		ranked[i].score *= 1 + 0.1*math.Log(1+float64(f.RecallCount))
	}
	return ranked
}

// expandGraph performs bounded BFS expansion (spec §4.5 "Graph
// expansion") from the top graphExpansionTopN already-ranked facts,
// merging any newly reached fact whose decayed score clears
// graphExpansionFloor and isn't already present.
func (r *Retriever) expandGraph(ctx context.Context, ranked []scored, graphCfg memstore.GraphConfig) []scored {
	sortByScoreDesc(ranked)

	present := make(map[string]bool, len(ranked))
	for _, s := range ranked {
		present[s.fact.ID] = true
	}

	seedCount := graphExpansionTopN
	if seedCount > len(ranked) {
		seedCount = len(ranked)
	}

	for i := 0; i < seedCount; i++ {
		seed := ranked[i]
		hits, err := r.Graph.Expand(ctx, seed.fact.ID, seed.score, graphCfg.MaxTraversalDepth, graphExpansionFloor)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if present[h.FactID] {
				continue
			}
			fact, err := r.Facts.GetByID(ctx, h.FactID, memstore.GetByIDOpts{})
			if err != nil || fact == nil {
				continue
			}
			present[h.FactID] = true
			ranked = append(ranked, scored{fact: *fact, score: h.Score})
		}
	}
	return ranked
}

func sortByScoreDesc(ranked []scored) {
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
}

// Package coordinator implements the lifecycle coordinator (C11): it owns
// the fact store, vector store, WAL, embedder, chat model, classifier,
// graph, capture pipeline, and retriever, and exposes both the host-facing
// operations (store/recall/forget/lookup/link/graph/reflect/checkpoint/
// prune/stats, spec §6) and the three hook entry points the host runtime
// calls (turn_start, turn_end, session_end, spec §4.9).
//
// It lives in its own package rather than the root memstore package
// because it is the one component that legitimately depends on every
// other component, including the capture and retriever subpackages — and
// those subpackages import the root package, so a root-level coordinator
// importing them back would be an import cycle.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewjhunter/memstore"
	"github.com/matthewjhunter/memstore/capture"
	"github.com/matthewjhunter/memstore/retriever"
)

// Coordinator owns every long-lived resource the engine needs and answers
// the host runtime's hook calls and explicit operations (spec §9:
// "ownership of long-lived resources... owned by the lifecycle
// coordinator; hook handlers borrow them for the duration of a call").
type Coordinator struct {
	Facts    memstore.FactStore
	Vectors  memstore.VectorStore
	WAL      *memstore.WAL
	Embedder memstore.Embedder
	Chat     memstore.ChatModel

	Graph      *memstore.Graph
	Classifier *memstore.Classifier
	Capture    *capture.Pipeline
	Retriever  *retriever.Retriever
	AuthDetect *retriever.AuthFailureDetector

	Config memstore.Config
	Logger *log.Logger

	mu            sync.Mutex
	pruneSched    *memstore.Scheduler
	classifySched *memstore.Scheduler
}

// New wires every component from cfg, facts, vectors, embedder, and chat.
// vectors and chat may be nil (the engine degrades: no vector recall / no
// classifier / no HyDE / no over-budget summarization). logger may be nil.
func New(cfg memstore.Config, facts memstore.FactStore, vectors memstore.VectorStore, embedder memstore.Embedder, chat memstore.ChatModel, logger *log.Logger) (*Coordinator, error) {
	if facts == nil {
		return nil, fmt.Errorf("coordinator: a fact store is required")
	}
	if logger == nil {
		logger = log.Default()
	}

	graph := memstore.NewGraph(facts, vectors, cfg.Graph)
	classifier := memstore.NewClassifier(facts, vectors, chat, logger)

	capPipeline, err := capture.NewPipeline(capture.Config{
		MaxChars:   cfg.CaptureMaxChars,
		MaxPerTurn: cfg.CaptureMaxPerTurn,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: building capture pipeline: %w", err)
	}

	retr := retriever.New(facts, vectors, embedder, chat, graph)

	authDetect, err := retriever.NewAuthFailureDetector(cfg.AutoRecall.AuthFailure)
	if err != nil {
		return nil, fmt.Errorf("coordinator: building auth-failure detector: %w", err)
	}

	var wal *memstore.WAL
	if cfg.WAL.Enabled {
		if cfg.WAL.WALPath == "" {
			return nil, fmt.Errorf("coordinator: wal.enabled requires wal.walPath")
		}
		wal = memstore.NewWAL(cfg.WAL.WALPath)
	}

	return &Coordinator{
		Facts:      facts,
		Vectors:    vectors,
		WAL:        wal,
		Embedder:   embedder,
		Chat:       chat,
		Graph:      graph,
		Classifier: classifier,
		Capture:    capPipeline,
		Retriever:  retr,
		AuthDetect: authDetect,
		Config:     cfg,
		Logger:     logger,
	}, nil
}

// Start replays any pending WAL entries (spec §4.1 "recover... called at
// startup") and launches the prune and auto-classify background
// schedulers (spec §4.9).
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.recoverWAL(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneSched = memstore.NewPruneScheduler(c.Facts, c.Vectors, c.Config.MemoryTiering, c.Logger)
	c.pruneSched.Start(ctx)
	c.classifySched = memstore.NewAutoClassifyScheduler(c.Facts, c.Chat, c.Logger)
	c.classifySched.Start(ctx)
	return nil
}

// Stop cancels both background schedulers and waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pruneSched != nil {
		c.pruneSched.Stop()
	}
	if c.classifySched != nil {
		c.classifySched.Stop()
	}
}

// recoverWAL replays every entry the WAL considers fresh through the
// normal store/delete path, then compacts it away (spec §4.1 recover();
// spec §5 "a crash between step 1 and step 4 is recovered by startup
// replay, which must produce the same final state by dedup/by id").
func (c *Coordinator) recoverWAL(ctx context.Context) error {
	if c.WAL == nil {
		return nil
	}
	entries, err := c.WAL.ValidEntries(c.Config.WAL.MaxAge)
	if err != nil {
		return fmt.Errorf("coordinator: wal recovery: %w", err)
	}
	for _, e := range entries {
		if err := c.replayEntry(ctx, e); err != nil {
			c.Logger.Printf("memstore: coordinator: replaying wal entry %s: %v", e.ID, err)
			continue
		}
		if err := c.WAL.Remove(e.ID); err != nil {
			c.Logger.Printf("memstore: coordinator: compacting replayed wal entry %s: %v", e.ID, err)
		}
	}
	return nil
}

func (c *Coordinator) replayEntry(ctx context.Context, e memstore.WALEntry) error {
	switch e.Operation {
	case memstore.WALStore, memstore.WALUpdate:
		var in memstore.StoreInput
		if err := json.Unmarshal(e.Data, &in); err != nil {
			return fmt.Errorf("unmarshaling store entry: %w", err)
		}
		f, err := c.Facts.Store(ctx, in)
		if err != nil {
			return fmt.Errorf("replaying store: %w", err)
		}
		if c.Vectors != nil && len(f.Embedding) > 0 {
			if err := c.Vectors.Store(ctx, memstore.VectorRecord{FactID: f.ID, Vector: f.Embedding, Category: f.Category, Importance: f.Importance}); err != nil {
				c.Logger.Printf("memstore: coordinator: wal replay vector store for %s: %v", f.ID, err)
			}
		}
		return nil
	case memstore.WALRemove:
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			return fmt.Errorf("unmarshaling remove entry: %w", err)
		}
		if err := c.Facts.DeleteFact(ctx, payload.ID); err != nil {
			return fmt.Errorf("replaying delete: %w", err)
		}
		if c.Vectors != nil {
			if err := c.Vectors.Delete(ctx, payload.ID); err != nil {
				c.Logger.Printf("memstore: coordinator: wal replay vector delete for %s: %v", payload.ID, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown wal operation %q", e.Operation)
	}
}

// commitStore runs the spec §5 dual-write protocol: WAL.append ->
// factStore.store -> vectorStore.store -> WAL.remove. embedding, if
// already computed by the caller (e.g. the classifier reused its
// similarity-search embedding), is passed through so Store never
// re-embeds (spec §4.6).
func (c *Coordinator) commitStore(ctx context.Context, in memstore.StoreInput, embedding []float32) (*memstore.Fact, error) {
	var walID string
	if c.WAL != nil {
		walID = uuid.NewString()
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("coordinator: marshaling wal entry: %w", err)
		}
		if err := c.WAL.Append(memstore.WALEntry{ID: walID, Timestamp: time.Now().UTC(), Operation: memstore.WALStore, Data: data}); err != nil {
			return nil, fmt.Errorf("coordinator: wal append: %w", err)
		}
	}

	if in.HotThreshold == 0 {
		in.HotThreshold = c.Config.ImportanceHotThreshold
	}
	f, err := c.Facts.Store(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("coordinator: storing fact: %w", err)
	}

	if c.Vectors != nil {
		if len(embedding) == 0 && c.Embedder != nil {
			embedding, err = memstore.Single(ctx, c.Embedder, f.Text)
			if err != nil {
				c.Logger.Printf("memstore: coordinator: embedding fact %s failed, committing without a vector record: %v", f.ID, err)
				embedding = nil
			}
		}
		if len(embedding) > 0 {
			f.Embedding = embedding
			if err := c.Vectors.Store(ctx, memstore.VectorRecord{FactID: f.ID, Vector: embedding, Category: f.Category, Importance: f.Importance}); err != nil {
				c.Logger.Printf("memstore: coordinator: vector store for fact %s: %v", f.ID, err)
			} else if c.Config.Graph.Enabled && c.Config.Graph.AutoLink {
				if err := c.Graph.AutoLinkOnStore(ctx, *f); err != nil {
					c.Logger.Printf("memstore: coordinator: auto-linking fact %s: %v", f.ID, err)
				}
			}
		}
	}

	if c.WAL != nil {
		if err := c.WAL.Remove(walID); err != nil {
			c.Logger.Printf("memstore: coordinator: wal remove %s: %v", walID, err)
		}
	}

	if f.Tier == memstore.TierHot && c.Config.MemoryTiering.Enabled {
		if _, err := c.Facts.EvictHotOverBudget(ctx, c.Config.MemoryTiering.HotMaxTokens, c.Config.MemoryTiering.HotMaxFacts); err != nil {
			c.Logger.Printf("memstore: coordinator: evicting hot tier over budget: %v", err)
		}
	}
	return f, nil
}

// decideAndCommit embeds the candidate, classifies it against similar
// existing facts when store.classifyBeforeWrite is on (spec §4.4 step 7,
// §4.6), and commits the resulting ADD/UPDATE, or performs the DELETE/NOOP
// side effect. Shared by the explicit Store operation and auto-capture.
func (c *Coordinator) decideAndCommit(ctx context.Context, in memstore.StoreInput) (*memstore.Fact, error) {
	var embedding []float32
	if c.Embedder != nil {
		var err error
		embedding, err = memstore.Single(ctx, c.Embedder, in.Text)
		if err != nil {
			c.Logger.Printf("memstore: coordinator: embedding candidate failed: %v", err)
			embedding = nil
		}
	}

	if c.Config.Store.ClassifyBeforeWrite && c.Chat != nil {
		decision := c.Classifier.Classify(ctx, in.Text, in.Entity, in.Key, embedding)
		return c.applyClassification(ctx, in, embedding, decision)
	}
	return c.commitStore(ctx, in, embedding)
}

func (c *Coordinator) applyClassification(ctx context.Context, in memstore.StoreInput, embedding []float32, decision memstore.ClassifyResult) (*memstore.Fact, error) {
	switch decision.Decision {
	case memstore.DecisionNoop:
		return nil, nil
	case memstore.DecisionDelete:
		if decision.TargetID == "" {
			return nil, fmt.Errorf("coordinator: classifier DELETE decision missing target id")
		}
		if err := c.Facts.Supersede(ctx, decision.TargetID, nil, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("coordinator: retracting %s: %w", decision.TargetID, err)
		}
		return nil, nil
	case memstore.DecisionUpdate:
		if decision.TargetID == "" {
			return nil, fmt.Errorf("coordinator: classifier UPDATE decision missing target id")
		}
		target := decision.TargetID
		in.SupersedesID = &target
		in.ValidFrom = time.Now().UTC()
		return c.commitStore(ctx, in, embedding)
	default: // ADD, and any unrecognized decision falls back to ADD (spec §4.6/§7)
		return c.commitStore(ctx, in, embedding)
	}
}

// --- Host-facing operations (spec §6) ---

// Store validates and commits an explicit/interactive fact (spec §6
// "store(input) -> Fact"). Honors store.classifyBeforeWrite. A nil Fact
// with a nil error means the classifier resolved the candidate to
// NOOP/DELETE — nothing new was written.
func (c *Coordinator) Store(ctx context.Context, in memstore.StoreInput) (*memstore.Fact, error) {
	in.FuzzyDedupe = in.FuzzyDedupe || c.Config.Store.FuzzyDedupe
	return c.decideAndCommit(ctx, in)
}

// Forget hard-deletes a fact and its vector record and links (spec §6
// "forget(id) -> bool"), through the same WAL-protected protocol as Store.
func (c *Coordinator) Forget(ctx context.Context, id string) (bool, error) {
	var walID string
	if c.WAL != nil {
		walID = uuid.NewString()
		data, err := json.Marshal(struct {
			ID string `json:"id"`
		}{ID: id})
		if err != nil {
			return false, fmt.Errorf("coordinator: marshaling wal entry: %w", err)
		}
		if err := c.WAL.Append(memstore.WALEntry{ID: walID, Timestamp: time.Now().UTC(), Operation: memstore.WALRemove, Data: data}); err != nil {
			return false, fmt.Errorf("coordinator: wal append for forget: %w", err)
		}
	}

	if err := c.Facts.DeleteFact(ctx, id); err != nil {
		return false, fmt.Errorf("coordinator: forgetting %s: %w", id, err)
	}
	if c.Vectors != nil {
		if err := c.Vectors.Delete(ctx, id); err != nil {
			c.Logger.Printf("memstore: coordinator: deleting vector for forgotten fact %s: %v", id, err)
		}
	}
	if err := c.Facts.DeleteLinksForFact(ctx, id); err != nil {
		c.Logger.Printf("memstore: coordinator: deleting links for forgotten fact %s: %v", id, err)
	}

	if c.WAL != nil {
		if err := c.WAL.Remove(walID); err != nil {
			c.Logger.Printf("memstore: coordinator: wal remove for forget %s: %v", walID, err)
		}
	}
	return true, nil
}

// Lookup performs structured equality lookup (spec §6 "lookup(entity,
// key?, opts) -> Fact[]").
func (c *Coordinator) Lookup(ctx context.Context, entity, key, tag string, opts memstore.LookupOpts) ([]memstore.Fact, error) {
	return c.Facts.Lookup(ctx, entity, key, tag, opts)
}

// Reinforce records that a fact was reaffirmed (spec §3 Fact-lifecycle
// mutation path (c) "reinforcement"): increments reinforcedCount, sets
// lastReinforcedAt, and appends quote to the bounded reinforcedQuotes list
// when non-empty. Feeds ReinforcementBoost in ranked search. Not
// WAL-protected: unlike Store/Forget it neither creates nor destroys a
// fact, so a crash mid-update just loses one reinforcement, not data.
func (c *Coordinator) Reinforce(ctx context.Context, id string, quote string) (*memstore.Fact, error) {
	f, err := c.Facts.Reinforce(ctx, id, quote)
	if err != nil {
		return nil, fmt.Errorf("coordinator: reinforcing %s: %w", id, err)
	}
	return f, nil
}

// Link inserts an explicit typed edge (spec §6 "link(from, to, kind,
// strength?) -> Link"). A non-positive strength defaults to 0.5 (never 0,
// per invariant 8).
func (c *Coordinator) Link(ctx context.Context, fromID, toID string, kind memstore.LinkKind, strength float64) (*memstore.Link, error) {
	if fromID == toID {
		return nil, fmt.Errorf("%w: link endpoints must differ", memstore.ErrInvariant)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown link kind %q", memstore.ErrInvariant, kind)
	}
	if strength <= 0 {
		strength = 0.5
	}
	l := memstore.Link{FromID: fromID, ToID: toID, Kind: kind, Strength: strength, CreatedAt: time.Now().UTC()}
	if err := c.Facts.UpsertLink(ctx, l); err != nil {
		return nil, fmt.Errorf("coordinator: linking %s->%s: %w", fromID, toID, err)
	}
	return &l, nil
}

// GraphView is the result of a Graph traversal: the seed fact plus every
// fact reached within depth, and the links among them.
type GraphView struct {
	Facts []memstore.Fact
	Links []memstore.Link
}

// Graph returns the seed fact plus its bounded-depth neighborhood (spec §6
// "graph(id, depth?) -> {facts, links}"). depth <= 0 uses the configured
// graph.maxTraversalDepth.
func (c *Coordinator) Graph(ctx context.Context, id string, depth int) (*GraphView, error) {
	if depth <= 0 {
		depth = c.Config.Graph.MaxTraversalDepth
	}
	seed, err := c.Facts.GetByID(ctx, id, memstore.GetByIDOpts{IncludeSuperseded: true})
	if err != nil {
		return nil, fmt.Errorf("coordinator: looking up %s: %w", id, err)
	}
	if seed == nil {
		return nil, memstore.ErrNotFound
	}

	facts := []memstore.Fact{*seed}
	seen := map[string]bool{id: true}

	hits, err := c.Graph.Expand(ctx, id, 1.0, depth, 0)
	if err != nil {
		return nil, fmt.Errorf("coordinator: expanding graph from %s: %w", id, err)
	}
	for _, h := range hits {
		if seen[h.FactID] {
			continue
		}
		f, err := c.Facts.GetByID(ctx, h.FactID, memstore.GetByIDOpts{})
		if err != nil || f == nil {
			continue
		}
		seen[h.FactID] = true
		facts = append(facts, *f)
	}

	var links []memstore.Link
	for id := range seen {
		ls, err := c.Facts.Neighbors(ctx, id, true)
		if err != nil {
			continue
		}
		links = append(links, ls...)
	}

	return &GraphView{Facts: facts, Links: links}, nil
}

// Reflect asks the chat model to synthesize recurring patterns, rules, or
// procedures from facts created within window (spec §6 "reflect(window) ->
// synthesized patterns"). window <= 0 considers all consolidation
// candidates. Returns "" when there is nothing to reflect on, or when no
// chat model is configured.
func (c *Coordinator) Reflect(ctx context.Context, window time.Duration) (string, error) {
	if c.Chat == nil {
		return "", nil
	}
	candidates, err := c.Facts.GetFactsForConsolidation(ctx, 50)
	if err != nil {
		return "", fmt.Errorf("coordinator: gathering reflection candidates: %w", err)
	}

	var recent []memstore.Fact
	cutoff := time.Now().UTC().Add(-window)
	for _, f := range candidates {
		if window <= 0 || f.CreatedAt.After(cutoff) {
			recent = append(recent, f)
		}
	}
	if len(recent) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Identify recurring patterns, rules, or procedures implied by these memories. Respond with a short bulleted synthesis.\n\n")
	for _, f := range recent {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Category, f.Text)
	}
	out, err := memstore.CompleteWithRetry(ctx, c.Chat, memstore.ChatRequest{Tier: memstore.ChatTierHeavy, Prompt: b.String(), MaxTokens: 500})
	if err != nil {
		return "", fmt.Errorf("coordinator: reflection chat call: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Checkpoint stores a labeled fact with decayClass=checkpoint (spec §6
// "checkpoint(label) -> Fact").
func (c *Coordinator) Checkpoint(ctx context.Context, label string) (*memstore.Fact, error) {
	in := memstore.StoreInput{
		Text:       label,
		Category:   memstore.CategoryOther,
		DecayClass: memstore.DecayCheckpoint,
		Importance: 0.5,
	}
	return c.commitStore(ctx, in, nil)
}

// PruneMode selects which passes Prune runs.
type PruneMode string

const (
	PruneHard    PruneMode = "hard"
	PruneSoft    PruneMode = "soft"
	PruneCompact PruneMode = "compact"
	PruneAll     PruneMode = "all"
)

// PruneCounts summarizes one Prune call (spec §6 "prune(mode) -> counts").
type PruneCounts struct {
	HardPruned  int
	SoftDecayed int
	SoftExpired int
	Compaction  memstore.CompactionResult
}

// Prune runs the requested prune pass(es) on demand, outside the periodic
// scheduler (spec §4.8, §6).
func (c *Coordinator) Prune(ctx context.Context, mode PruneMode) (PruneCounts, error) {
	var counts PruneCounts
	now := time.Now().UTC()

	if mode == PruneHard || mode == PruneAll || mode == "" {
		ids, err := c.Facts.PruneExpired(ctx, now)
		if err != nil {
			return counts, fmt.Errorf("coordinator: hard prune: %w", err)
		}
		counts.HardPruned = len(ids)
		for _, id := range ids {
			if c.Vectors != nil {
				if err := c.Vectors.Delete(ctx, id); err != nil {
					c.Logger.Printf("memstore: coordinator: deleting vector for pruned fact %s: %v", id, err)
				}
			}
		}
	}

	if mode == PruneSoft || mode == PruneAll || mode == "" {
		halved, expired, err := c.Facts.SoftDecayTick(ctx, now)
		if err != nil {
			return counts, fmt.Errorf("coordinator: soft decay: %w", err)
		}
		counts.SoftDecayed = halved
		counts.SoftExpired = len(expired)
		for _, id := range expired {
			if c.Vectors != nil {
				if err := c.Vectors.Delete(ctx, id); err != nil {
					c.Logger.Printf("memstore: coordinator: deleting vector for decayed fact %s: %v", id, err)
				}
			}
		}
	}

	if mode == PruneCompact || mode == PruneAll {
		staleAfter := time.Duration(c.Config.MemoryTiering.InactivePreferenceDays) * 24 * time.Hour
		if staleAfter <= 0 {
			staleAfter = 30 * 24 * time.Hour
		}
		res, err := c.Facts.RunCompaction(ctx, staleAfter, c.Config.MemoryTiering.HotMaxTokens, c.Config.MemoryTiering.HotMaxFacts)
		if err != nil {
			return counts, fmt.Errorf("coordinator: compaction: %w", err)
		}
		counts.Compaction = res
	}

	return counts, nil
}

// Stats reports basic counts and sizes (spec §6 "stats() -> counts+sizes").
type Stats struct {
	HotFacts    int
	VectorCount int
}

// Stats returns a best-effort snapshot; a failing sub-query degrades its
// own field to zero rather than failing the whole call.
func (c *Coordinator) Stats(ctx context.Context) Stats {
	var s Stats
	if hot, err := c.Facts.GetHotFacts(ctx, 0, ""); err == nil {
		s.HotFacts = len(hot)
	}
	if c.Vectors != nil {
		if n, err := c.Vectors.Count(ctx); err == nil {
			s.VectorCount = n
		}
	}
	return s
}

// --- Hooks (spec §4.9) ---

// wrapTag wraps body in the named XML-ish delimiter tag used by the
// injection envelope (spec §6).
func wrapTag(tag, body string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", tag, body, tag)
}

// OnTurnStart runs the retriever, the procedure and hot-tier lookups, and
// the auth-failure reactive-recall hook, then assembles the fixed
// injection envelope in spec §6's order: hot-memories, relevant-procedures,
// relevant-memories, credential-hint. Retrieval failures degrade to fewer
// (or no) injected memories rather than failing the turn (spec §7
// "retrieval errors degrade gracefully").
func (c *Coordinator) OnTurnStart(ctx context.Context, prompt string, toolOutputs []string, opts retriever.Options) string {
	var blocks []string

	if hot, err := c.Facts.GetHotFacts(ctx, c.Config.MemoryTiering.HotMaxTokens, opts.ScopeFilter); err != nil {
		c.Logger.Printf("memstore: coordinator: fetching hot facts: %v", err)
	} else if len(hot) > 0 {
		lines := make([]string, 0, len(hot))
		for _, f := range hot {
			text := f.Text
			if f.Summary != "" {
				text = f.Summary
			}
			lines = append(lines, "- "+text)
		}
		blocks = append(blocks, wrapTag("hot-memories", strings.Join(lines, "\n")))
	}

	if procs, err := c.Facts.FindProcedures(ctx, prompt, opts.ScopeFilter); err != nil {
		c.Logger.Printf("memstore: coordinator: finding procedures: %v", err)
	} else if len(procs) > 0 {
		lines := make([]string, 0, len(procs))
		for _, p := range procs {
			lines = append(lines, fmt.Sprintf("- %s (confidence %.2f)", p.TaskPattern, p.Confidence))
		}
		blocks = append(blocks, wrapTag("relevant-procedures", strings.Join(lines, "\n")))
	}

	result, err := c.Retriever.Retrieve(ctx, prompt, c.Config.AutoRecall, c.Config.Graph, c.Config.Search, opts)
	if err != nil {
		c.Logger.Printf("memstore: coordinator: retrieval failed, degrading to no injected memories: %v", err)
		result = &retriever.Result{}
	}
	if result.Text != "" {
		blocks = append(blocks, fmt.Sprintf("<relevant-memories format=%q>\n%s\n</relevant-memories>", string(c.Config.AutoRecall.InjectionFormat), result.Text))
	}

	if c.Config.AutoRecall.AuthFailure.Enabled && c.AuthDetect != nil {
		for _, out := range toolOutputs {
			target, ok := c.AuthDetect.Detect(out)
			if !ok {
				continue
			}
			hint, err := c.AuthDetect.Recall(ctx, c.Facts, target, opts.ScopeFilter)
			if err != nil {
				c.Logger.Printf("memstore: coordinator: auth-failure recall for %s: %v", target, err)
				continue
			}
			if hint != "" {
				blocks = append(blocks, wrapTag("credential-hint", hint))
			}
		}
	}

	return strings.Join(blocks, "\n\n")
}

// OnTurnEnd runs auto-capture over the turn's messages and commits each
// resulting candidate (spec §4.4, §4.9 "run capture, then credential
// auto-detect [out of scope for this engine], then optional
// tier-compaction [owned by memoryTiering.compactionOnSessionEnd, run at
// session end]"). Capture failures are logged and swallowed so they never
// affect the turn's reply (spec §7).
func (c *Coordinator) OnTurnEnd(ctx context.Context, messages []string, scope memstore.Scope, scopeTarget string) {
	candidates := c.Capture.Capture(messages)
	for _, cand := range candidates {
		in := memstore.StoreInput{
			Text:        cand.Text,
			Entity:      cand.Entity,
			Key:         cand.Key,
			Value:       cand.Value,
			Category:    cand.Category,
			Tags:        cand.Tags,
			Scope:       scope,
			ScopeTarget: scopeTarget,
			FuzzyDedupe: c.Config.Store.FuzzyDedupe,
		}
		if _, err := c.decideAndCommit(ctx, in); err != nil {
			c.Logger.Printf("memstore: coordinator: capture commit failed, dropping candidate: %v", err)
		}
	}
}

// OnSessionEnd clears per-session caches and, when configured, runs tier
// compaction (spec §4.8 "on session-end and on demand", §4.9, §9 "Global
// mutable state -> scoped state... per-session reactive-recall dedup map").
func (c *Coordinator) OnSessionEnd(ctx context.Context) error {
	if c.AuthDetect != nil {
		c.AuthDetect.Reset()
	}
	if c.Config.MemoryTiering.Enabled && c.Config.MemoryTiering.CompactionOnSessionEnd {
		staleAfter := time.Duration(c.Config.MemoryTiering.InactivePreferenceDays) * 24 * time.Hour
		if staleAfter <= 0 {
			staleAfter = 30 * 24 * time.Hour
		}
		if _, err := c.Facts.RunCompaction(ctx, staleAfter, c.Config.MemoryTiering.HotMaxTokens, c.Config.MemoryTiering.HotMaxFacts); err != nil {
			return fmt.Errorf("coordinator: session-end compaction: %w", err)
		}
	}
	return nil
}

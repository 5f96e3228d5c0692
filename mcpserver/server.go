// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes a memstore lifecycle coordinator as MCP tools: the host-facing
// operations in spec §6 (store/forget/lookup/link/graph/reflect/checkpoint
// /prune/stats) plus a search tool that runs the hybrid retriever directly,
// for clients that want an on-demand recall call rather than the
// injection-envelope hooks.
package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matthewjhunter/memstore"
	"github.com/matthewjhunter/memstore/coordinator"
	"github.com/matthewjhunter/memstore/retriever"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MemoryServer bridges MCP tool calls to a lifecycle coordinator.
type MemoryServer struct {
	engine *coordinator.Coordinator
}

// NewMemoryServer creates a server backed by engine.
func NewMemoryServer(engine *coordinator.Coordinator) *MemoryServer {
	return &MemoryServer{engine: engine}
}

// --- Input types (MCP SDK infers JSON schemas from struct tags) ---

// StoreInput is the input schema for the memory_store tool.
type StoreInput struct {
	Text        string `json:"text" jsonschema:"the factual claim or memory to store"`
	Entity      string `json:"entity,omitempty" jsonschema:"the entity this fact is about (e.g. a person or project)"`
	Key         string `json:"key,omitempty" jsonschema:"the attribute name for structured facts (e.g. \"email\")"`
	Value       string `json:"value,omitempty" jsonschema:"the attribute value for structured facts"`
	Category    string `json:"category,omitempty" jsonschema:"preference, fact, decision, entity, pattern, rule, procedure, or other (default: other)"`
	Scope       string `json:"scope,omitempty" jsonschema:"global, user, agent, or session (default: global)"`
	ScopeTarget string `json:"scope_target,omitempty" jsonschema:"required unless scope is global"`
	Tags        []string `json:"tags,omitempty" jsonschema:"optional tags; inferred from text when omitted"`
}

// SearchInput is the input schema for the memory_search tool.
type SearchInput struct {
	Query       string `json:"query" jsonschema:"natural language search query"`
	ScopeFilter string `json:"scope_filter,omitempty" jsonschema:"restrict results to this scope"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
}

// LookupInput is the input schema for the memory_lookup tool.
type LookupInput struct {
	Entity      string `json:"entity,omitempty" jsonschema:"exact entity to look up"`
	Key         string `json:"key,omitempty" jsonschema:"exact attribute key to look up"`
	Tag         string `json:"tag,omitempty" jsonschema:"exact tag to look up"`
	ScopeFilter string `json:"scope_filter,omitempty" jsonschema:"restrict results to this scope"`
}

// ForgetInput is the input schema for the memory_forget tool.
type ForgetInput struct {
	ID string `json:"id" jsonschema:"the fact ID to forget"`
}

// ReinforceInput is the input schema for the memory_reinforce tool.
type ReinforceInput struct {
	ID    string `json:"id" jsonschema:"the fact ID being reaffirmed"`
	Quote string `json:"quote,omitempty" jsonschema:"an optional verbatim quote showing where the fact was reaffirmed"`
}

// LinkInput is the input schema for the memory_link tool.
type LinkInput struct {
	FromID   string  `json:"from_id" jsonschema:"the source fact ID"`
	ToID     string  `json:"to_id" jsonschema:"the target fact ID"`
	Kind     string  `json:"kind" jsonschema:"SUPERSEDES, CAUSED_BY, PART_OF, RELATED_TO, or DEPENDS_ON"`
	Strength float64 `json:"strength,omitempty" jsonschema:"link strength in (0,1], default 0.5"`
}

// GraphInput is the input schema for the memory_graph tool.
type GraphInput struct {
	ID    string `json:"id" jsonschema:"the fact ID to traverse from"`
	Depth int    `json:"depth,omitempty" jsonschema:"maximum traversal depth (default from config)"`
}

// ReflectInput is the input schema for the memory_reflect tool.
type ReflectInput struct {
	WindowHours int `json:"window_hours,omitempty" jsonschema:"only consider facts created within this many hours (default: all)"`
}

// CheckpointInput is the input schema for the memory_checkpoint tool.
type CheckpointInput struct {
	Label string `json:"label" jsonschema:"a short label describing the current state worth resuming from"`
}

// PruneInput is the input schema for the memory_prune tool.
type PruneInput struct {
	Mode string `json:"mode,omitempty" jsonschema:"hard, soft, compact, or all (default: all)"`
}

// StatsInput is the input schema for the memory_stats tool.
type StatsInput struct{}

// --- Tool registration ---

// Register adds all memory tools to the given MCP server.
func (ms *MemoryServer) Register(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: "memory_store",
		Description: `Store a fact or memory. Persists across sessions with automatic embedding for semantic search, and is run through duplicate/update/retraction classification against similar existing facts before being committed.

Store aggressively — it is better to store something and let classification reconcile it than to lose it. Good candidates: user preferences, project decisions, technical choices, names, relationships, workflow habits, things the user corrects you on, environment details.

Conventions:
- entity/key/value: use for structured facts ("matthew" / "email" / "m@example.com") so memory_lookup can find them by exact match.
- category: one of preference, fact, decision, entity, pattern, rule, procedure, other. Use "other" as the catch-all.
- scope/scope_target: leave scope empty (global) unless this fact belongs to a specific user/agent/session.`,
	}, ms.HandleStore)

	mcp.AddTool(s, &mcp.Tool{
		Name: "memory_search",
		Description: `Search stored memories using the hybrid full-text + semantic + graph retrieval pipeline. Use this to recall information on demand, outside the normal turn-start injection.

Search early and often — check what you already know before asking the user to repeat themselves.`,
	}, ms.HandleSearch)

	mcp.AddTool(s, &mcp.Tool{
		Name: "memory_lookup",
		Description: `Look up facts by exact entity, key, or tag match (no ranking, no fuzziness). Use this when you know precisely which structured fact you want rather than searching by meaning.`,
	}, ms.HandleLookup)

	mcp.AddTool(s, &mcp.Tool{
		Name: "memory_forget",
		Description: `Permanently delete a specific memory by its ID, along with its vector record and any links to/from it. Use this to remove outdated or incorrect information.

Prefer letting memory_store's classifier supersede a fact instead — that preserves history. Only forget facts that are genuinely wrong or harmful.`,
	}, ms.HandleForget)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_reinforce",
		Description: `Reaffirm an existing fact, boosting its rank in future search and recording when/how it was reaffirmed. Use this when the user restates or confirms something already stored rather than storing a near-duplicate fact.`,
	}, ms.HandleReinforce)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_link",
		Description: `Create an explicit typed link between two facts (SUPERSEDES, CAUSED_BY, PART_OF, RELATED_TO, DEPENDS_ON). Use this when you notice a relationship the auto-linker wouldn't infer from similarity alone.`,
	}, ms.HandleLink)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_graph",
		Description: `Return a fact and its bounded-depth neighborhood in the fact-link graph. Use this to understand what a fact relates to, depends on, or was caused by.`,
	}, ms.HandleGraph)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_reflect",
		Description: `Ask the engine to synthesize recurring patterns, rules, or procedures from recent memories. Use this periodically to surface higher-level insight the individual facts don't show on their own.`,
	}, ms.HandleReflect)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_checkpoint",
		Description: `Store a short labeled checkpoint fact marking a resumable point in the current work. Checkpoints decay quickly (a few hours) unless reinforced.`,
	}, ms.HandleCheckpoint)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_prune",
		Description: `Run prune passes on demand: hard TTL expiry, soft decay, and/or tier compaction. Normally runs on a background schedule; use this to force an immediate pass.`,
	}, ms.HandlePrune)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_stats",
		Description: "Show memory store statistics: hot-tier fact count and vector store size.",
	}, ms.HandleStats)
}

// --- Handlers ---

func (ms *MemoryServer) HandleStore(ctx context.Context, _ *mcp.CallToolRequest, input StoreInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Text) == "" {
		return textResult("Error: text is required", true), nil, nil
	}

	scope := memstore.Scope(input.Scope)
	if scope == "" {
		scope = memstore.ScopeGlobal
	}
	if err := memstore.ValidateScope(scope, input.ScopeTarget); err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}

	category := memstore.Category(input.Category)
	if category == "" {
		category = memstore.CategoryOther
	} else if !memstore.ValidCategory(category) {
		return textResult(fmt.Sprintf("Error: unknown category %q", input.Category), true), nil, nil
	}

	f, err := ms.engine.Store(ctx, memstore.StoreInput{
		Text:        input.Text,
		Entity:      input.Entity,
		Key:         input.Key,
		Value:       input.Value,
		Category:    category,
		Scope:       scope,
		ScopeTarget: input.ScopeTarget,
		Tags:        input.Tags,
	})
	if err != nil {
		return textResult(fmt.Sprintf("Error storing fact: %v", err), true), nil, nil
	}
	if f == nil {
		return textResult("Classified as a duplicate or retraction; nothing new was stored.", false), nil, nil
	}

	return textResult(fmt.Sprintf("Stored (id=%s, category=%q, tier=%q).", f.ID, f.Category, f.Tier), false), nil, nil
}

func (ms *MemoryServer) HandleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Query) == "" {
		return textResult("Error: query is required", true), nil, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	cfg := ms.engine.Config.AutoRecall
	cfg.Limit = limit
	cfg.InjectionFormat = memstore.FormatFull

	result, err := ms.engine.Retriever.Retrieve(ctx, input.Query, cfg, ms.engine.Config.Graph, ms.engine.Config.Search, retriever.Options{
		ScopeFilter: memstore.Scope(input.ScopeFilter),
	})
	if err != nil {
		return textResult(fmt.Sprintf("Error searching: %v", err), true), nil, nil
	}
	if result.Text == "" {
		return textResult("No matching memories found.", false), nil, nil
	}
	return textResult(result.Text, false), nil, nil
}

func (ms *MemoryServer) HandleLookup(ctx context.Context, _ *mcp.CallToolRequest, input LookupInput) (*mcp.CallToolResult, any, error) {
	if input.Entity == "" && input.Key == "" && input.Tag == "" {
		return textResult("Error: provide at least one of entity, key, or tag", true), nil, nil
	}

	facts, err := ms.engine.Lookup(ctx, input.Entity, input.Key, input.Tag, memstore.LookupOpts{
		ScopeFilter: memstore.Scope(input.ScopeFilter),
	})
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	if len(facts) == 0 {
		return textResult("No matching memories found.", false), nil, nil
	}

	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "[id=%s] %s | %s | %s\n  %s\n\n", f.ID, f.Entity, f.Key, f.Category, f.Text)
	}
	return textResult(b.String(), false), nil, nil
}

func (ms *MemoryServer) HandleForget(ctx context.Context, _ *mcp.CallToolRequest, input ForgetInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.ID) == "" {
		return textResult("Error: id is required", true), nil, nil
	}
	ok, err := ms.engine.Forget(ctx, input.ID)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	if !ok {
		return textResult(fmt.Sprintf("Fact %s not found.", input.ID), false), nil, nil
	}
	return textResult(fmt.Sprintf("Forgot fact %s.", input.ID), false), nil, nil
}

func (ms *MemoryServer) HandleReinforce(ctx context.Context, _ *mcp.CallToolRequest, input ReinforceInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.ID) == "" {
		return textResult("Error: id is required", true), nil, nil
	}
	f, err := ms.engine.Reinforce(ctx, input.ID, input.Quote)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(fmt.Sprintf("Reinforced fact %s (reinforced %d times).", f.ID, f.ReinforcedCount), false), nil, nil
}

func (ms *MemoryServer) HandleLink(ctx context.Context, _ *mcp.CallToolRequest, input LinkInput) (*mcp.CallToolResult, any, error) {
	if input.FromID == "" || input.ToID == "" {
		return textResult("Error: from_id and to_id are required", true), nil, nil
	}
	kind := memstore.LinkKind(strings.ToUpper(input.Kind))
	l, err := ms.engine.Link(ctx, input.FromID, input.ToID, kind, input.Strength)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(fmt.Sprintf("Linked %s -%s-> %s (strength %.2f).", l.FromID, l.Kind, l.ToID, l.Strength), false), nil, nil
}

func (ms *MemoryServer) HandleGraph(ctx context.Context, _ *mcp.CallToolRequest, input GraphInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.ID) == "" {
		return textResult("Error: id is required", true), nil, nil
	}
	view, err := ms.engine.Graph(ctx, input.ID, input.Depth)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Facts (%d):\n", len(view.Facts))
	for _, f := range view.Facts {
		fmt.Fprintf(&b, "  [id=%s] %s\n", f.ID, f.Text)
	}
	fmt.Fprintf(&b, "\nLinks (%d):\n", len(view.Links))
	for _, l := range view.Links {
		fmt.Fprintf(&b, "  %s -%s(%.2f)-> %s\n", l.FromID, l.Kind, l.Strength, l.ToID)
	}
	return textResult(b.String(), false), nil, nil
}

func (ms *MemoryServer) HandleReflect(ctx context.Context, _ *mcp.CallToolRequest, input ReflectInput) (*mcp.CallToolResult, any, error) {
	window := time.Duration(0)
	if input.WindowHours > 0 {
		window = time.Duration(input.WindowHours) * time.Hour
	}
	out, err := ms.engine.Reflect(ctx, window)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	if out == "" {
		return textResult("Nothing to reflect on yet.", false), nil, nil
	}
	return textResult(out, false), nil, nil
}

func (ms *MemoryServer) HandleCheckpoint(ctx context.Context, _ *mcp.CallToolRequest, input CheckpointInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Label) == "" {
		return textResult("Error: label is required", true), nil, nil
	}
	f, err := ms.engine.Checkpoint(ctx, input.Label)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(fmt.Sprintf("Checkpoint stored (id=%s).", f.ID), false), nil, nil
}

func (ms *MemoryServer) HandlePrune(ctx context.Context, _ *mcp.CallToolRequest, input PruneInput) (*mcp.CallToolResult, any, error) {
	mode := coordinator.PruneMode(input.Mode)
	if mode == "" {
		mode = coordinator.PruneAll
	}
	counts, err := ms.engine.Prune(ctx, mode)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(fmt.Sprintf("Hard-pruned %d, soft-decayed %d, soft-expired %d, demoted %d completed / promoted %d blockers / demoted %d stale / evicted %d over budget.",
		counts.HardPruned, counts.SoftDecayed, counts.SoftExpired,
		counts.Compaction.DemotedCompleted, counts.Compaction.PromotedBlockers, counts.Compaction.DemotedStale, len(counts.Compaction.EvictedOverBudget)), false), nil, nil
}

func (ms *MemoryServer) HandleStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, any, error) {
	s := ms.engine.Stats(ctx)
	return textResult(fmt.Sprintf("Hot-tier facts: %d\nVector records: %d", s.HotFacts, s.VectorCount), false), nil, nil
}

// textResult builds a CallToolResult with a single text content block.
func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: isError,
	}
}

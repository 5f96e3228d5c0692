package mcpserver_test

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"testing"

	"github.com/matthewjhunter/memstore"
	"github.com/matthewjhunter/memstore/coordinator"
	"github.com/matthewjhunter/memstore/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"
)

// --- test helpers ---

type mockEmbedder struct {
	dim       int
	callCount int
	err       error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		emb := make([]float32, m.dim)
		for j := range emb {
			emb[j] = float32(i+1) * 0.1 * float32(j+1)
		}
		result[i] = emb
	}
	return result, nil
}

func (m *mockEmbedder) Model() string { return "mock" }

func newTestServer(t *testing.T) (*mcpserver.MemoryServer, *coordinator.Coordinator, *mockEmbedder) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	facts, err := memstore.NewSQLiteFactStore(db)
	if err != nil {
		t.Fatal(err)
	}

	vectors, err := memstore.NewSQLiteVectorStore(db, true)
	if err != nil {
		t.Fatal(err)
	}

	embedder := &mockEmbedder{dim: 4}
	cfg := memstore.DefaultConfig(t.TempDir() + "/wal.jsonl")
	cfg.Store.ClassifyBeforeWrite = false

	eng, err := coordinator.New(cfg, facts, vectors, embedder, nil, log.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eng.Stop)

	return mcpserver.NewMemoryServer(eng), eng, embedder
}

// resultText extracts the text from a CallToolResult's first content block.
func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if r == nil {
		t.Fatal("nil result")
	}
	if len(r.Content) == 0 {
		t.Fatal("empty content")
	}
	tc, ok := r.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", r.Content[0])
	}
	return tc.Text
}

// storeFact is a test helper that commits a fact through the coordinator.
func storeFact(t *testing.T, eng *coordinator.Coordinator, text, entity, category string) *memstore.Fact {
	t.Helper()
	f, err := eng.Store(context.Background(), memstore.StoreInput{
		Text:     text,
		Entity:   entity,
		Category: memstore.Category(category),
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// --- memory_store tests ---

func TestHandleStore_Basic(t *testing.T) {
	srv, _, emb := newTestServer(t)
	ctx := context.Background()

	result, _, err := srv.HandleStore(ctx, nil, mcpserver.StoreInput{
		Text:   "Matthew prefers dark mode",
		Entity: "matthew",
	})
	if err != nil {
		t.Fatal(err)
	}

	text := resultText(t, result)
	if !strings.Contains(text, "Stored") {
		t.Errorf("expected success message, got: %s", text)
	}
	if !strings.Contains(text, `category="other"`) {
		t.Errorf("expected default category 'other', got: %s", text)
	}
	if result.IsError {
		t.Error("expected IsError=false")
	}
	if emb.callCount == 0 {
		t.Error("expected at least one embed call")
	}
}

func TestHandleStore_WithCategory(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, err := srv.HandleStore(ctx, nil, mcpserver.StoreInput{
		Text:     "Matthew prefers dark mode",
		Entity:   "matthew",
		Category: "preference",
	})
	if err != nil {
		t.Fatal(err)
	}

	text := resultText(t, result)
	if !strings.Contains(text, `category="preference"`) {
		t.Errorf("expected category 'preference', got: %s", text)
	}
}

func TestHandleStore_UnknownCategory(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, _ := srv.HandleStore(ctx, nil, mcpserver.StoreInput{
		Text:     "Some fact",
		Category: "not-a-real-category",
	})
	if !result.IsError {
		t.Error("expected error for unknown category")
	}
}

func TestHandleStore_ScopeRequiresTarget(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, _ := srv.HandleStore(ctx, nil, mcpserver.StoreInput{
		Text:  "A user-scoped fact",
		Scope: "user",
	})
	if !result.IsError {
		t.Error("expected error for user scope missing scope_target")
	}
}

func TestHandleStore_EmptyText(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, _ := srv.HandleStore(ctx, nil, mcpserver.StoreInput{Text: ""})
	if !result.IsError {
		t.Error("expected error for empty text")
	}
}

// --- memory_search tests ---

func TestHandleSearch_Basic(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx := context.Background()

	storeFact(t, eng, "Matthew prefers dark mode", "matthew", "preference")
	storeFact(t, eng, "Matthew uses Go for backend work", "matthew", "fact")
	storeFact(t, eng, "The project uses SQLite", "memstore", "fact")

	result, _, err := srv.HandleSearch(ctx, nil, mcpserver.SearchInput{
		Query: "dark mode preference",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, result))
	}
}

func TestHandleSearch_NoResults(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, _ := srv.HandleSearch(ctx, nil, mcpserver.SearchInput{
		Query: "nonexistent topic",
	})

	text := resultText(t, result)
	if !strings.Contains(text, "No matching") {
		t.Errorf("expected 'No matching' message, got: %s", text)
	}
}

func TestHandleSearch_EmptyQuery(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, _ := srv.HandleSearch(ctx, nil, mcpserver.SearchInput{Query: ""})
	if !result.IsError {
		t.Error("expected error for empty query")
	}
}

// --- memory_lookup tests ---

func TestHandleLookup_Basic(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx := context.Background()

	storeFact(t, eng, "Matthew prefers dark mode", "matthew", "preference")
	storeFact(t, eng, "memstore uses SQLite", "memstore", "fact")

	result, _, err := srv.HandleLookup(ctx, nil, mcpserver.LookupInput{Entity: "matthew"})
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "dark mode") {
		t.Errorf("expected matthew's fact, got: %s", text)
	}
	if strings.Contains(text, "SQLite") {
		t.Error("lookup by entity should not return memstore's fact")
	}
}

func TestHandleLookup_NoFilter(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, _ := srv.HandleLookup(ctx, nil, mcpserver.LookupInput{})
	if !result.IsError {
		t.Error("expected error when no filter is provided")
	}
}

// --- memory_forget tests ---

func TestHandleForget_Basic(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx := context.Background()

	f := storeFact(t, eng, "Old fact to delete", "test", "other")

	result, _, err := srv.HandleForget(ctx, nil, mcpserver.ForgetInput{ID: f.ID})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, result))
	}

	text := resultText(t, result)
	if !strings.Contains(text, "Forgot") {
		t.Errorf("expected 'Forgot' message, got: %s", text)
	}

	got, err := eng.Facts.GetByID(ctx, f.ID, memstore.GetByIDOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected fact to be gone after forget")
	}
}

func TestHandleForget_EmptyID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, _ := srv.HandleForget(ctx, nil, mcpserver.ForgetInput{ID: ""})
	if !result.IsError {
		t.Error("expected error for empty id")
	}
}

// --- memory_link / memory_graph tests ---

func TestHandleLink_AndGraph(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx := context.Background()

	a := storeFact(t, eng, "Service A depends on service B", "service-a", "fact")
	b := storeFact(t, eng, "Service B runs the database", "service-b", "fact")

	linkResult, _, err := srv.HandleLink(ctx, nil, mcpserver.LinkInput{
		FromID: a.ID, ToID: b.ID, Kind: "depends_on", Strength: 0.9,
	})
	if err != nil {
		t.Fatal(err)
	}
	if linkResult.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, linkResult))
	}

	graphResult, _, err := srv.HandleGraph(ctx, nil, mcpserver.GraphInput{ID: a.ID})
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, graphResult)
	if !strings.Contains(text, b.ID) {
		t.Errorf("expected graph to include linked fact %s, got: %s", b.ID, text)
	}
}

func TestHandleLink_SameEndpoint(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx := context.Background()

	a := storeFact(t, eng, "A fact", "x", "other")
	result, _, _ := srv.HandleLink(ctx, nil, mcpserver.LinkInput{FromID: a.ID, ToID: a.ID, Kind: "RELATED_TO"})
	if !result.IsError {
		t.Error("expected error linking a fact to itself")
	}
}

// --- memory_checkpoint / memory_stats tests ---

func TestHandleCheckpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ctx := context.Background()

	result, _, err := srv.HandleCheckpoint(ctx, nil, mcpserver.CheckpointInput{Label: "halfway through migration"})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, result))
	}
}

func TestHandleStats(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx := context.Background()

	storeFact(t, eng, "Matthew prefers dark mode", "matthew", "preference")

	result, _, err := srv.HandleStats(ctx, nil, mcpserver.StatsInput{})
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Hot-tier facts") {
		t.Errorf("expected stats output, got: %s", text)
	}
}

// --- memory_prune tests ---

func TestHandlePrune_All(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	ctx := context.Background()

	storeFact(t, eng, "A checkpoint-like fact", "x", "other")

	result, _, err := srv.HandlePrune(ctx, nil, mcpserver.PruneInput{})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", resultText(t, result))
	}
}

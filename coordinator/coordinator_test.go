package coordinator_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/matthewjhunter/memstore"
	"github.com/matthewjhunter/memstore/coordinator"
	"github.com/matthewjhunter/memstore/retriever"
	_ "modernc.org/sqlite"
)

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, s.dim)
		for j := range v {
			v[j] = float32(i+1) * 0.1 * float32(j+1)
		}
		out[i] = v
	}
	return out, nil
}
func (s *stubEmbedder) Model() string { return "stub" }

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
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

	cfg := memstore.DefaultConfig(t.TempDir() + "/wal.jsonl")
	cfg.Store.ClassifyBeforeWrite = false

	eng, err := coordinator.New(cfg, facts, vectors, &stubEmbedder{dim: 4}, nil, log.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eng.Stop)
	return eng
}

func TestStoreAndLookup(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	f, err := eng.Store(ctx, memstore.StoreInput{
		Text: "Matthew prefers dark mode", Entity: "matthew", Category: memstore.CategoryPreference,
	})
	if err != nil {
		t.Fatal(err)
	}
	if f == nil {
		t.Fatal("expected a stored fact")
	}
	if len(f.Embedding) == 0 {
		t.Error("expected fact to carry the computed embedding")
	}

	got, err := eng.Lookup(ctx, "matthew", "", "", memstore.LookupOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("lookup = %d facts, want 1", len(got))
	}
}

func TestForgetRemovesFactAndLinks(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	a, err := eng.Store(ctx, memstore.StoreInput{Text: "Service A depends on service B", Entity: "service-a", Category: memstore.CategoryFact})
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Store(ctx, memstore.StoreInput{Text: "Service B runs the database", Entity: "service-b", Category: memstore.CategoryFact})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Link(ctx, a.ID, b.ID, memstore.LinkDependsOn, 0.9); err != nil {
		t.Fatal(err)
	}

	ok, err := eng.Forget(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected Forget to report success")
	}

	got, err := eng.Facts.GetByID(ctx, a.ID, memstore.GetByIDOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected forgotten fact to be gone")
	}

	neighbors, err := eng.Facts.Neighbors(ctx, b.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 0 {
		t.Errorf("expected no dangling links after forget, got %d", len(neighbors))
	}
}

func TestLinkRejectsSelfLoop(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	f, err := eng.Store(ctx, memstore.StoreInput{Text: "A fact", Entity: "x", Category: memstore.CategoryOther})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Link(ctx, f.ID, f.ID, memstore.LinkRelatedTo, 0.5); err == nil {
		t.Error("expected an error linking a fact to itself")
	}
}

func TestGraphReturnsNeighborhood(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	a, err := eng.Store(ctx, memstore.StoreInput{Text: "Service A depends on service B", Entity: "service-a", Category: memstore.CategoryFact})
	if err != nil {
		t.Fatal(err)
	}
	b, err := eng.Store(ctx, memstore.StoreInput{Text: "Service B runs the database", Entity: "service-b", Category: memstore.CategoryFact})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Link(ctx, a.ID, b.ID, memstore.LinkDependsOn, 0.9); err != nil {
		t.Fatal(err)
	}

	view, err := eng.Graph(ctx, a.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Facts) != 2 {
		t.Fatalf("graph facts = %d, want 2", len(view.Facts))
	}
}

func TestReinforceIncrementsCountAndAppendsQuote(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	f, err := eng.Store(ctx, memstore.StoreInput{Text: "Matthew prefers dark mode", Entity: "matthew", Category: memstore.CategoryPreference})
	if err != nil {
		t.Fatal(err)
	}

	got, err := eng.Reinforce(ctx, f.ID, "yeah still dark mode")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReinforcedCount != 1 {
		t.Errorf("reinforced count = %d, want 1", got.ReinforcedCount)
	}
	if got.LastReinforcedAt == nil {
		t.Error("expected lastReinforcedAt to be set")
	}
	if len(got.ReinforcedQuotes) != 1 || got.ReinforcedQuotes[0] != "yeah still dark mode" {
		t.Errorf("reinforced quotes = %v", got.ReinforcedQuotes)
	}

	got, err = eng.Reinforce(ctx, f.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ReinforcedCount != 2 {
		t.Errorf("reinforced count = %d, want 2", got.ReinforcedCount)
	}
	if len(got.ReinforcedQuotes) != 1 {
		t.Errorf("expected empty quote not appended, got %v", got.ReinforcedQuotes)
	}
}

func TestReinforceUnknownIDReturnsError(t *testing.T) {
	eng := newTestCoordinator(t)
	if _, err := eng.Reinforce(context.Background(), "does-not-exist", ""); err == nil {
		t.Fatal("expected an error reinforcing an unknown id")
	}
}

func TestGraphUnknownID(t *testing.T) {
	eng := newTestCoordinator(t)
	_, err := eng.Graph(context.Background(), "does-not-exist", 1)
	if err == nil {
		t.Fatal("expected ErrNotFound for unknown id")
	}
}

func TestCheckpointStoresCheckpointFact(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	f, err := eng.Checkpoint(ctx, "halfway through migration")
	if err != nil {
		t.Fatal(err)
	}
	if f.DecayClass != memstore.DecayCheckpoint {
		t.Errorf("decay class = %q, want %q", f.DecayClass, memstore.DecayCheckpoint)
	}
}

func TestPruneAllRunsWithoutError(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, memstore.StoreInput{Text: "A fact", Entity: "x", Category: memstore.CategoryOther}); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Prune(ctx, coordinator.PruneAll); err != nil {
		t.Fatal(err)
	}
}

func TestStatsReportsHotFactsAndVectorCount(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, memstore.StoreInput{Text: "Matthew prefers dark mode", Entity: "matthew", Category: memstore.CategoryPreference}); err != nil {
		t.Fatal(err)
	}

	stats := eng.Stats(ctx)
	if stats.HotFacts == 0 {
		t.Error("expected at least one hot fact")
	}
	if stats.VectorCount == 0 {
		t.Error("expected at least one vector record")
	}
}

func TestOnTurnStartInjectsHotMemories(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := eng.Store(ctx, memstore.StoreInput{Text: "Matthew prefers dark mode", Entity: "matthew", Category: memstore.CategoryPreference}); err != nil {
		t.Fatal(err)
	}

	out := eng.OnTurnStart(ctx, "what editor theme does matthew like?", nil, retriever.Options{})
	if out == "" {
		t.Error("expected a non-empty injection envelope")
	}
}

func TestOnTurnEndCapturesCandidates(t *testing.T) {
	eng := newTestCoordinator(t)
	ctx := context.Background()

	eng.OnTurnEnd(ctx, []string{"I prefer dark mode for my editor."}, memstore.ScopeGlobal, "")

	stats := eng.Stats(ctx)
	if stats.HotFacts == 0 {
		t.Error("expected auto-capture to store at least one fact")
	}
}

func TestOnSessionEndResetsAuthDetectorCache(t *testing.T) {
	eng := newTestCoordinator(t)
	if err := eng.OnSessionEnd(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestWALRecoveryReplaysPendingStore(t *testing.T) {
	walPath := t.TempDir() + "/wal.jsonl"
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	facts, err := memstore.NewSQLiteFactStore(db)
	if err != nil {
		t.Fatal(err)
	}

	wal := memstore.NewWAL(walPath)
	in := memstore.StoreInput{Text: "Recovered fact", Entity: "x", Category: memstore.CategoryOther}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := wal.Append(memstore.WALEntry{ID: "entry-1", Timestamp: time.Now().UTC(), Operation: memstore.WALStore, Data: data}); err != nil {
		t.Fatal(err)
	}

	cfg := memstore.DefaultConfig(walPath)
	cfg.Store.ClassifyBeforeWrite = false
	eng, err := coordinator.New(cfg, facts, nil, nil, nil, log.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer eng.Stop()

	got, err := facts.Lookup(context.Background(), "x", "", "", memstore.LookupOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the pending wal entry to be replayed into the fact store, got %d facts", len(got))
	}
}

package retriever

import (
	"context"
	"strings"
	"testing"

	"github.com/matthewjhunter/memstore"
)

func TestFormatLineFull(t *testing.T) {
	f := memstore.Fact{Category: memstore.CategoryFact, Text: "Alice lives in Portland"}
	line := formatLine(f, memstore.FormatFull, false, 0)
	if !strings.HasPrefix(line, "- [fts/fact]") {
		t.Fatalf("got %q", line)
	}
}

func TestFormatLineMinimalTruncates(t *testing.T) {
	f := memstore.Fact{Text: "this is a fairly long piece of text that should be truncated"}
	line := formatLine(f, memstore.FormatMinimal, false, 10)
	if !strings.Contains(line, "…") {
		t.Fatalf("expected ellipsis in truncated line, got %q", line)
	}
}

func TestShapeFlatRespectsTokenBudget(t *testing.T) {
	ranked := []scored{
		{fact: memstore.Fact{ID: "1", Text: strings.Repeat("a", 400)}, score: 2},
		{fact: memstore.Fact{ID: "2", Text: strings.Repeat("b", 400)}, score: 1},
	}
	cfg := memstore.AutoRecallConfig{InjectionFormat: memstore.FormatMinimal, MaxTokens: 50}
	res := shape(context.Background(), ranked, cfg, nil)
	if len(res.injectedIDs) != 1 || res.injectedIDs[0] != "1" {
		t.Fatalf("expected only the higher-scored fact to fit budget, got %v", res.injectedIDs)
	}
}

func TestShapeProgressiveHybridPinsPermanent(t *testing.T) {
	ranked := []scored{
		{fact: memstore.Fact{ID: "perm", DecayClass: memstore.DecayPermanent, Text: "permanent fact"}, score: 1},
		{fact: memstore.Fact{ID: "reg", DecayClass: memstore.DecayStable, Text: "regular fact"}, score: 1},
	}
	cfg := memstore.AutoRecallConfig{
		InjectionFormat:              memstore.FormatProgressiveHybrid,
		ProgressivePinnedRecallCount: 5,
		ProgressiveIndexMaxTokens:    1000,
	}
	res := shapeProgressive(ranked, cfg, true)
	if !strings.Contains(res.text, "permanent fact") {
		t.Fatalf("expected pinned permanent fact rendered in full, got %q", res.text)
	}
	if len(res.injectedIDs) != 2 {
		t.Fatalf("expected both facts represented, got %v", res.injectedIDs)
	}
}

func TestShapeProgressiveGroupsByCategory(t *testing.T) {
	ranked := []scored{
		{fact: memstore.Fact{ID: "1", Category: memstore.CategoryPreference, Text: "prefers dark mode"}, score: 3},
		{fact: memstore.Fact{ID: "2", Category: memstore.CategoryFact, Text: "lives in Portland"}, score: 2},
		{fact: memstore.Fact{ID: "3", Category: memstore.CategoryPreference, Text: "prefers tabs"}, score: 1},
	}
	cfg := memstore.AutoRecallConfig{
		InjectionFormat:            memstore.FormatProgressive,
		ProgressiveIndexMaxTokens:  1000,
		ProgressiveGroupByCategory: true,
	}
	res := shapeProgressive(ranked, cfg, false)

	prefIdx := strings.Index(res.text, "[preference]")
	factIdx := strings.Index(res.text, "[fact]")
	if prefIdx == -1 || factIdx == -1 {
		t.Fatalf("expected both category headers, got %q", res.text)
	}
	if prefIdx > factIdx {
		t.Fatalf("expected preference group (higher score) before fact group, got %q", res.text)
	}
	if len(res.injectedIDs) != 3 {
		t.Fatalf("expected all 3 facts injected, got %v", res.injectedIDs)
	}
}

type stubChat struct {
	resp string
	err  error
}

func (s stubChat) Complete(ctx context.Context, req memstore.ChatRequest) (string, error) {
	return s.resp, s.err
}

func TestShapeFlatSummarizesOverBudget(t *testing.T) {
	ranked := []scored{
		{fact: memstore.Fact{ID: "1", Text: strings.Repeat("a", 400)}, score: 2},
		{fact: memstore.Fact{ID: "2", Text: strings.Repeat("b", 400)}, score: 1},
	}
	cfg := memstore.AutoRecallConfig{
		InjectionFormat:         memstore.FormatMinimal,
		MaxTokens:               50,
		SummarizeWhenOverBudget: true,
	}
	res := shape(context.Background(), ranked, cfg, stubChat{resp: "a short summary"})
	if res.text != "a short summary" {
		t.Fatalf("got %q", res.text)
	}
	if len(res.injectedIDs) != 2 {
		t.Fatalf("expected both facts counted as injected when summarized, got %v", res.injectedIDs)
	}
}

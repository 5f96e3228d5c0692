package retriever

import (
	"testing"
	"time"

	"github.com/matthewjhunter/memstore"
)

func factPtr(id string, createdAt time.Time) *memstore.Fact {
	return &memstore.Fact{ID: id, Text: id, CreatedAt: createdAt}
}

func TestRRFFuseCombinesAppearancesAcrossLists(t *testing.T) {
	now := time.Now()
	a := []rankedID{{id: "1", fact: factPtr("1", now)}, {id: "2", fact: factPtr("2", now)}}
	b := []rankedID{{id: "2", fact: factPtr("2", now)}, {id: "3", fact: factPtr("3", now)}}

	out := rrfFuse(a, b)

	scores := make(map[string]float64)
	for _, f := range out {
		scores[f.id] = f.score
	}

	if scores["2"] <= scores["1"] || scores["2"] <= scores["3"] {
		t.Fatalf("fact appearing in both lists should outrank facts appearing once: %+v", scores)
	}
}

func TestRRFFuseBreaksTiesByDate(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	// Each fact appears alone at rank 0 in its own list, so both receive
	// an identical RRF contribution and the tie-break rule decides order.
	a := []rankedID{{id: "old", fact: factPtr("old", older)}}
	b := []rankedID{{id: "new", fact: factPtr("new", newer)}}

	out := rrfFuse(a, b)
	if out[0].id != "new" {
		t.Fatalf("expected newer fact to break the tie, got order %v", []string{out[0].id, out[1].id})
	}
}

func TestRRFFuseEmptyInput(t *testing.T) {
	if out := rrfFuse(); len(out) != 0 {
		t.Fatalf("expected empty fusion result, got %d", len(out))
	}
}

package retriever

import (
	"sort"
	"time"

	"github.com/matthewjhunter/memstore"
)

// rrfK is the Reciprocal Rank Fusion constant (spec §4.5: "k = 60"),
// grounded line-for-line on sqvect's recall.go rrfFuse.
const rrfK = 60

// rankedID is one backend's ranked hit, keyed by fact id, used as the
// input to rrfFuse.
type rankedID struct {
	id   string
	fact *memstore.Fact // nil when the backend only returns an id + score
}

// fused is one fact after fusion, before post-fusion adjustments.
type fused struct {
	id    string
	fact  *memstore.Fact
	score float64
}

// rrfFuse merges ranked lists from multiple backends (FTS, ANN) via
// Reciprocal Rank Fusion: score(c) = sum over backends where c appears of
// 1/(k + rank), fact-store rows attached where available. Ties are broken
// by (sourceDate ?? createdAt) desc, per spec §4.5.
func rrfFuse(lists ...[]rankedID) []fused {
	type accumulator struct {
		score float64
		fact  *memstore.Fact
	}
	acc := make(map[string]*accumulator)

	for _, list := range lists {
		for rank, item := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			a, ok := acc[item.id]
			if !ok {
				a = &accumulator{}
				acc[item.id] = a
			}
			a.score += contribution
			if item.fact != nil {
				a.fact = item.fact
			}
		}
	}

	out := make([]fused, 0, len(acc))
	for id, a := range acc {
		out = append(out, fused{id: id, fact: a.fact, score: a.score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return tieBreakDate(out[i].fact).After(tieBreakDate(out[j].fact))
	})
	return out
}

func tieBreakDate(f *memstore.Fact) time.Time {
	if f == nil {
		return time.Time{}
	}
	if f.SourceDate != nil {
		return *f.SourceDate
	}
	return f.CreatedAt
}

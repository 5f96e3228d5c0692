package retriever

import (
	"context"
	"strings"

	"github.com/matthewjhunter/memstore"
)

// entityMatches returns every configured entity that appears
// case-insensitively in prompt (spec §4.5: "if the prompt contains any
// configured entity").
func entityMatches(prompt string, entities []string) []string {
	lower := strings.ToLower(prompt)
	var matched []string
	for _, e := range entities {
		if e == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(e)) {
			matched = append(matched, e)
		}
	}
	return matched
}

// entityLookupCandidates fetches up to maxPerEntity lookup() results for
// each matched entity, merged into a single rankedID list for fusion.
func entityLookupCandidates(ctx context.Context, facts memstore.FactStore, entities []string, maxPerEntity int, scopeFilter memstore.Scope) []rankedID {
	var out []rankedID
	for _, e := range entities {
		hits, err := facts.Lookup(ctx, e, "", "", memstore.LookupOpts{ScopeFilter: scopeFilter})
		if err != nil {
			continue
		}
		if maxPerEntity > 0 && len(hits) > maxPerEntity {
			hits = hits[:maxPerEntity]
		}
		for _, f := range hits {
			fCopy := f
			out = append(out, rankedID{id: f.ID, fact: &fCopy})
		}
	}
	return out
}

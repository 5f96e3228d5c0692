package capture

import (
	"regexp"

	"github.com/matthewjhunter/memstore"
)

// categoryRule maps a regex to the category it implies when it matches.
// Rules are tried in order; the first match wins (spec §4.4 step 4:
// "regex-only, no LLM... exactly one category... unresolved => other").
type categoryRule struct {
	category memstore.Category
	pattern  *regexp.Regexp
}

var categoryRules = []categoryRule{
	{memstore.CategoryPreference, regexp.MustCompile(`(?i)\b(prefer|like|favorite|favourite|hate|dislike|always use|never use)\b`)},
	{memstore.CategoryDecision, regexp.MustCompile(`(?i)\b(decided|decision|going with|we'll use|let's use|chose|chosen)\b`)},
	{memstore.CategoryRule, regexp.MustCompile(`(?i)\b(always|never|must|should|from now on|don't)\b`)},
	{memstore.CategoryEntity, regexp.MustCompile(`(?i)\b(named|called|is a|works at|lives in|aka)\b`)},
	{memstore.CategoryPattern, regexp.MustCompile(`(?i)\b(pattern|tends to|usually|typically|every time)\b`)},
	{memstore.CategoryProcedure, regexp.MustCompile(`(?i)\b(to do this|the steps are|first.*then|recipe for)\b`)},
	{memstore.CategoryFact, regexp.MustCompile(`(?i)\b(is|was|has|have)\b`)},
}

// detectCategory returns the first categoryRule whose pattern matches
// text, or CategoryOther if none does.
func detectCategory(text string) memstore.Category {
	for _, r := range categoryRules {
		if r.pattern.MatchString(text) {
			return r.category
		}
	}
	return memstore.CategoryOther
}

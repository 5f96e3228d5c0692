package capture

import (
	"regexp"
	"strings"
)

// fieldRule extracts (entity, key, value) from text matching pattern,
// whose named capture groups are "entity", "key", "value" (any may be
// absent from a given pattern).
type fieldRule struct {
	pattern *regexp.Regexp
}

// fieldRules implement spec §4.4 step 5's "shallow rules... for common
// shapes": possessive ("X's Y is Z"), first-person preference ("I prefer
// X"), and first-person identity assignment ("my email is X").
var fieldRules = []fieldRule{
	{regexp.MustCompile(`(?i)^(?P<entity>[\w ]+?)'s (?P<key>[\w ]+?) is (?P<value>.+)$`)},
	{regexp.MustCompile(`(?i)^i prefer (?P<value>.+)$`)},
	{regexp.MustCompile(`(?i)^my (?P<key>[\w ]+?) is (?P<value>.+)$`)},
	{regexp.MustCompile(`(?i)^(?P<entity>[\w ]+?) (?:is|works at|lives in) (?P<value>.+)$`)},
}

// extractFields runs fieldRules against text and returns the first match's
// named groups. Unmatched groups are left as the empty string.
func extractFields(text string) (entity, key, value string) {
	trimmed := strings.TrimSpace(text)
	for _, r := range fieldRules {
		m := r.pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		names := r.pattern.SubexpNames()
		for i, name := range names {
			switch name {
			case "entity":
				entity = strings.TrimSpace(m[i])
			case "key":
				key = strings.TrimSpace(m[i])
			case "value":
				value = strings.TrimSpace(m[i])
			}
		}
		if key == "" {
			key = "preference"
		}
		return entity, key, value
	}
	return "", "", ""
}

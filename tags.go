package memstore

import (
	"regexp"
	"sort"
	"strings"
)

// tagRule maps a regex over the fact text (and, separately, the entity) to
// a tag emitted when it matches. Rules live in one place so the fact store
// and the capture pipeline classify identically without an import cycle
// between them (capture imports this package, never the reverse).
type tagRule struct {
	tag     string
	pattern *regexp.Regexp
}

var tagRules = []tagRule{
	{"credential", regexp.MustCompile(`(?i)\b(password|api[ -]?key|secret|token|credential)\b`)},
	{"preference", regexp.MustCompile(`(?i)\b(prefer|like|favorite|favourite|hate|dislike)\b`)},
	{"deadline", regexp.MustCompile(`(?i)\b(deadline|due date|due by|expires?)\b`)},
	{"contact", regexp.MustCompile(`(?i)\b(email|phone number|address|contact)\b`)},
	{"project", regexp.MustCompile(`(?i)\b(project|repo|repository|codebase)\b`)},
	{"decision", regexp.MustCompile(`(?i)\b(decided|decision|going with|chose|chosen)\b`)},
	{"blocker", regexp.MustCompile(`(?i)\b(blocked|blocker|blocking|waiting on)\b`)},
	{"task", regexp.MustCompile(`(?i)\b(todo|task|sprint|backlog|ticket)\b`)},
	{"relationship", regexp.MustCompile(`(?i)\b(works with|reports to|manager|teammate|colleague)\b`)},
}

// InferTags regex-matches text (and, loosely, entity) against tagRules,
// returning the sorted set of distinct tags that matched. It never returns
// nil for non-empty input that matches no rule; it returns an empty slice.
func InferTags(text, entity string) []string {
	seen := make(map[string]bool)
	combined := text + " " + entity
	for _, r := range tagRules {
		if r.pattern.MatchString(combined) {
			seen[r.tag] = true
		}
	}
	if len(seen) == 0 {
		return []string{}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// hasTag reports whether tags contains t.
func hasTag(tags []string, t string) bool {
	for _, x := range tags {
		if x == t {
			return true
		}
	}
	return false
}

var credentialHintPattern = regexp.MustCompile(`(?i)\b(password|api[ -]?key|secret|token|credential|auth)\b`)

// LooksLikeCredentialHint reports whether text resembles a credential or
// auth-related fact, used by the auth-failure reactive recall path (spec
// §4.5) to bias retrieval toward credential facts after a tool auth error.
func LooksLikeCredentialHint(text string) bool {
	return credentialHintPattern.MatchString(text)
}

var taskPattern = regexp.MustCompile(`(?i)\b(todo|task|sprint|backlog|ticket)\b`)
var donePattern = regexp.MustCompile(`(?i)\b(done|completed|finished|shipped|closed|merged)\b`)
var blockerPattern = regexp.MustCompile(`(?i)\b(blocked|blocker|blocking|waiting on)\b`)

func looksLikeCompletedTask(key, value, text string) bool {
	combined := strings.ToLower(key + " " + value + " " + text)
	return taskPattern.MatchString(combined) && donePattern.MatchString(combined)
}

func looksLikeActiveBlocker(key, value, text string) bool {
	combined := strings.ToLower(key + " " + value + " " + text)
	return blockerPattern.MatchString(combined) && !donePattern.MatchString(combined)
}

package capture

import (
	"regexp"
	"strings"
)

// minCaptureChars is the lower length bound for a capture candidate (spec
// §4.4 step 1: "Length in [10, captureMaxChars]").
const minCaptureChars = 10

// shapeFilter enforces the length window, truncating text that exceeds
// maxChars rather than rejecting it, and rejecting text shorter than
// minCaptureChars outright.
func shapeFilter(text string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minCaptureChars {
		return "", false
	}
	if maxChars > 0 && len(trimmed) > maxChars {
		trimmed = trimmed[:maxChars]
	}
	return trimmed, true
}

// secretPatterns are the configured secret regexes the sensitivity filter
// rejects outright (spec §4.4 step 2): AWS access keys, bearer tokens,
// private-key PEM headers, DB connection strings, password-ish
// assignments.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/-]{20,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\b\w+://[^:@/\s]+:[^@/\s]+@[^/\s]+`),
	regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key)\s*[:=]\s*\S+`),
}

// sensitivityFilter reports whether text should be rejected because it
// matches one of secretPatterns plus any caller-supplied patterns.
func sensitivityFilter(text string, extra []*regexp.Regexp) bool {
	for _, p := range secretPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	for _, p := range extra {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// triggerFilter reports whether text contains a recognizable trigger
// signal (preference, decision, entity, fact, directive, reinforcement),
// and if so which one. lang selects the keyword table; unknown languages
// fall back to English.
func triggerFilter(text, lang string) (signal string, ok bool) {
	return matchesAnyTrigger(strings.ToLower(text), lang)
}

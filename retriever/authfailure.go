package retriever

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/matthewjhunter/memstore"
)

// authFailurePatterns are the built-in authentication-failure detectors
// (spec §4.5: "SSH permission denied, HTTP 401/403, 'Invalid API
// key'/'token expired'"). Caller-supplied patterns are appended at
// construction time.
var authFailurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)permission denied \(publickey`),
	regexp.MustCompile(`(?i)\b401\b|\bunauthorized\b`),
	regexp.MustCompile(`(?i)\b403\b|\bforbidden\b`),
	regexp.MustCompile(`(?i)invalid api key`),
	regexp.MustCompile(`(?i)token expired`),
}

// targetPattern pulls a plausible target identifier (IP, hostname, URL
// host, or a bare service-looking word) out of tool output near an
// auth-failure match.
var targetPattern = regexp.MustCompile(`(?i)(?:https?://)?([a-z0-9.-]+\.[a-z]{2,}|\d{1,3}(?:\.\d{1,3}){3})`)

// AuthFailureDetector scans tool output for authentication failures and,
// per target, builds a metadata-only credential hint (spec §4.5: "extract
// a target identifier..., build a credential-shaped query, search within
// the current agent's scope, format a metadata-only hint (category/entity
// /key, never the secret)").
type AuthFailureDetector struct {
	patterns            []*regexp.Regexp
	maxRecallsPerTarget int
	seen                map[string]int
}

// NewAuthFailureDetector builds a detector from cfg, compiling any extra
// caller-supplied patterns.
func NewAuthFailureDetector(cfg memstore.AuthFailureConfig) (*AuthFailureDetector, error) {
	patterns := append([]*regexp.Regexp{}, authFailurePatterns...)
	for _, raw := range cfg.Patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("memstore/retriever: compiling auth-failure pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}
	max := cfg.MaxRecallsPerTarget
	if max <= 0 {
		max = 2
	}
	return &AuthFailureDetector{patterns: patterns, maxRecallsPerTarget: max, seen: make(map[string]int)}, nil
}

// Detect reports the target identifier found in toolOutput, if any
// configured auth-failure pattern matches and that target hasn't already
// hit the per-session recall cap.
func (d *AuthFailureDetector) Detect(toolOutput string) (target string, ok bool) {
	matched := false
	for _, p := range d.patterns {
		if p.MatchString(toolOutput) {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	m := targetPattern.FindStringSubmatch(toolOutput)
	if m == nil {
		return "", false
	}
	target = m[1]
	if d.seen[target] >= d.maxRecallsPerTarget {
		return "", false
	}
	return target, true
}

// Reset clears the per-target recall-count cache, used by the lifecycle
// coordinator on session end (spec §4.9: "clear per-session caches (e.g.
// reactive-recall dedup map)").
func (d *AuthFailureDetector) Reset() {
	d.seen = make(map[string]int)
}

// Recall searches for credential-shaped facts about target within scope
// and formats a metadata-only hint line: category/entity/key, never the
// fact's value. Returns "" when nothing credential-shaped is found.
func (d *AuthFailureDetector) Recall(ctx context.Context, facts memstore.FactStore, target string, scope memstore.Scope) (string, error) {
	query := target + " credential password key token"
	hits, err := facts.Search(ctx, query, 5, memstore.FactSearchOpts{ScopeFilter: scope})
	if err != nil {
		return "", fmt.Errorf("memstore/retriever: auth-failure recall: %w", err)
	}

	var lines []string
	for _, h := range hits {
		if !memstore.LooksLikeCredentialHint(h.Fact.Text) && !hasTag(h.Fact.Tags, "credential") {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s/%s] a stored credential hint may apply to %s", h.Fact.Category, valueOrDash(h.Fact.Key), target))
	}
	if len(lines) == 0 {
		return "", nil
	}
	d.seen[target]++
	return strings.Join(lines, "\n"), nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

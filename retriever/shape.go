package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/matthewjhunter/memstore"
)

// scored is a fact paired with its final (post-fusion, post-adjustment)
// score, the unit shape.go works over.
type scored struct {
	fact  memstore.Fact
	score float64
}

// itemText returns the text shape.go renders for f: the summary when
// useSummary is set and present, else the full text, truncated to
// maxChars with an ellipsis (spec §4.5 "Shaping").
func itemText(f memstore.Fact, useSummary bool, maxChars int) string {
	text := f.Text
	if useSummary && f.Summary != "" {
		text = f.Summary
	}
	if maxChars > 0 && len(text) > maxChars {
		if maxChars > 1 {
			text = text[:maxChars-1] + "…"
		} else {
			text = text[:maxChars]
		}
	}
	return text
}

// formatLine renders one fact as a single injection line per spec §6's
// fixed per-format shapes.
func formatLine(f memstore.Fact, format memstore.InjectionFormat, useSummary bool, maxChars int) string {
	text := itemText(f, useSummary, maxChars)
	switch format {
	case memstore.FormatFull:
		backend := "fts"
		if len(f.Embedding) > 0 {
			backend = "vector"
		}
		return fmt.Sprintf("- [%s/%s] %s", backend, f.Category, text)
	case memstore.FormatShort:
		return fmt.Sprintf("- %s: %s", f.Category, text)
	default: // minimal
		return fmt.Sprintf("- %s", text)
	}
}

// progressiveIndexLine renders one progressive-mode index entry: "N.
// [{category}] {title}  (~{tokens}t)".
func progressiveIndexLine(n int, f memstore.Fact, useSummary bool) string {
	title := itemText(f, useSummary, 80)
	tokens := memstore.EstimateTokens(f.Text)
	return fmt.Sprintf("%d. [%s] %s  (~%dt)", n, f.Category, title, tokens)
}

// isPinned reports whether f qualifies for the progressive_hybrid pinned
// set: permanent facts, or facts recalled at least
// progressivePinnedRecallCount times.
func isPinned(f memstore.Fact, minRecallCount int) bool {
	return f.DecayClass == memstore.DecayPermanent || f.RecallCount >= minRecallCount
}

// shapeResult is the output of shaping: the rendered block plus the ids
// that were actually injected (for refresh-on-access and Hebbian
// strengthening).
type shapeResult struct {
	text        string
	injectedIDs []string
}

// shape renders ranked into an injection block honoring cfg's format,
// per-memory char cap, and token budget, falling back to an LLM summary
// when the budget would otherwise force drops and
// cfg.SummarizeWhenOverBudget is set.
func shape(ctx context.Context, ranked []scored, cfg memstore.AutoRecallConfig, chat memstore.ChatModel) shapeResult {
	if len(ranked) == 0 {
		return shapeResult{}
	}

	switch cfg.InjectionFormat {
	case memstore.FormatProgressive:
		return shapeProgressive(ranked, cfg, false)
	case memstore.FormatProgressiveHybrid:
		return shapeProgressive(ranked, cfg, true)
	default:
		return shapeFlat(ctx, ranked, cfg, chat)
	}
}

func shapeFlat(ctx context.Context, ranked []scored, cfg memstore.AutoRecallConfig, chat memstore.ChatModel) shapeResult {
	budget := cfg.MaxTokens
	var lines []string
	var ids []string
	total := 0
	dropped := false

	for _, r := range ranked {
		line := formatLine(r.fact, cfg.InjectionFormat, cfg.UseSummaryInInjection, cfg.MaxPerMemoryChars)
		cost := memstore.EstimateTokens(line)
		if budget > 0 && total+cost > budget {
			dropped = true
			continue
		}
		lines = append(lines, line)
		ids = append(ids, r.fact.ID)
		total += cost
	}

	if dropped && cfg.SummarizeWhenOverBudget && chat != nil {
		if summary, ok := summarizeOverBudget(ctx, chat, ranked); ok {
			ids = make([]string, 0, len(ranked))
			for _, r := range ranked {
				ids = append(ids, r.fact.ID)
			}
			return shapeResult{text: summary, injectedIDs: ids}
		}
	}

	return shapeResult{text: strings.Join(lines, "\n"), injectedIDs: ids}
}

func shapeProgressive(ranked []scored, cfg memstore.AutoRecallConfig, hybrid bool) shapeResult {
	var pinned, rest []scored
	if hybrid {
		for _, r := range ranked {
			if isPinned(r.fact, cfg.ProgressivePinnedRecallCount) {
				pinned = append(pinned, r)
			} else {
				rest = append(rest, r)
			}
		}
	} else {
		rest = ranked
	}

	var lines []string
	var ids []string

	for _, r := range pinned {
		lines = append(lines, formatLine(r.fact, memstore.FormatFull, cfg.UseSummaryInInjection, cfg.MaxPerMemoryChars))
		ids = append(ids, r.fact.ID)
	}

	budget := cfg.ProgressiveIndexMaxTokens
	total := 0
	n := 0

	addLine := func(line string, id string) bool {
		cost := memstore.EstimateTokens(line)
		if budget > 0 && total+cost > budget {
			return false
		}
		lines = append(lines, line)
		ids = append(ids, id)
		total += cost
		return true
	}

	if cfg.ProgressiveGroupByCategory {
		for _, group := range groupByCategory(rest) {
			header := fmt.Sprintf("[%s]", group.category)
			if !addLine(header, "") {
				break
			}
			ids = ids[:len(ids)-1] // header carries no fact id
			budgetExhausted := false
			for _, r := range group.items {
				n++
				if !addLine(progressiveIndexLine(n, r.fact, cfg.UseSummaryInInjection), r.fact.ID) {
					budgetExhausted = true
					break
				}
			}
			if budgetExhausted {
				break
			}
		}
	} else {
		for _, r := range rest {
			n++
			if !addLine(progressiveIndexLine(n, r.fact, cfg.UseSummaryInInjection), r.fact.ID) {
				break
			}
		}
	}

	return shapeResult{text: strings.Join(lines, "\n"), injectedIDs: ids}
}

// categoryGroup is one category's facts in original (ranked) order, used by
// progressive.groupByCategory injection shaping (spec §6
// progressiveGroupByCategory).
type categoryGroup struct {
	category memstore.Category
	items    []scored
}

// groupByCategory buckets items by category, preserving first-seen category
// order and each bucket's relative rank order.
func groupByCategory(items []scored) []categoryGroup {
	index := make(map[memstore.Category]int)
	var groups []categoryGroup
	for _, r := range items {
		i, ok := index[r.fact.Category]
		if !ok {
			index[r.fact.Category] = len(groups)
			groups = append(groups, categoryGroup{category: r.fact.Category})
			i = len(groups) - 1
		}
		groups[i].items = append(groups[i].items, r)
	}
	return groups
}

// summarizeOverBudget asks chat for a single summary of every candidate's
// text, used when the token budget would otherwise force drops (spec
// §4.5: "a single LLM summary of all candidate texts replaces the list;
// on LLM failure, fall back to the truncated bullet list").
func summarizeOverBudget(ctx context.Context, chat memstore.ChatModel, ranked []scored) (string, bool) {
	var b strings.Builder
	b.WriteString("Summarize the following memories into a short paragraph a conversational agent can use as context:\n\n")
	for _, r := range ranked {
		b.WriteString("- ")
		b.WriteString(r.fact.Text)
		b.WriteString("\n")
	}
	summary, err := memstore.CompleteWithRetry(ctx, chat, memstore.ChatRequest{
		Tier:      memstore.ChatTierDefault,
		Prompt:    b.String(),
		MaxTokens: 300,
	})
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(summary), true
}

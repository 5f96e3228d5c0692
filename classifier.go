package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// ClassifyDecision is the closed set of verdicts the classifier (C7) can
// reach about a candidate fact against existing memory.
type ClassifyDecision string

const (
	DecisionAdd    ClassifyDecision = "ADD"
	DecisionUpdate ClassifyDecision = "UPDATE"
	DecisionDelete ClassifyDecision = "DELETE"
	DecisionNoop   ClassifyDecision = "NOOP"
)

func (d ClassifyDecision) Valid() bool {
	switch d {
	case DecisionAdd, DecisionUpdate, DecisionDelete, DecisionNoop:
		return true
	}
	return false
}

// ClassifyResult is the classifier's verdict for one candidate fact.
type ClassifyResult struct {
	Decision  ClassifyDecision
	TargetID  string // set for UPDATE/DELETE
	Rationale string
}

// maxSimilarForClassification bounds the similar-fact shortlist shown to
// the chat model (spec §4.6: "up to 3 similar facts").
const maxSimilarForClassification = 3

// Classifier decides ADD/UPDATE/DELETE/NOOP for a candidate fact against a
// shortlist of similar existing facts (C7), grounded on EternisAI
// evolvingmemory.go's update-vs-add judgment shape and the teacher's
// trySupersedeExisting similarity-threshold instinct, generalized into a
// full 4-way LLM decision instead of a hardcoded cosine cutoff.
type Classifier struct {
	Facts   FactStore
	Vectors VectorStore // optional; nil falls straight to the fact-store fallback
	Chat    ChatModel
	Logger  *log.Logger
}

// NewClassifier builds a Classifier. logger may be nil (defaults to
// log.Default()).
func NewClassifier(facts FactStore, vectors VectorStore, chat ChatModel, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Classifier{Facts: facts, Vectors: vectors, Chat: chat, Logger: logger}
}

// Classify gathers similar facts for (text, entity, key) and asks the chat
// model to decide ADD/UPDATE/DELETE/NOOP. embedding, if non-nil, is the
// already-computed candidate embedding (reused so the caller never
// re-embeds, per spec §4.6). On any parse or API failure the result
// degrades to ADD so no candidate fact is silently lost (spec §4.6, §7).
func (c *Classifier) Classify(ctx context.Context, text, entity, key string, embedding []float32) ClassifyResult {
	similar, err := c.gatherSimilar(ctx, text, entity, key, embedding)
	if err != nil {
		c.Logger.Printf("memstore: classifier: gathering similar facts: %v", err)
	}
	if len(similar) == 0 {
		return ClassifyResult{Decision: DecisionAdd}
	}

	prompt := classifyPrompt(text, entity, key, similar)
	raw, err := c.Chat.Complete(ctx, ChatRequest{Tier: ChatTierNano, Prompt: prompt, MaxTokens: 200})
	if err != nil {
		c.Logger.Printf("memstore: classifier: chat call failed, defaulting to ADD: %v", err)
		return ClassifyResult{Decision: DecisionAdd}
	}

	result, err := parseClassifyResponse(raw)
	if err != nil {
		c.Logger.Printf("memstore: classifier: parse failed, defaulting to ADD: %v", err)
		return ClassifyResult{Decision: DecisionAdd}
	}
	return result
}

// gatherSimilar implements spec §4.6 step: primary vector top-k using the
// candidate's embedding, falling back to the fact store's own similarity
// search when no embedder/vector result is available.
func (c *Classifier) gatherSimilar(ctx context.Context, text, entity, key string, embedding []float32) ([]Fact, error) {
	if c.Vectors != nil && len(embedding) > 0 {
		hits, err := c.Vectors.Search(ctx, embedding, maxSimilarForClassification, 0)
		if err == nil && len(hits) > 0 {
			facts := make([]Fact, 0, len(hits))
			for _, h := range hits {
				f, err := c.Facts.GetByID(ctx, h.FactID, GetByIDOpts{})
				if err != nil || f == nil {
					continue
				}
				facts = append(facts, *f)
			}
			if len(facts) > 0 {
				return facts, nil
			}
		}
	}
	return c.Facts.FindSimilarForClassification(ctx, text, entity, key, maxSimilarForClassification)
}

func classifyPrompt(text, entity, key string, similar []Fact) string {
	var b strings.Builder
	b.WriteString("You maintain a long-term memory store. Decide what to do with a new candidate fact given existing similar facts.\n\n")
	fmt.Fprintf(&b, "New candidate fact: %q\n", text)
	if entity != "" {
		fmt.Fprintf(&b, "Entity: %s\n", entity)
	}
	if key != "" {
		fmt.Fprintf(&b, "Key: %s\n", key)
	}
	b.WriteString("\nExisting similar facts:\n")
	for i, f := range similar {
		fmt.Fprintf(&b, "%d. id=%s: %q\n", i+1, f.ID, f.Text)
	}
	b.WriteString(`
Respond with ONLY a JSON object of the form:
{"decision": "ADD"|"UPDATE"|"DELETE"|"NOOP", "target_id": "<id or empty>", "rationale": "<short reason>"}

- ADD: the candidate is genuinely new information, unrelated to the existing facts.
- UPDATE: the candidate replaces/corrects one existing fact (set target_id to its id).
- DELETE: the candidate is the user retracting one existing fact (set target_id to its id).
- NOOP: the candidate duplicates or adds nothing beyond an existing fact.
`)
	return b.String()
}

type classifyResponse struct {
	Decision  string `json:"decision"`
	TargetID  string `json:"target_id"`
	Rationale string `json:"rationale"`
}

// parseClassifyResponse tolerates surrounding prose/markdown fences around
// the JSON object, matching the teacher extraction parser's tolerance.
func parseClassifyResponse(raw string) (ClassifyResult, error) {
	raw = strings.TrimSpace(raw)

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return ClassifyResult{}, fmt.Errorf("memstore: classifier: no JSON object in response: %w", err)
		}
		if err2 := json.Unmarshal([]byte(raw[start:end+1]), &resp); err2 != nil {
			return ClassifyResult{}, fmt.Errorf("memstore: classifier: parsing response: %w", err2)
		}
	}

	decision := ClassifyDecision(strings.ToUpper(strings.TrimSpace(resp.Decision)))
	if !decision.Valid() {
		return ClassifyResult{}, fmt.Errorf("memstore: classifier: unknown decision %q", resp.Decision)
	}
	if (decision == DecisionUpdate || decision == DecisionDelete) && resp.TargetID == "" {
		return ClassifyResult{}, fmt.Errorf("memstore: classifier: %s decision missing target_id", decision)
	}
	return ClassifyResult{Decision: decision, TargetID: resp.TargetID, Rationale: resp.Rationale}, nil
}

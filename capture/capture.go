// Package capture implements the auto-capture pipeline (C6): turning a
// completed turn's messages into candidate facts via a chain of cheap,
// deterministic filters, with no LLM call in this package (classification
// against existing memory is the root package's Classifier, not capture's
// job).
package capture

import (
	"regexp"

	"github.com/matthewjhunter/memstore"
)

// Candidate is one fact extracted from a turn, ready to be handed to the
// classifier (spec §4.6) or committed directly as ADD.
type Candidate struct {
	Text     string
	Entity   string
	Key      string
	Value    string
	Category memstore.Category
	Tags     []string
	Signal   string // which trigger matched: preference/decision/entity/fact/directive/reinforcement
}

// Config governs pipeline behavior; it mirrors the relevant fields of
// memstore.Config so callers can build a Pipeline straight from their
// engine configuration.
type Config struct {
	MaxChars          int
	MaxPerTurn        int
	Language          string           // defaults to "en"
	ExtraSecretRegexes []string
}

// Pipeline runs the capture filter chain over a turn's messages.
type Pipeline struct {
	cfg          Config
	extraSecrets []*regexp.Regexp
}

// NewPipeline compiles cfg's extra secret regexes and returns a ready
// Pipeline. An invalid regex is a config error (spec §7: "invalid regex —
// fatal at initialization").
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 2000
	}
	if cfg.MaxPerTurn <= 0 {
		cfg.MaxPerTurn = 3
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	extra := make([]*regexp.Regexp, 0, len(cfg.ExtraSecretRegexes))
	for _, pat := range cfg.ExtraSecretRegexes {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		extra = append(extra, re)
	}
	return &Pipeline{cfg: cfg, extraSecrets: extra}, nil
}

// Capture runs every message in turn through the filter chain (shape ->
// sensitivity -> trigger -> category -> fields -> tags) and returns at
// most cfg.MaxPerTurn candidates (spec §4.4).
func (p *Pipeline) Capture(messages []string) []Candidate {
	var candidates []Candidate
	for _, msg := range messages {
		if len(candidates) >= p.cfg.MaxPerTurn {
			break
		}

		text, ok := shapeFilter(msg, p.cfg.MaxChars)
		if !ok {
			continue
		}
		if sensitivityFilter(text, p.extraSecrets) {
			continue
		}
		signal, ok := triggerFilter(text, p.cfg.Language)
		if !ok {
			continue
		}

		category := detectCategory(text)
		entity, key, value := extractFields(text)
		tags := memstore.InferTags(text, entity)

		candidates = append(candidates, Candidate{
			Text:     text,
			Entity:   entity,
			Key:      key,
			Value:    value,
			Category: category,
			Tags:     tags,
			Signal:   signal,
		})
	}
	return candidates
}

package capture

import (
	"embed"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// keywordFiles embeds the per-language trigger-phrase tables (spec §6:
// "language-keywords file — JSON per language code"). New languages are
// added by dropping another <lang>.json file here; nothing else in the
// package needs to change.
//
//go:embed keywords/*.json
var keywordFiles embed.FS

// triggerTable maps a trigger signal name (preference, decision, directive,
// fact, entity, reinforcement) to its phrase list for one language.
type triggerTable map[string][]string

var languages = map[string]triggerTable{}

func init() {
	entries, err := keywordFiles.ReadDir("keywords")
	if err != nil {
		panic(fmt.Sprintf("capture: reading embedded keywords: %v", err))
	}
	for _, e := range entries {
		lang := strings.TrimSuffix(e.Name(), ".json")
		raw, err := keywordFiles.ReadFile("keywords/" + e.Name())
		if err != nil {
			panic(fmt.Sprintf("capture: reading %s: %v", e.Name(), err))
		}
		languages[lang] = parseTriggerTable(raw)
	}
}

func parseTriggerTable(raw []byte) triggerTable {
	table := make(triggerTable)
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		phrases := make([]string, 0, len(value.Array()))
		for _, p := range value.Array() {
			phrases = append(phrases, strings.ToLower(p.String()))
		}
		table[key.String()] = phrases
		return true
	})
	return table
}

// matchesAnyTrigger reports whether text (already lowercased by the
// caller) contains any phrase from any trigger category in lang. An
// unknown language falls back to "en".
func matchesAnyTrigger(text, lang string) (signal string, ok bool) {
	table, found := languages[lang]
	if !found {
		table = languages["en"]
	}
	for signal, phrases := range table {
		for _, p := range phrases {
			if strings.Contains(text, p) {
				return signal, true
			}
		}
	}
	return "", false
}

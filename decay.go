package memstore

import "strings"

// ClassifyDecay infers a DecayClass for a candidate fact from its entity,
// key, value, and raw text, using the same keyword families as InferTags so
// the two classifications stay consistent. Callers that already know the
// class (e.g. an explicit checkpoint request) should bypass this and set
// DecayClass directly on StoreInput.
func ClassifyDecay(entity, key, value, text string) DecayClass {
	combined := strings.ToLower(entity + " " + key + " " + value + " " + text)

	switch {
	case containsAny(combined, "checkpoint", "snapshot this turn", "remember for this message"):
		return DecayCheckpoint
	case containsAny(combined, "this session", "for now", "today only", "just for this chat"):
		return DecaySession
	case taskPattern.MatchString(combined), blockerPattern.MatchString(combined),
		containsAny(combined, "sprint", "deadline", "in progress", "working on"):
		return DecayActive
	case containsAny(combined, "prefer", "like", "favorite", "favourite", "dislike", "hate",
		"always", "usually", "typically", "workflow", "convention"):
		return DecayStable
	case containsAny(combined, "name is", "born", "anniversary", "permanent", "never changes",
		"relationship", "spouse", "employer", "citizenship"):
		return DecayPermanent
	default:
		return DecayStable
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

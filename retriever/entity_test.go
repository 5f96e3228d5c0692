package retriever

import "testing"

func TestEntityMatchesCaseInsensitive(t *testing.T) {
	matched := entityMatches("Does Alice know about the new policy?", []string{"alice", "bob"})
	if len(matched) != 1 || matched[0] != "alice" {
		t.Fatalf("got %v", matched)
	}
}

func TestEntityMatchesNone(t *testing.T) {
	matched := entityMatches("no entities mentioned here", []string{"alice", "bob"})
	if len(matched) != 0 {
		t.Fatalf("got %v, want none", matched)
	}
}

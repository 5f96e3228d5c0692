package retriever

import (
	"context"
	"strings"
	"testing"

	"github.com/matthewjhunter/memstore"
)

func TestHydeQueryDisabledReturnsPrompt(t *testing.T) {
	r := &Retriever{Chat: stubChat{resp: "a hypothetical answer"}}
	got := r.hydeQuery(context.Background(), "what editor does matthew use?", memstore.SearchConfig{HydeEnabled: false})
	if got != "what editor does matthew use?" {
		t.Fatalf("got %q, want raw prompt when hyde disabled", got)
	}
}

func TestHydeQueryNoChatModelReturnsPrompt(t *testing.T) {
	r := &Retriever{Chat: nil}
	got := r.hydeQuery(context.Background(), "what editor does matthew use?", memstore.SearchConfig{HydeEnabled: true})
	if got != "what editor does matthew use?" {
		t.Fatalf("got %q, want raw prompt when no chat model configured", got)
	}
}

func TestHydeQueryRewritesViaChat(t *testing.T) {
	r := &Retriever{Chat: stubChat{resp: "  Matthew uses a dark-themed editor.  "}}
	got := r.hydeQuery(context.Background(), "what editor does matthew use?", memstore.SearchConfig{HydeEnabled: true})
	if got != "Matthew uses a dark-themed editor." {
		t.Fatalf("got %q", got)
	}
}

func TestHydeQueryTruncatesLongAnswers(t *testing.T) {
	r := &Retriever{Chat: stubChat{resp: strings.Repeat("a", hydeMaxQueryChars+100)}}
	got := r.hydeQuery(context.Background(), "prompt", memstore.SearchConfig{HydeEnabled: true})
	if len(got) != hydeMaxQueryChars {
		t.Fatalf("got len %d, want %d", len(got), hydeMaxQueryChars)
	}
}

func TestHydeQueryFallsBackOnChatError(t *testing.T) {
	r := &Retriever{Chat: stubChat{err: context.DeadlineExceeded}}
	got := r.hydeQuery(context.Background(), "the raw prompt", memstore.SearchConfig{HydeEnabled: true})
	if got != "the raw prompt" {
		t.Fatalf("got %q, want raw prompt on chat failure", got)
	}
}

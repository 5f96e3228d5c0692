package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ChatTier selects which model size answers a ChatRequest. Tier selection
// is the caller's policy; the engine only picks the tier appropriate to the
// call site (classifier decisions use nano, reflection/summarization use
// default or heavy).
type ChatTier string

const (
	ChatTierNano    ChatTier = "nano"
	ChatTierDefault ChatTier = "default"
	ChatTierHeavy   ChatTier = "heavy"
)

func (t ChatTier) Valid() bool {
	switch t {
	case ChatTierNano, ChatTierDefault, ChatTierHeavy:
		return true
	}
	return false
}

// ChatRequest is a single completion call (C2).
type ChatRequest struct {
	Tier        ChatTier
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ChatModel produces text completions from a prompt, tiered and retriable
// (C2). Implementations should be safe for concurrent use.
type ChatModel interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// chatBackoff mirrors embedBackoff: a bounded, call-site-local retry budget
// (spec §5 "Timeouts and retries").
func chatBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 150 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 8 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

// CompleteWithRetry calls m.Complete with bounded exponential backoff.
func CompleteWithRetry(ctx context.Context, m ChatModel, req ChatRequest) (string, error) {
	var result string
	op := func() error {
		var err error
		result, err = m.Complete(ctx, req)
		return err
	}
	if err := backoff.Retry(op, chatBackoff(ctx)); err != nil {
		return "", fmt.Errorf("memstore: chat completion failed: %w", err)
	}
	return result, nil
}

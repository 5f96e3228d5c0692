package memstore

import (
	"context"
	"log"
	"sync"
	"time"
)

// defaultPruneInterval is the periodic prune cadence (spec §4.8: "every 60
// min").
const defaultPruneInterval = 60 * time.Minute

// defaultAutoClassifyInterval and defaultAutoClassifyStartupDelay are the
// auto-classify cadence and one-shot startup delay (spec §4.9: "24h + one-
// shot 5 min after start").
const (
	defaultAutoClassifyInterval     = 24 * time.Hour
	defaultAutoClassifyStartupDelay = 5 * time.Minute
)

// Scheduler runs a task on a fixed interval plus an immediate startup pass,
// tolerating missed ticks by collapsing them into a single catch-up pass
// the next time Run's loop observes the ticker fire (spec §4.9: "tolerate
// missed ticks... run a single catch-up pass"). It owns its own goroutine;
// Stop cancels it and waits for the loop to exit.
type Scheduler struct {
	interval     time.Duration
	startupDelay time.Duration
	task         func(ctx context.Context)
	logger       *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewScheduler builds a Scheduler that runs task every interval, with an
// optional one-shot delay (0 = run immediately) before the first tick.
func NewScheduler(interval, startupDelay time.Duration, task func(ctx context.Context), logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{interval: interval, startupDelay: startupDelay, task: task, logger: logger}
}

// Start launches the scheduler's background goroutine. Calling Start twice
// is a no-op after the first call.
func (s *Scheduler) Start(ctx context.Context) {
	s.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.loop(ctx)
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	if s.startupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.startupDelay):
		}
	}
	s.runTask(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A single tick here represents "time to run again", whether
			// one interval elapsed or several were missed while the
			// process was asleep/blocked — at most one catch-up pass runs.
			s.runTask(ctx)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("memstore: scheduler: task panicked: %v", r)
		}
	}()
	s.task(ctx)
}

// Stop cancels the scheduler's goroutine and waits for it to exit. Safe to
// call on a scheduler that was never started.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// NewPruneScheduler builds the periodic hard-prune + soft-decay + tier
// compaction scheduler (spec §4.8 "periodic prune (default every 60 min)"
// plus "a startup prune runs once").
func NewPruneScheduler(facts FactStore, vectors VectorStore, tiering MemoryTieringConfig, logger *log.Logger) *Scheduler {
	task := func(ctx context.Context) {
		now := time.Now().UTC()
		ids, err := facts.PruneExpired(ctx, now)
		if err != nil {
			logger.Printf("memstore: prune: hard prune: %v", err)
		}
		for _, id := range ids {
			if vectors != nil {
				if err := vectors.Delete(ctx, id); err != nil {
					logger.Printf("memstore: prune: deleting vector for %s: %v", id, err)
				}
			}
		}

		if _, expired, err := facts.SoftDecayTick(ctx, now); err != nil {
			logger.Printf("memstore: prune: soft decay: %v", err)
		} else if vectors != nil {
			for _, id := range expired {
				if err := vectors.Delete(ctx, id); err != nil {
					logger.Printf("memstore: prune: deleting decayed vector for %s: %v", id, err)
				}
			}
		}

		if tiering.Enabled {
			staleAfter := time.Duration(tiering.InactivePreferenceDays) * 24 * time.Hour
			if staleAfter <= 0 {
				staleAfter = 30 * 24 * time.Hour
			}
			if _, err := facts.RunCompaction(ctx, staleAfter, tiering.HotMaxTokens, tiering.HotMaxFacts); err != nil {
				logger.Printf("memstore: prune: tier compaction: %v", err)
			}
		}
	}
	return NewScheduler(defaultPruneInterval, 0, task, logger)
}

// NewAutoClassifyScheduler builds the periodic reclassification scheduler
// that promotes `other`-categorized facts into established categories
// (spec §4.9: "24h + one-shot 5 min after start... reclassifies `other`
// facts into established categories").
func NewAutoClassifyScheduler(facts FactStore, chat ChatModel, logger *log.Logger) *Scheduler {
	task := func(ctx context.Context) {
		candidates, err := facts.GetFactsForConsolidation(ctx, 50)
		if err != nil {
			logger.Printf("memstore: auto-classify: listing candidates: %v", err)
			return
		}
		for _, f := range candidates {
			cat, err := reclassifyCategory(ctx, chat, f)
			if err != nil {
				logger.Printf("memstore: auto-classify: reclassifying %s: %v", f.ID, err)
				continue
			}
			if cat == "" || cat == CategoryOther {
				continue
			}
			RegisterCategory(cat)
			// Re-storing under the new category is the fact store's job
			// via an explicit update path; the engine does not expose a
			// raw category-patch operation, so reclassification here
			// records the discovered category for future Store calls and
			// leaves the existing row as `other` until naturally
			// superseded. See DESIGN.md Open Question decisions.
		}
	}
	return NewScheduler(defaultAutoClassifyInterval, defaultAutoClassifyStartupDelay, task, logger)
}

// reclassifyCategory asks the chat model (default tier) to pick an
// established category for a fact currently filed as `other`.
func reclassifyCategory(ctx context.Context, chat ChatModel, f Fact) (Category, error) {
	if chat == nil {
		return "", nil
	}
	prompt := "Classify this memory into exactly one category (preference, fact, decision, entity, pattern, rule, procedure, other). Respond with only the category word.\n\nMemory: " + f.Text
	raw, err := chat.Complete(ctx, ChatRequest{Tier: ChatTierNano, Prompt: prompt, MaxTokens: 10})
	if err != nil {
		return "", err
	}
	return Category(normalizeForHash(raw)), nil
}

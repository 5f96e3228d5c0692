package memstore

import (
	"context"
	"time"
)

// FactStore is the synchronous row-store capability (C4), modeled as a
// trait so the capture/classifier/retriever/graph packages never depend on
// a concrete backend (spec §9: "model each as a trait/interface...
// synchronous for the fact store"). SQLiteFactStore is the one production
// implementation.
type FactStore interface {
	Store(ctx context.Context, in StoreInput) (*Fact, error)
	GetByID(ctx context.Context, id string, opts GetByIDOpts) (*Fact, error)
	Search(ctx context.Context, query string, limit int, opts FactSearchOpts) ([]FactSearchResult, error)
	Lookup(ctx context.Context, entity, key, tag string, opts LookupOpts) ([]Fact, error)
	Supersede(ctx context.Context, oldID string, newID *string, at time.Time) error
	Reinforce(ctx context.Context, id string, quote string) (*Fact, error)
	RefreshAccessedFacts(ctx context.Context, ids []string) error
	HasDuplicate(ctx context.Context, text string) (bool, error)
	FindSimilarForClassification(ctx context.Context, text, entity, key string, n int) ([]Fact, error)
	GetFactsForConsolidation(ctx context.Context, limit int) ([]Fact, error)
	GetHotFacts(ctx context.Context, tokenBudget int, scopeFilter Scope) ([]Fact, error)
	RunCompaction(ctx context.Context, staleAfter time.Duration, tokenBudget, maxFacts int) (CompactionResult, error)
	EvictHotOverBudget(ctx context.Context, tokenBudget, maxFacts int) ([]string, error)
	PruneExpired(ctx context.Context, now time.Time) ([]string, error)
	SoftDecayTick(ctx context.Context, now time.Time) (halved int, expired []string, err error)
	DeleteFact(ctx context.Context, id string) error

	UpsertLink(ctx context.Context, l Link) error
	StrengthenRelated(ctx context.Context, fromID, toID string, delta float64) error
	Neighbors(ctx context.Context, factID string, outOnly bool) ([]Link, error)
	DeleteLinksForFact(ctx context.Context, factID string) error

	StoreProcedure(ctx context.Context, p Procedure) (*Procedure, error)
	FindProcedures(ctx context.Context, pattern string, scope Scope) ([]Procedure, error)

	Close() error
}

var _ FactStore = (*SQLiteFactStore)(nil)

package memstore

import "time"

// InjectionFormat controls how recalled facts are rendered into the prompt
// prefix (spec §6).
type InjectionFormat string

const (
	FormatFull               InjectionFormat = "full"
	FormatShort              InjectionFormat = "short"
	FormatMinimal            InjectionFormat = "minimal"
	FormatProgressive        InjectionFormat = "progressive"
	FormatProgressiveHybrid  InjectionFormat = "progressive_hybrid"
)

func (f InjectionFormat) Valid() bool {
	switch f {
	case FormatFull, FormatShort, FormatMinimal, FormatProgressive, FormatProgressiveHybrid:
		return true
	}
	return false
}

// EntityLookupConfig merges lookup results for prompts mentioning known
// entities into the recall candidate set.
type EntityLookupConfig struct {
	Enabled          bool
	Entities         []string
	MaxFactsPerEntity int
}

// AuthFailureConfig governs the reactive credential-hint recall hook.
type AuthFailureConfig struct {
	Enabled            bool
	Patterns           []string // additional regexes, appended to the built-in set
	MaxRecallsPerTarget int
	IncludeVaultHints  bool
}

// AutoRecallConfig is the turn-start retrieval/injection configuration.
type AutoRecallConfig struct {
	Enabled    bool
	Limit      int
	MinScore   float64
	MaxTokens  int

	MaxPerMemoryChars int
	InjectionFormat   InjectionFormat
	UseSummaryInInjection bool
	SummarizeWhenOverBudget bool

	PreferLongTerm      bool
	UseImportanceRecency bool

	EntityLookup EntityLookupConfig

	ProgressiveIndexMaxTokens   int
	ProgressiveMaxCandidates    int
	ProgressivePinnedRecallCount int
	ProgressiveGroupByCategory  bool

	AuthFailure AuthFailureConfig

	ScopeFilter Scope
}

// DefaultAutoRecallConfig matches the teacher's FTS/vector weight defaults
// (0.6/0.4) reinterpreted as RRF-era defaults for the rest of the pipeline.
func DefaultAutoRecallConfig() AutoRecallConfig {
	return AutoRecallConfig{
		Enabled:           true,
		Limit:             10,
		MinScore:          0.1,
		MaxTokens:         1500,
		MaxPerMemoryChars: 240,
		InjectionFormat:   FormatFull,
		UseSummaryInInjection: true,
		EntityLookup: EntityLookupConfig{
			MaxFactsPerEntity: 3,
		},
		ProgressiveIndexMaxTokens:    300,
		ProgressiveMaxCandidates:     40,
		ProgressivePinnedRecallCount: 5,
		AuthFailure: AuthFailureConfig{
			MaxRecallsPerTarget: 2,
		},
	}
}

// StoreConfig governs the explicit/interactive store path.
type StoreConfig struct {
	ClassifyBeforeWrite bool
	FuzzyDedupe         bool
}

// GraphConfig governs auto-linking and traversal during recall.
type GraphConfig struct {
	Enabled         bool
	AutoLink        bool
	AutoLinkMinScore float64
	AutoLinkLimit    int
	MaxTraversalDepth int
	UseInRecall      bool
}

func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Enabled:           true,
		AutoLink:          true,
		AutoLinkMinScore:  0.82,
		AutoLinkLimit:     3,
		MaxTraversalDepth: 2,
		UseInRecall:       true,
	}
}

// WALConfig governs the write-ahead log.
type WALConfig struct {
	Enabled bool
	WALPath string
	MaxAge  time.Duration
}

func DefaultWALConfig(path string) WALConfig {
	return WALConfig{Enabled: true, WALPath: path, MaxAge: defaultWALMaxAge}
}

// MemoryTieringConfig governs hot/warm/cold admission and compaction.
type MemoryTieringConfig struct {
	Enabled              bool
	HotMaxTokens         int
	HotMaxFacts          int
	InactivePreferenceDays int
	CompactionOnSessionEnd bool
}

func DefaultMemoryTieringConfig() MemoryTieringConfig {
	return MemoryTieringConfig{
		Enabled:                true,
		HotMaxTokens:           2000,
		HotMaxFacts:            50,
		InactivePreferenceDays: 30,
		CompactionOnSessionEnd: true,
	}
}

// SearchConfig governs query-time retrieval behavior not tied to injection shaping.
type SearchConfig struct {
	HydeEnabled bool
}

// DefaultStoreScope selects where auto-captured facts land in a multi-agent
// deployment.
type DefaultStoreScope string

const (
	DefaultScopeGlobal DefaultStoreScope = "global"
	DefaultScopeAgent  DefaultStoreScope = "agent"
	DefaultScopeAuto   DefaultStoreScope = "auto"
)

// MultiAgentConfig governs scope defaults when multiple agents share a store.
type MultiAgentConfig struct {
	OrchestratorID    string
	DefaultStoreScope DefaultStoreScope
}

// Config bundles every configuration option the core recognizes (spec §6).
// It is built with Go struct literals / setters, never parsed from an
// on-disk config format — the engine's caller owns configuration sourcing.
type Config struct {
	CaptureMaxChars   int
	CaptureMaxPerTurn int

	AutoRecall AutoRecallConfig
	Store      StoreConfig
	Graph      GraphConfig
	WAL        WALConfig
	MemoryTiering MemoryTieringConfig
	Search     SearchConfig
	MultiAgent MultiAgentConfig

	ImportanceHotThreshold float64
}

// DefaultConfig returns the engine's defaults, matching the constants
// documented across spec §4 and §6. walPath must be supplied by the caller.
func DefaultConfig(walPath string) Config {
	return Config{
		CaptureMaxChars:   2000,
		CaptureMaxPerTurn: 3,
		AutoRecall:        DefaultAutoRecallConfig(),
		Store:             StoreConfig{ClassifyBeforeWrite: true, FuzzyDedupe: true},
		Graph:             DefaultGraphConfig(),
		WAL:               DefaultWALConfig(walPath),
		MemoryTiering:     DefaultMemoryTieringConfig(),
		ImportanceHotThreshold: 0.7,
	}
}

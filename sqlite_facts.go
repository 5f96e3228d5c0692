package memstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const factSchemaVersion = 1

// factColumns is the canonical SELECT list for fact row scans.
const factColumns = `id, text, summary, entity, key, value, category, importance,
	recall_count, last_accessed_at, decay_class, created_at, last_confirmed_at,
	tier, scope, scope_target, valid_from, valid_until, superseded_at,
	superseded_by, supersedes_id, source_date, normalized_hash, source, tags,
	reinforced_count, last_reinforced_at, reinforced_quotes, decay_confidence, metadata`

// SQLiteFactStore implements the fact store (C4): a relational row store
// with an FTS5 index over text+summary+entity+key, a typed link table, and
// a procedure table. The caller owns the *sql.DB (WAL mode, busy timeout,
// connection limits), matching the teacher's "caller owns the db"
// philosophy.
type SQLiteFactStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteFactStore opens (migrating if needed) a fact store on db.
func NewSQLiteFactStore(db *sql.DB) (*SQLiteFactStore, error) {
	s := &SQLiteFactStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("memstore: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteFactStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS memstore_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM memstore_version`).Scan(&version)
	if err == sql.ErrNoRows {
		version = 0
	} else if err != nil {
		return fmt.Errorf("reading version: %w", err)
	}

	if version >= factSchemaVersion {
		return nil
	}
	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	if version == 0 {
		_, err = s.db.Exec(`INSERT INTO memstore_version (version) VALUES (?)`, factSchemaVersion)
	} else {
		_, err = s.db.Exec(`UPDATE memstore_version SET version = ?`, factSchemaVersion)
	}
	return err
}

func (s *SQLiteFactStore) migrateV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memstore_facts (
			id                 TEXT PRIMARY KEY,
			text               TEXT NOT NULL,
			summary            TEXT,
			entity             TEXT,
			key                TEXT,
			value              TEXT,
			category           TEXT NOT NULL,
			importance         REAL NOT NULL DEFAULT 0,
			recall_count       INTEGER NOT NULL DEFAULT 0,
			last_accessed_at   TEXT,
			decay_class        TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			last_confirmed_at  TEXT,
			tier               TEXT NOT NULL,
			scope              TEXT NOT NULL,
			scope_target       TEXT NOT NULL DEFAULT '',
			valid_from         TEXT NOT NULL,
			valid_until        TEXT,
			superseded_at      TEXT,
			superseded_by      TEXT REFERENCES memstore_facts(id),
			supersedes_id      TEXT REFERENCES memstore_facts(id),
			source_date        TEXT,
			normalized_hash    TEXT,
			source             TEXT,
			tags               TEXT,
			reinforced_count   INTEGER NOT NULL DEFAULT 0,
			last_reinforced_at TEXT,
			reinforced_quotes  TEXT,
			decay_confidence   REAL NOT NULL DEFAULT 1.0,
			metadata           TEXT
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS memstore_facts_fts USING fts5(
			text, summary, entity, key, fact_id UNINDEXED
		)`,

		`CREATE TRIGGER IF NOT EXISTS memstore_facts_ai AFTER INSERT ON memstore_facts BEGIN
			INSERT INTO memstore_facts_fts(rowid, text, summary, entity, key, fact_id)
			VALUES (new.rowid, new.text, new.summary, new.entity, new.key, new.id);
		END`,

		`CREATE TRIGGER IF NOT EXISTS memstore_facts_ad AFTER DELETE ON memstore_facts BEGIN
			INSERT INTO memstore_facts_fts(memstore_facts_fts, rowid, text, summary, entity, key, fact_id)
			VALUES ('delete', old.rowid, old.text, old.summary, old.entity, old.key, old.id);
		END`,

		`CREATE TRIGGER IF NOT EXISTS memstore_facts_au AFTER UPDATE ON memstore_facts BEGIN
			INSERT INTO memstore_facts_fts(memstore_facts_fts, rowid, text, summary, entity, key, fact_id)
			VALUES ('delete', old.rowid, old.text, old.summary, old.entity, old.key, old.id);
			INSERT INTO memstore_facts_fts(rowid, text, summary, entity, key, fact_id)
			VALUES (new.rowid, new.text, new.summary, new.entity, new.key, new.id);
		END`,

		`CREATE INDEX IF NOT EXISTS idx_memstore_entity ON memstore_facts(entity)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_key ON memstore_facts(key)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_category ON memstore_facts(category)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_tier ON memstore_facts(tier)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_scope ON memstore_facts(scope, scope_target)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_active ON memstore_facts(id) WHERE superseded_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_hash ON memstore_facts(normalized_hash)`,

		`CREATE TABLE IF NOT EXISTS memstore_links (
			from_id    TEXT NOT NULL REFERENCES memstore_facts(id),
			to_id      TEXT NOT NULL REFERENCES memstore_facts(id),
			kind       TEXT NOT NULL,
			strength   REAL NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_links_from ON memstore_links(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_links_to ON memstore_links(to_id)`,

		`CREATE TABLE IF NOT EXISTS memstore_procedures (
			id                TEXT PRIMARY KEY,
			task_pattern      TEXT NOT NULL,
			recipe_json       TEXT NOT NULL,
			type              TEXT NOT NULL,
			success_count     INTEGER NOT NULL DEFAULT 0,
			failure_count     INTEGER NOT NULL DEFAULT 0,
			confidence        REAL NOT NULL DEFAULT 0.5,
			last_validated    TEXT,
			last_failed       TEXT,
			promoted_to_skill INTEGER NOT NULL DEFAULT 0,
			skill_path        TEXT,
			scope             TEXT NOT NULL,
			scope_target      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memstore_procedures_pattern ON memstore_procedures(task_pattern)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("memstore schema: %w", err)
		}
	}
	return nil
}

// normalizeForHash lowercases and collapses whitespace, per spec §3's
// normalizedHash definition.
var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeForHash(text string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

func computeNormalizedHash(text string) string {
	sum := sha256.Sum256([]byte(normalizeForHash(text)))
	return hex.EncodeToString(sum[:])
}

// StoreInput is the input to Store. Fields left zero are computed.
type StoreInput struct {
	Text    string
	Summary string
	Entity  string
	Key     string
	Value   string

	Category Category

	Importance float64

	DecayClass DecayClass // zero value triggers classification

	Scope       Scope
	ScopeTarget string

	ValidFrom  time.Time // zero means now
	SourceDate *time.Time

	Source string
	Tags   []string // nil triggers regex inference

	SupersedesID *string // set by the classifier on an UPDATE decision

	FuzzyDedupe bool

	Metadata json.RawMessage

	// HotThreshold overrides the importance floor for hot-tier admission
	// (spec §4.2 "importance >= configured threshold"). Zero means the
	// default of 0.7.
	HotThreshold float64
}

// Store validates, classifies, dedups, and inserts a fact (spec §4.2).
func (s *SQLiteFactStore) Store(ctx context.Context, in StoreInput) (*Fact, error) {
	if in.Scope == "" {
		in.Scope = ScopeGlobal
	}
	if err := ValidateScope(in.Scope, in.ScopeTarget); err != nil {
		return nil, err
	}
	if in.Category == "" {
		in.Category = CategoryOther
	}
	if !ValidCategory(in.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvariant, in.Category)
	}

	decayClass := in.DecayClass
	if decayClass == "" {
		decayClass = ClassifyDecay(in.Entity, in.Key, in.Value, in.Text)
	}
	if !decayClass.Valid() {
		return nil, fmt.Errorf("%w: unknown decay class %q", ErrInvariant, decayClass)
	}

	tags := in.Tags
	if tags == nil {
		tags = InferTags(in.Text, in.Entity)
	}

	var normalizedHash string
	if in.FuzzyDedupe {
		normalizedHash = computeNormalizedHash(in.Text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Dedup: exact text + (scope, scopeTarget) match.
	if existing, err := s.findExactDuplicateLocked(ctx, in.Text, in.Scope, in.ScopeTarget); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	// Dedup: normalizedHash + (scope, scopeTarget) match.
	if normalizedHash != "" {
		if existing, err := s.findHashDuplicateLocked(ctx, normalizedHash, in.Scope, in.ScopeTarget); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	now := time.Now().UTC()
	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}

	hotThreshold := in.HotThreshold
	if hotThreshold == 0 {
		hotThreshold = 0.7
	}
	tier := TierWarm
	if in.Importance >= hotThreshold || decayClass == DecayActive || decayClass == DecayCheckpoint {
		tier = TierHot
	}

	f := Fact{
		ID:              uuid.NewString(),
		Text:            in.Text,
		Summary:         in.Summary,
		Entity:          in.Entity,
		Key:             in.Key,
		Value:           in.Value,
		Category:        in.Category,
		Importance:      in.Importance,
		DecayClass:      decayClass,
		CreatedAt:       now,
		LastConfirmedAt: &now,
		Tier:            tier,
		Scope:           in.Scope,
		ScopeTarget:     in.ScopeTarget,
		ValidFrom:       validFrom,
		SourceDate:      in.SourceDate,
		SupersedesID:    in.SupersedesID,
		NormalizedHash:  normalizedHash,
		Source:          in.Source,
		Tags:            tags,
		Metadata:        in.Metadata,
	}

	if err := s.insertLocked(ctx, &f); err != nil {
		return nil, err
	}

	if f.SupersedesID != nil {
		if err := s.supersedeLocked(ctx, *f.SupersedesID, &f.ID, now); err != nil {
			return nil, err
		}
	}

	return &f, nil
}

func (s *SQLiteFactStore) findExactDuplicateLocked(ctx context.Context, text string, scope Scope, scopeTarget string) (*Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM memstore_facts
		 WHERE text = ? AND scope = ? AND scope_target = ? AND superseded_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`,
		text, string(scope), scopeTarget)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: checking duplicate: %w", err)
	}
	return f, nil
}

func (s *SQLiteFactStore) findHashDuplicateLocked(ctx context.Context, hash string, scope Scope, scopeTarget string) (*Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM memstore_facts
		 WHERE normalized_hash = ? AND scope = ? AND scope_target = ? AND superseded_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`,
		hash, string(scope), scopeTarget)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: checking hash duplicate: %w", err)
	}
	return f, nil
}

func (s *SQLiteFactStore) insertLocked(ctx context.Context, f *Fact) error {
	tagsJSON, err := json.Marshal(f.Tags)
	if err != nil {
		return fmt.Errorf("memstore: marshaling tags: %w", err)
	}
	var metadata any
	if len(f.Metadata) > 0 {
		metadata = string(f.Metadata)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memstore_facts (
			id, text, summary, entity, key, value, category, importance,
			recall_count, last_accessed_at, decay_class, created_at, last_confirmed_at,
			tier, scope, scope_target, valid_from, valid_until, superseded_at,
			superseded_by, supersedes_id, source_date, normalized_hash, source, tags,
			reinforced_count, last_reinforced_at, reinforced_quotes, decay_confidence, metadata
		) VALUES (?,?,?,?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?,?, ?,?,?,?,?,?, ?,?,?,?,?)`,
		f.ID, f.Text, nullStr(f.Summary), nullStr(f.Entity), nullStr(f.Key), nullStr(f.Value),
		string(f.Category), f.Importance,
		f.RecallCount, formatTimePtr(f.LastAccessedAt), string(f.DecayClass), formatTime(f.CreatedAt), formatTimePtr(f.LastConfirmedAt),
		string(f.Tier), string(f.Scope), f.ScopeTarget, formatTime(f.ValidFrom), formatTimePtr(f.ValidUntil), formatTimePtr(f.SupersededAt),
		f.SupersededBy, f.SupersedesID, formatTimePtr(f.SourceDate), nullStr(f.NormalizedHash), nullStr(f.Source), string(tagsJSON),
		f.ReinforcedCount, formatTimePtr(f.LastReinforcedAt), nullStr(""), 1.0, metadata,
	)
	if err != nil {
		return fmt.Errorf("memstore: inserting fact: %w", err)
	}
	return nil
}

// GetByIDOpts controls GetByID's scoping and point-in-time behavior.
type GetByIDOpts struct {
	ScopeFilter       Scope
	IncludeSuperseded bool
	AsOf              *time.Time
}

// GetByID returns a fact by id, or nil if not found or filtered out.
func (s *SQLiteFactStore) GetByID(ctx context.Context, id string, opts GetByIDOpts) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+factColumns+` FROM memstore_facts WHERE id = ?`, id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: getting fact %s: %w", id, err)
	}

	if opts.ScopeFilter != "" && f.Scope != opts.ScopeFilter {
		return nil, nil
	}
	if !opts.IncludeSuperseded && f.SupersededAt != nil && opts.AsOf == nil {
		return nil, nil
	}
	if opts.AsOf != nil {
		if f.ValidFrom.After(*opts.AsOf) {
			return nil, nil
		}
		if f.ValidUntil != nil && !f.ValidUntil.After(*opts.AsOf) {
			return nil, nil
		}
	}
	return f, nil
}

// FactSearchOpts controls Search.
type FactSearchOpts struct {
	TierFilter         []Tier
	ScopeFilter        Scope
	ReinforcementBoost bool
	AsOf               *time.Time
	IncludeSuperseded  bool
}

// FactSearchResult is one ranked hit from Search.
type FactSearchResult struct {
	Fact  Fact
	Score float64
}

// ftsOperatorTokens are stripped from raw queries before quoting so
// accidental FTS5 operator syntax cannot corrupt the query (spec §4.2).
var ftsOperatorTokens = regexp.MustCompile(`(?i)\b(AND|OR|NOT)\b|[()*"]`)

// quoteFTSQuery makes a raw string safe for use in an FTS5 MATCH
// expression: operator tokens and quotes are stripped, then each remaining
// word is individually double-quoted and OR-joined so a query never fails
// to parse regardless of its raw content.
func quoteFTSQuery(raw string) string {
	cleaned := ftsOperatorTokens.ReplaceAllString(raw, " ")
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		escaped := strings.ReplaceAll(w, `"`, `""`)
		quoted = append(quoted, `"`+escaped+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Search performs BM25-ranked FTS search over text+summary+entity+key.
func (s *SQLiteFactStore) Search(ctx context.Context, query string, limit int, opts FactSearchOpts) ([]FactSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	ftsQuery := quoteFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + prefixColumns("f.") + `, rank
	      FROM memstore_facts_fts fts
	      JOIN memstore_facts f ON f.rowid = fts.rowid
	      WHERE memstore_facts_fts MATCH ?`
	args := []any{ftsQuery}

	q, args = appendFactFilters(q, args, "f.", opts.TierFilter, opts.ScopeFilter, opts.IncludeSuperseded, opts.AsOf)

	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit*2)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memstore: FTS search: %w", err)
	}
	defer rows.Close()

	var results []FactSearchResult
	for rows.Next() {
		f, rank, err := scanFactWithRank(rows)
		if err != nil {
			return nil, fmt.Errorf("memstore: scanning FTS result: %w", err)
		}
		score := -rank // BM25 rank is negative; lower (more negative) = better match
		if opts.ReinforcementBoost {
			score *= 1 + 0.05*float64(f.ReinforcedCount)
		}
		results = append(results, FactSearchResult{Fact: *f, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memstore: iterating FTS results: %w", err)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// LookupOpts controls Lookup.
type LookupOpts struct {
	ScopeFilter Scope
}

// Lookup performs structured equality matching (no FTS), ordered by
// (importance desc, lastConfirmedAt desc).
func (s *SQLiteFactStore) Lookup(ctx context.Context, entity, key, tag string, opts LookupOpts) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + factColumns + ` FROM memstore_facts WHERE superseded_at IS NULL`
	var args []any
	if entity != "" {
		q += ` AND entity = ?`
		args = append(args, entity)
	}
	if key != "" {
		q += ` AND key = ?`
		args = append(args, key)
	}
	if tag != "" {
		q += ` AND (',' || tags || ',') LIKE ?`
		args = append(args, "%,\""+tag+"\",%")
	}
	if opts.ScopeFilter != "" {
		q += ` AND scope = ?`
		args = append(args, string(opts.ScopeFilter))
	}
	q += ` ORDER BY importance DESC, last_confirmed_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memstore: lookup: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// Supersede marks oldID as superseded by newID (nil for retraction) at the
// given time. Idempotent: a repeat call on an already-superseded fact is a
// no-op.
func (s *SQLiteFactStore) Supersede(ctx context.Context, oldID string, newID *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supersedeLocked(ctx, oldID, newID, at)
}

func (s *SQLiteFactStore) supersedeLocked(ctx context.Context, oldID string, newID *string, at time.Time) error {
	atStr := formatTime(at)
	result, err := s.db.ExecContext(ctx,
		`UPDATE memstore_facts SET superseded_by = ?, superseded_at = ?, valid_until = ?
		 WHERE id = ? AND superseded_at IS NULL`,
		newID, atStr, atStr, oldID,
	)
	if err != nil {
		return fmt.Errorf("memstore: superseding %s: %w", oldID, err)
	}
	_, err = result.RowsAffected()
	return err
}

// RefreshAccessedFacts bumps recallCount/lastAccessedAt/lastConfirmedAt for
// facts whose decay class has refresh-on-access semantics, in batches of
// at most 500 ids per statement.
func (s *SQLiteFactStore) RefreshAccessedFacts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now().UTC())
	const batchSize = 500
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		placeholders := strings.Repeat(`?,`, len(batch))
		placeholders = placeholders[:len(placeholders)-1]

		args := make([]any, 0, len(batch)+2)
		args = append(args, now, now)
		for _, id := range batch {
			args = append(args, id)
		}

		q := fmt.Sprintf(`UPDATE memstore_facts SET recall_count = recall_count + 1,
			last_accessed_at = ?, last_confirmed_at = ?
			WHERE id IN (%s) AND decay_class IN ('%s','%s')`,
			placeholders, string(DecayStable), string(DecayActive))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("memstore: refreshing accessed facts: %w", err)
		}
	}
	return nil
}

// reinforcedQuotesMax bounds the reinforced_quotes JSON list (spec §3:
// "reinforcedQuotes (bounded JSON list)"), keeping repeated reinforcement of
// a long-lived fact from growing the row without limit.
const reinforcedQuotesMax = 10

// Reinforce increments reinforcedCount and sets lastReinforcedAt, adapting
// the teacher's Confirm (sqlite.go's SQLiteStore.Confirm). If quote is
// non-empty it is appended to the bounded reinforcedQuotes list, dropping
// the oldest quote once the list is full. Returns ErrNotFound if id doesn't
// exist.
func (s *SQLiteFactStore) Reinforce(ctx context.Context, id string, quote string) (*Fact, error) {
	if err := s.reinforceLocked(ctx, id, quote); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id, GetByIDOpts{IncludeSuperseded: true})
}

func (s *SQLiteFactStore) reinforceLocked(ctx context.Context, id string, quote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var quotesJSON sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT reinforced_quotes FROM memstore_facts WHERE id = ?`, id,
	).Scan(&quotesJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("memstore: reinforcing %s: %w", id, err)
	}

	var quotes []string
	if quotesJSON.Valid && quotesJSON.String != "" {
		json.Unmarshal([]byte(quotesJSON.String), &quotes)
	}
	if quote != "" {
		quotes = append(quotes, quote)
		if len(quotes) > reinforcedQuotesMax {
			quotes = quotes[len(quotes)-reinforcedQuotesMax:]
		}
	}
	newQuotesJSON, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("memstore: reinforcing %s: marshaling quotes: %w", id, err)
	}

	now := formatTime(time.Now().UTC())
	result, err := s.db.ExecContext(ctx,
		`UPDATE memstore_facts SET reinforced_count = reinforced_count + 1,
			last_reinforced_at = ?, reinforced_quotes = ? WHERE id = ?`,
		now, string(newQuotesJSON), id,
	)
	if err != nil {
		return fmt.Errorf("memstore: reinforcing %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("memstore: reinforcing %s: %w", id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// HasDuplicate reports whether a fact with exactly this text already exists.
func (s *SQLiteFactStore) HasDuplicate(ctx context.Context, text string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memstore_facts WHERE text = ?`, text).Scan(&count); err != nil {
		return false, fmt.Errorf("memstore: checking duplicate: %w", err)
	}
	return count > 0, nil
}

// FindSimilarForClassification is the fact-store fallback for the
// classifier's similar-fact gathering when no embedder/vector result is
// available (spec §4.6 step 2): matches by entity/key equality first, then
// falls back to FTS over text.
func (s *SQLiteFactStore) FindSimilarForClassification(ctx context.Context, text, entity, key string, n int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 3
	}

	if entity != "" || key != "" {
		q := `SELECT ` + factColumns + ` FROM memstore_facts WHERE superseded_at IS NULL`
		var args []any
		if entity != "" {
			q += ` AND entity = ?`
			args = append(args, entity)
		}
		if key != "" {
			q += ` AND key = ?`
			args = append(args, key)
		}
		q += ` ORDER BY created_at DESC LIMIT ?`
		args = append(args, n)
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("memstore: finding similar by entity/key: %w", err)
		}
		defer rows.Close()
		facts, err := scanFacts(rows)
		if err != nil {
			return nil, err
		}
		if len(facts) > 0 {
			return facts, nil
		}
	}

	ftsQuery := quoteFTSQuery(text)
	if ftsQuery == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixColumns("f.")+`
		 FROM memstore_facts_fts fts JOIN memstore_facts f ON f.rowid = fts.rowid
		 WHERE memstore_facts_fts MATCH ? AND f.superseded_at IS NULL
		 ORDER BY rank LIMIT ?`, ftsQuery, n)
	if err != nil {
		return nil, fmt.Errorf("memstore: finding similar by FTS: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// GetFactsForConsolidation returns up to limit facts categorized `other`,
// oldest first, as candidates for the auto-classify scheduler (spec §4.9).
func (s *SQLiteFactStore) GetFactsForConsolidation(ctx context.Context, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM memstore_facts
		 WHERE category = ? AND superseded_at IS NULL ORDER BY created_at ASC LIMIT ?`,
		string(CategoryOther), limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: listing consolidation candidates: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// GetHotFacts returns hot-tier facts within tokenBudget (estimateTokens over
// summary-or-text), honoring the hotMaxFacts cap implicitly via the caller's
// limit on tokenBudget; a non-positive tokenBudget means unlimited.
func (s *SQLiteFactStore) GetHotFacts(ctx context.Context, tokenBudget int, scopeFilter Scope) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + factColumns + ` FROM memstore_facts WHERE tier = ? AND superseded_at IS NULL`
	args := []any{string(TierHot)}
	if scopeFilter != "" {
		q += ` AND scope = ?`
		args = append(args, string(scopeFilter))
	}
	q += ` ORDER BY last_accessed_at DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memstore: listing hot facts: %w", err)
	}
	defer rows.Close()
	all, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}

	if tokenBudget <= 0 {
		return all, nil
	}
	var out []Fact
	total := 0
	for _, f := range all {
		cost := EstimateTokens(injectionText(f))
		if total+cost > tokenBudget {
			break
		}
		out = append(out, f)
		total += cost
	}
	return out, nil
}

func injectionText(f Fact) string {
	if f.Summary != "" {
		return f.Summary
	}
	return f.Text
}

// EstimateTokens approximates token count as len(s)/4 (spec §4.5).
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func prefixColumns(prefix string) string {
	cols := strings.Split(factColumns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// appendFactFilters appends tier/scope/supersession/asOf WHERE clauses,
// the same dynamic-filter-builder style as the teacher's
// appendNamespaceFilter/appendMetadataFilters.
func appendFactFilters(q string, args []any, alias string, tiers []Tier, scope Scope, includeSuperseded bool, asOf *time.Time) (string, []any) {
	if len(tiers) > 0 {
		placeholders := strings.Repeat(`?,`, len(tiers))
		placeholders = placeholders[:len(placeholders)-1]
		q += fmt.Sprintf(` AND %stier IN (%s)`, alias, placeholders)
		for _, t := range tiers {
			args = append(args, string(t))
		}
	}
	if scope != "" {
		q += fmt.Sprintf(` AND %sscope = ?`, alias)
		args = append(args, string(scope))
	}
	if asOf != nil {
		q += fmt.Sprintf(` AND %svalid_from <= ? AND (%svalid_until IS NULL OR %svalid_until > ?)`, alias, alias, alias)
		asOfStr := formatTime(*asOf)
		args = append(args, asOfStr, asOfStr)
	} else if !includeSuperseded {
		q += fmt.Sprintf(` AND %ssuperseded_at IS NULL`, alias)
	}
	return q, args
}

// PruneExpired hard-deletes non-permanent facts whose TTL has elapsed
// (createdAt + decayClass.TTL() <= now), returning the deleted ids so the
// caller can also remove them from the vector store and link graph (spec
// §4.8: "hard prune: delete expired facts (and their vectors/links)").
func (s *SQLiteFactStore) PruneExpired(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, dc := range []DecayClass{DecayStable, DecayActive, DecaySession, DecayCheckpoint} {
		ttl := dc.TTL()
		if ttl <= 0 {
			continue
		}
		cutoff := formatTime(now.Add(-ttl))
		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM memstore_facts WHERE decay_class = ? AND created_at <= ?`,
			string(dc), cutoff)
		if err != nil {
			return nil, fmt.Errorf("memstore: finding expired facts: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err == nil {
				ids = append(ids, id)
			}
		}
		rows.Close()
	}

	for _, id := range ids {
		if err := s.deleteFactLocked(ctx, id); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

func (s *SQLiteFactStore) deleteFactLocked(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memstore_links WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return fmt.Errorf("memstore: deleting links for %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memstore_facts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memstore: deleting fact %s: %w", id, err)
	}
	return nil
}

// DeleteFact removes a fact and its incident links.
func (s *SQLiteFactStore) DeleteFact(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteFactLocked(ctx, id)
}

// decayConfidenceFloor is the threshold below which a soft-decayed fact is
// treated as expired and hard-deleted (spec §4.8).
const decayConfidenceFloor = 0.1

// SoftDecayTick halves decay_confidence for finite-TTL facts past 75% of
// their TTL, then hard-deletes any fact whose confidence has fallen below
// decayConfidenceFloor. Returns the number of facts halved and the ids of
// facts deleted as a result.
func (s *SQLiteFactStore) SoftDecayTick(ctx context.Context, now time.Time) (halved int, expired []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dc := range []DecayClass{DecayStable, DecayActive, DecaySession, DecayCheckpoint} {
		ttl := dc.TTL()
		if ttl <= 0 {
			continue
		}
		threshold := now.Add(-time.Duration(float64(ttl) * 0.75))
		result, execErr := s.db.ExecContext(ctx,
			`UPDATE memstore_facts SET decay_confidence = decay_confidence / 2
			 WHERE decay_class = ? AND created_at <= ? AND superseded_at IS NULL`,
			string(dc), formatTime(threshold))
		if execErr != nil {
			return halved, expired, fmt.Errorf("memstore: soft decay: %w", execErr)
		}
		n, _ := result.RowsAffected()
		halved += int(n)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM memstore_facts WHERE decay_confidence < ?`, decayConfidenceFloor)
	if err != nil {
		return halved, expired, fmt.Errorf("memstore: finding decayed facts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	for _, id := range ids {
		if err := s.deleteFactLocked(ctx, id); err != nil {
			return halved, expired, err
		}
	}
	return halved, ids, nil
}

// SetTier moves a fact to a new tier (hot/warm/cold compaction transitions).
func (s *SQLiteFactStore) SetTier(ctx context.Context, id string, tier Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `UPDATE memstore_facts SET tier = ? WHERE id = ?`, string(tier), id); err != nil {
		return fmt.Errorf("memstore: setting tier for %s: %w", id, err)
	}
	return nil
}

// CompletedTasksToCold demotes hot-tier facts that look like completed
// tasks to cold, returning the count moved (spec §4.8 tier table).
func (s *SQLiteFactStore) CompletedTasksToCold(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, value, text FROM memstore_facts WHERE tier = ? AND superseded_at IS NULL`, string(TierHot))
	if err != nil {
		return 0, fmt.Errorf("memstore: listing hot facts for compaction: %w", err)
	}
	type row struct{ id, key, value, text string }
	var candidates []row
	for rows.Next() {
		var r row
		var key, value sql.NullString
		if err := rows.Scan(&r.id, &key, &value, &r.text); err == nil {
			r.key, r.value = key.String, value.String
			candidates = append(candidates, r)
		}
	}
	rows.Close()

	moved := 0
	for _, r := range candidates {
		if looksLikeCompletedTask(r.key, r.value, r.text) {
			if _, err := s.db.ExecContext(ctx, `UPDATE memstore_facts SET tier = ? WHERE id = ?`, string(TierCold), r.id); err != nil {
				return moved, fmt.Errorf("memstore: demoting %s: %w", r.id, err)
			}
			moved++
		}
	}
	return moved, nil
}

// ActiveBlockersToHot promotes warm/cold facts that look like active
// blockers to hot.
func (s *SQLiteFactStore) ActiveBlockersToHot(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, value, text FROM memstore_facts WHERE tier != ? AND superseded_at IS NULL`, string(TierHot))
	if err != nil {
		return 0, fmt.Errorf("memstore: listing non-hot facts for compaction: %w", err)
	}
	type row struct{ id, key, value, text string }
	var candidates []row
	for rows.Next() {
		var r row
		var key, value sql.NullString
		if err := rows.Scan(&r.id, &key, &value, &r.text); err == nil {
			r.key, r.value = key.String, value.String
			candidates = append(candidates, r)
		}
	}
	rows.Close()

	moved := 0
	for _, r := range candidates {
		if looksLikeActiveBlocker(r.key, r.value, r.text) {
			if _, err := s.db.ExecContext(ctx, `UPDATE memstore_facts SET tier = ? WHERE id = ?`, string(TierHot), r.id); err != nil {
				return moved, fmt.Errorf("memstore: promoting %s: %w", r.id, err)
			}
			moved++
		}
	}
	return moved, nil
}

// StaleActiveToWarm demotes active-tier... actually demotes hot facts whose
// last access is older than inactiveFor to warm, freeing hot-tier budget
// for recently useful facts.
func (s *SQLiteFactStore) StaleActiveToWarm(ctx context.Context, inactiveFor time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(now.Add(-inactiveFor))
	result, err := s.db.ExecContext(ctx,
		`UPDATE memstore_facts SET tier = ? WHERE tier = ? AND superseded_at IS NULL
		 AND COALESCE(last_accessed_at, created_at) <= ?`,
		string(TierWarm), string(TierHot), cutoff)
	if err != nil {
		return 0, fmt.Errorf("memstore: demoting stale hot facts: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// EvictHotOverBudget demotes the least-recently-accessed hot facts to warm
// until the hot tier is within tokenBudget (by injectionText length) and
// maxFacts count. Returns the ids demoted.
func (s *SQLiteFactStore) EvictHotOverBudget(ctx context.Context, tokenBudget, maxFacts int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+factColumns+` FROM memstore_facts WHERE tier = ? AND superseded_at IS NULL
		 ORDER BY last_accessed_at DESC, created_at DESC`, string(TierHot))
	if err != nil {
		return nil, fmt.Errorf("memstore: listing hot facts for eviction: %w", err)
	}
	facts, err := scanFacts(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var evicted []string
	total := 0
	count := 0
	for _, f := range facts {
		cost := EstimateTokens(injectionText(f))
		count++
		if (tokenBudget > 0 && total+cost > tokenBudget) || (maxFacts > 0 && count > maxFacts) {
			evicted = append(evicted, f.ID)
			continue
		}
		total += cost
	}

	for _, id := range evicted {
		if _, err := s.db.ExecContext(ctx, `UPDATE memstore_facts SET tier = ? WHERE id = ?`, string(TierWarm), id); err != nil {
			return evicted, fmt.Errorf("memstore: evicting %s: %w", id, err)
		}
	}
	return evicted, nil
}

// CompactionResult summarizes one RunCompaction pass.
type CompactionResult struct {
	DemotedCompleted int
	PromotedBlockers int
	DemotedStale     int
	EvictedOverBudget []string
}

// RunCompaction performs one tier-compaction pass: completed tasks to
// cold, active blockers to hot, hot facts inactive for staleAfter to warm,
// then evicts any remaining hot-tier overflow against tokenBudget/maxFacts
// (spec §4.8 tier table + hot-tier budget).
func (s *SQLiteFactStore) RunCompaction(ctx context.Context, staleAfter time.Duration, tokenBudget, maxFacts int) (CompactionResult, error) {
	var res CompactionResult

	n, err := s.CompletedTasksToCold(ctx)
	if err != nil {
		return res, err
	}
	res.DemotedCompleted = n

	n, err = s.ActiveBlockersToHot(ctx)
	if err != nil {
		return res, err
	}
	res.PromotedBlockers = n

	n, err = s.StaleActiveToWarm(ctx, staleAfter, time.Now().UTC())
	if err != nil {
		return res, err
	}
	res.DemotedStale = n

	evicted, err := s.EvictHotOverBudget(ctx, tokenBudget, maxFacts)
	if err != nil {
		return res, err
	}
	res.EvictedOverBudget = evicted

	return res, nil
}

// Close is a no-op; the caller owns the database connection.
func (s *SQLiteFactStore) Close() error {
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFact(row scanner) (*Fact, error) {
	f, _, err := scanFactRow(row, false)
	return f, err
}

func scanFactWithRank(row scanner) (*Fact, float64, error) {
	return scanFactRow(row, true)
}

func scanFactRow(row scanner, withRank bool) (*Fact, float64, error) {
	var f Fact
	var summary, entity, key, value, source, normalizedHash sql.NullString
	var lastAccessedAt, lastConfirmedAt, validUntil, supersededAt, sourceDate, lastReinforcedAt sql.NullString
	var supersededBy, supersedesID sql.NullString
	var category, decayClass, tier, scope string
	var createdAt, validFrom string
	var tagsJSON sql.NullString
	var reinforcedQuotesJSON sql.NullString
	var metadata sql.NullString
	var decayConfidence float64
	var rank float64

	dest := []any{
		&f.ID, &f.Text, &summary, &entity, &key, &value, &category, &f.Importance,
		&f.RecallCount, &lastAccessedAt, &decayClass, &createdAt, &lastConfirmedAt,
		&tier, &scope, &f.ScopeTarget, &validFrom, &validUntil, &supersededAt,
		&supersededBy, &supersedesID, &sourceDate, &normalizedHash, &source, &tagsJSON,
		&f.ReinforcedCount, &lastReinforcedAt, &reinforcedQuotesJSON, &decayConfidence, &metadata,
	}
	if withRank {
		dest = append(dest, &rank)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	f.Summary, f.Entity, f.Key, f.Value, f.Source = summary.String, entity.String, key.String, value.String, source.String
	f.NormalizedHash = normalizedHash.String
	f.Category = Category(category)
	f.DecayClass = DecayClass(decayClass)
	f.Tier = Tier(tier)
	f.Scope = Scope(scope)
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	f.ValidFrom, _ = time.Parse(time.RFC3339Nano, validFrom)
	f.LastAccessedAt = parseTimePtr(lastAccessedAt)
	f.LastConfirmedAt = parseTimePtr(lastConfirmedAt)
	f.ValidUntil = parseTimePtr(validUntil)
	f.SupersededAt = parseTimePtr(supersededAt)
	f.SourceDate = parseTimePtr(sourceDate)
	f.LastReinforcedAt = parseTimePtr(lastReinforcedAt)
	if supersededBy.Valid {
		v := supersededBy.String
		f.SupersededBy = &v
	}
	if supersedesID.Valid {
		v := supersedesID.String
		f.SupersedesID = &v
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
	}
	if reinforcedQuotesJSON.Valid && reinforcedQuotesJSON.String != "" {
		json.Unmarshal([]byte(reinforcedQuotesJSON.String), &f.ReinforcedQuotes)
	}
	if metadata.Valid && metadata.String != "" {
		f.Metadata = json.RawMessage(metadata.String)
	}

	return &f, rank, nil
}

// UpsertLink creates a typed link or strengthens an existing one of the
// same (from, to, kind) by adding delta to its strength (clamped to
// [0,1]).
func (s *SQLiteFactStore) UpsertLink(ctx context.Context, l Link) error {
	if !l.Kind.Valid() {
		return fmt.Errorf("%w: unknown link kind %q", ErrInvariant, l.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memstore_links (from_id, to_id, kind, strength, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(from_id, to_id, kind) DO UPDATE SET
		   strength = MIN(1.0, memstore_links.strength + excluded.strength)`,
		l.FromID, l.ToID, string(l.Kind), l.Strength, formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("memstore: upserting link %s->%s: %w", l.FromID, l.ToID, err)
	}
	return nil
}

// StrengthenRelated increments the "related" link strength between two
// facts recalled together in the same turn (Hebbian co-recall, spec §4.7),
// creating the link at strength delta if it does not already exist.
func (s *SQLiteFactStore) StrengthenRelated(ctx context.Context, fromID, toID string, delta float64) error {
	return s.UpsertLink(ctx, Link{FromID: fromID, ToID: toID, Kind: LinkRelatedTo, Strength: delta, CreatedAt: time.Now().UTC()})
}

// Neighbors returns the links directly attached to factID, in either
// direction when outOnly is false.
func (s *SQLiteFactStore) Neighbors(ctx context.Context, factID string, outOnly bool) ([]Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT from_id, to_id, kind, strength, created_at FROM memstore_links WHERE from_id = ?`
	args := []any{factID}
	if !outOnly {
		q = `SELECT from_id, to_id, kind, strength, created_at FROM memstore_links WHERE from_id = ? OR to_id = ?`
		args = append(args, factID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memstore: listing neighbors of %s: %w", factID, err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var kind, createdAt string
		if err := rows.Scan(&l.FromID, &l.ToID, &kind, &l.Strength, &createdAt); err != nil {
			return nil, fmt.Errorf("memstore: scanning link: %w", err)
		}
		l.Kind = LinkKind(kind)
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

// DeleteLinksForFact removes every link incident to factID.
func (s *SQLiteFactStore) DeleteLinksForFact(ctx context.Context, factID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memstore_links WHERE from_id = ? OR to_id = ?`, factID, factID)
	if err != nil {
		return fmt.Errorf("memstore: deleting links for %s: %w", factID, err)
	}
	return nil
}

// StoreProcedure inserts or replaces a procedure by id (generating one if
// empty) and returns the stored record.
func (s *SQLiteFactStore) StoreProcedure(ctx context.Context, p Procedure) (*Procedure, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown procedure type %q", ErrInvariant, p.Type)
	}
	if p.Scope == "" {
		p.Scope = ScopeGlobal
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memstore_procedures (
			id, task_pattern, recipe_json, type, success_count, failure_count,
			confidence, last_validated, last_failed, promoted_to_skill, skill_path,
			scope, scope_target
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET task_pattern=excluded.task_pattern,
		   recipe_json=excluded.recipe_json, type=excluded.type,
		   success_count=excluded.success_count, failure_count=excluded.failure_count,
		   confidence=excluded.confidence, last_validated=excluded.last_validated,
		   last_failed=excluded.last_failed, promoted_to_skill=excluded.promoted_to_skill,
		   skill_path=excluded.skill_path`,
		p.ID, p.TaskPattern, p.RecipeJSON, string(p.Type), p.SuccessCount, p.FailureCount,
		p.Confidence, formatTimePtr(p.LastValidated), formatTimePtr(p.LastFailed),
		boolToInt(p.PromotedToSkill), nullStr(p.SkillPath), string(p.Scope), p.ScopeTarget,
	)
	if err != nil {
		return nil, fmt.Errorf("memstore: storing procedure %s: %w", p.ID, err)
	}
	return &p, nil
}

// FindProcedures returns procedures whose task_pattern matches pattern
// (substring match), ordered by confidence descending.
func (s *SQLiteFactStore) FindProcedures(ctx context.Context, pattern string, scope Scope) ([]Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, task_pattern, recipe_json, type, success_count, failure_count,
		confidence, last_validated, last_failed, promoted_to_skill, skill_path, scope, scope_target
		FROM memstore_procedures WHERE task_pattern LIKE ?`
	args := []any{"%" + pattern + "%"}
	if scope != "" {
		q += ` AND scope = ?`
		args = append(args, string(scope))
	}
	q += ` ORDER BY confidence DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memstore: finding procedures: %w", err)
	}
	defer rows.Close()

	var out []Procedure
	for rows.Next() {
		var p Procedure
		var typ, scopeStr string
		var lastValidated, lastFailed, skillPath sql.NullString
		var promoted int
		if err := rows.Scan(&p.ID, &p.TaskPattern, &p.RecipeJSON, &typ, &p.SuccessCount, &p.FailureCount,
			&p.Confidence, &lastValidated, &lastFailed, &promoted, &skillPath, &scopeStr, &p.ScopeTarget); err != nil {
			return nil, fmt.Errorf("memstore: scanning procedure: %w", err)
		}
		p.Type = ProcedureType(typ)
		p.Scope = Scope(scopeStr)
		p.LastValidated = parseTimePtr(lastValidated)
		p.LastFailed = parseTimePtr(lastFailed)
		p.SkillPath = skillPath.String
		p.PromotedToSkill = promoted != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("memstore: scanning fact: %w", err)
		}
		facts = append(facts, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memstore: iterating facts: %w", err)
	}
	return facts, nil
}

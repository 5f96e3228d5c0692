package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ExportData is the top-level structure for a memstore export. Facts carry
// their full bi-temporal/scope/decay state; embeddings are deliberately
// excluded since they are model-specific binary blobs that don't transfer
// portably — re-embed after import by re-running each fact's text through
// the target deployment's configured Embedder and writing straight to its
// VectorStore.
type ExportData struct {
	Version    int         `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Facts      []Fact      `json:"facts"`
	Links      []Link      `json:"links"`
	Procedures []Procedure `json:"procedures"`
}

const exportVersion = 1

// Export reads every fact (including superseded), link, and procedure out
// of facts and returns them as an ExportData snapshot.
func Export(ctx context.Context, facts *SQLiteFactStore) (*ExportData, error) {
	facts.mu.RLock()
	defer facts.mu.RUnlock()

	data := &ExportData{Version: exportVersion, ExportedAt: time.Now().UTC()}

	rows, err := facts.db.QueryContext(ctx, `SELECT `+factColumns+` FROM memstore_facts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("memstore: export: querying facts: %w", err)
	}
	fs, err := scanFacts(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("memstore: export: scanning facts: %w", err)
	}
	data.Facts = fs

	linkRows, err := facts.db.QueryContext(ctx, `SELECT from_id, to_id, kind, strength, created_at FROM memstore_links ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("memstore: export: querying links: %w", err)
	}
	defer linkRows.Close()
	for linkRows.Next() {
		var l Link
		var kind, createdAt string
		if err := linkRows.Scan(&l.FromID, &l.ToID, &kind, &l.Strength, &createdAt); err != nil {
			return nil, fmt.Errorf("memstore: export: scanning link: %w", err)
		}
		l.Kind = LinkKind(kind)
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		data.Links = append(data.Links, l)
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("memstore: export: iterating links: %w", err)
	}

	procRows, err := facts.db.QueryContext(ctx,
		`SELECT id, task_pattern, recipe_json, type, success_count, failure_count,
		        confidence, last_validated, last_failed, promoted_to_skill, skill_path,
		        scope, scope_target
		 FROM memstore_procedures ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("memstore: export: querying procedures: %w", err)
	}
	defer procRows.Close()
	for procRows.Next() {
		var p Procedure
		var recipeJSON, typ, scope string
		var lastValidated, lastFailed sql.NullString
		var skillPath sql.NullString
		var promoted bool
		if err := procRows.Scan(&p.ID, &p.TaskPattern, &recipeJSON, &typ, &p.SuccessCount, &p.FailureCount,
			&p.Confidence, &lastValidated, &lastFailed, &promoted, &skillPath, &scope, &p.ScopeTarget); err != nil {
			return nil, fmt.Errorf("memstore: export: scanning procedure: %w", err)
		}
		p.RecipeJSON = []byte(recipeJSON)
		p.Type = ProcedureType(typ)
		p.Scope = Scope(scope)
		p.PromotedToSkill = promoted
		p.SkillPath = skillPath.String
		p.LastValidated = parseTimePtr(lastValidated)
		p.LastFailed = parseTimePtr(lastFailed)
		data.Procedures = append(data.Procedures, p)
	}
	if err := procRows.Err(); err != nil {
		return nil, fmt.Errorf("memstore: export: iterating procedures: %w", err)
	}

	return data, nil
}

// ImportOpts controls import behavior.
type ImportOpts struct {
	// SkipExisting skips any row whose ID already exists in the target
	// store instead of failing the whole import.
	SkipExisting bool
}

// ImportResult summarizes an import operation.
type ImportResult struct {
	FactsImported      int
	FactsSkipped       int
	LinksImported      int
	ProceduresImported int
}

// Import writes an ExportData snapshot into facts. Fact ids are UUIDs
// carried over verbatim from the export (unlike an autoincrement scheme,
// no remapping is needed for supersession or link references to stay
// consistent). Embeddings are not restored; the caller is responsible for
// re-embedding and writing to its VectorStore after Import returns.
func Import(ctx context.Context, facts *SQLiteFactStore, data *ExportData, opts ImportOpts) (*ImportResult, error) {
	if data.Version != exportVersion {
		return nil, fmt.Errorf("memstore: import: unsupported export version %d", data.Version)
	}

	facts.mu.Lock()
	defer facts.mu.Unlock()

	result := &ImportResult{}

	for _, f := range data.Facts {
		var exists bool
		if opts.SkipExisting {
			if err := facts.db.QueryRowContext(ctx, `SELECT 1 FROM memstore_facts WHERE id = ?`, f.ID).Scan(new(int)); err == nil {
				exists = true
			}
		}
		if exists {
			result.FactsSkipped++
			continue
		}
		if err := insertFactRow(ctx, facts.db, f); err != nil {
			return nil, err
		}
		result.FactsImported++
	}

	for _, l := range data.Links {
		_, err := facts.db.ExecContext(ctx,
			`INSERT INTO memstore_links (from_id, to_id, kind, strength, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(from_id, to_id, kind) DO UPDATE SET strength = excluded.strength`,
			l.FromID, l.ToID, string(l.Kind), l.Strength, l.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, fmt.Errorf("memstore: import: inserting link %s->%s: %w", l.FromID, l.ToID, err)
		}
		result.LinksImported++
	}

	for _, p := range data.Procedures {
		if err := insertProcedureRow(ctx, facts.db, p); err != nil {
			return nil, err
		}
		result.ProceduresImported++
	}

	return result, nil
}

// insertFactRow writes f verbatim, bypassing Store's dedup/classification
// path — import is a restore operation, not a capture.
func insertFactRow(ctx context.Context, db *sql.DB, f Fact) error {
	tagsJSON, err := json.Marshal(f.Tags)
	if err != nil {
		return fmt.Errorf("memstore: import: marshaling tags: %w", err)
	}
	quotesJSON, err := json.Marshal(f.ReinforcedQuotes)
	if err != nil {
		return fmt.Errorf("memstore: import: marshaling reinforced quotes: %w", err)
	}
	var metadata any
	if len(f.Metadata) > 0 {
		metadata = string(f.Metadata)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO memstore_facts (
			id, text, summary, entity, key, value, category, importance,
			recall_count, last_accessed_at, decay_class, created_at, last_confirmed_at,
			tier, scope, scope_target, valid_from, valid_until, superseded_at,
			superseded_by, supersedes_id, source_date, normalized_hash, source, tags,
			reinforced_count, last_reinforced_at, reinforced_quotes, decay_confidence, metadata
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		f.ID, f.Text, nullStr(f.Summary), nullStr(f.Entity), nullStr(f.Key), nullStr(f.Value),
		string(f.Category), f.Importance,
		f.RecallCount, formatTimePtr(f.LastAccessedAt), string(f.DecayClass),
		formatTime(f.CreatedAt), formatTimePtr(f.LastConfirmedAt),
		string(f.Tier), string(f.Scope), f.ScopeTarget,
		formatTime(f.ValidFrom), formatTimePtr(f.ValidUntil), formatTimePtr(f.SupersededAt),
		f.SupersededBy, f.SupersedesID, formatTimePtr(f.SourceDate),
		nullStr(f.NormalizedHash), nullStr(f.Source), string(tagsJSON),
		f.ReinforcedCount, formatTimePtr(f.LastReinforcedAt), string(quotesJSON), 1.0, metadata,
	)
	if err != nil {
		return fmt.Errorf("memstore: import: inserting fact %s: %w", f.ID, err)
	}
	return nil
}

func insertProcedureRow(ctx context.Context, db *sql.DB, p Procedure) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO memstore_procedures (
			id, task_pattern, recipe_json, type, success_count, failure_count,
			confidence, last_validated, last_failed, promoted_to_skill, skill_path,
			scope, scope_target
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		p.ID, p.TaskPattern, string(p.RecipeJSON), string(p.Type), p.SuccessCount, p.FailureCount,
		p.Confidence, formatTimePtr(p.LastValidated), formatTimePtr(p.LastFailed), boolToInt(p.PromotedToSkill), nullStr(p.SkillPath),
		string(p.Scope), p.ScopeTarget,
	)
	if err != nil {
		return fmt.Errorf("memstore: import: inserting procedure %s: %w", p.ID, err)
	}
	return nil
}

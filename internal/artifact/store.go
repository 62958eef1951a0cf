// Package artifact implements the ArtifactStore collaborator (C5): typed
// CRUD plus a tag index over Artifacts, backed by an Embedder (C1) and a
// VectorStore (C2). Grounded on the teacher's internal/store/local.go /
// local_core.go (sqlite-backed store with a WAL pragma and a secondary
// metadata index table) and internal/store/tool_store.go's usage-counter
// bookkeeping, reworked from the teacher's domain-specific fact/tool tables
// onto the generic Artifact record spec.md §3 defines.
package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"forgecore/internal/embedding"
	"forgecore/internal/errs"
	"forgecore/internal/logging"
	"forgecore/internal/types"
	"forgecore/internal/vectorstore"
)

// Store is the ArtifactStore (C5): artifact bodies and structured metadata
// live in a sqlite secondary index for filter-only queries (tag lookups,
// kind scans, counters); embeddings live in the VectorStore so semantic
// queries go through C1+C2 as spec §4.3 requires.
type Store struct {
	mu    sync.RWMutex
	db    *sql.DB
	vec   *vectorstore.Store
	embed embedding.EmbeddingEngine
}

// Open opens (creating if needed) the sqlite secondary index at dbPath and
// wires it to an already-open VectorStore and EmbeddingEngine.
func Open(dbPath string, vec *vectorstore.Store, embed embedding.EmbeddingEngine) (*Store, error) {
	logging.Artifact("opening artifact store at %s", dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.ArtifactError("set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.ArtifactError("set busy_timeout: %v", err)
	}

	s := &Store{db: db, vec: vec, embed: embed}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	content BLOB NOT NULL,
	metadata TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS artifact_tags (
	artifact_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (artifact_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_artifact_tags_tag ON artifact_tags(tag);
CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
`)
	if err != nil {
		return fmt.Errorf("migrate artifacts schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle. It does not close the
// VectorStore, which the caller may share across stores.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store inserts or replaces an artifact (spec §3's invariant: re-storing
// with the same id replaces content and bumps updated_at). auto_embed=true
// embeds Content, or Description when Content is empty/binary-looking.
func (s *Store) Store(ctx context.Context, a *types.Artifact, autoEmbed, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	exists, err := s.existsLocked(a.ID)
	if err != nil {
		return err
	}
	if exists && !replace {
		return errs.ErrDuplicateID
	}

	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if autoEmbed && len(a.Embedding) == 0 && s.embed != nil {
		text := string(a.Content)
		if !isMostlyText(text) || text == "" {
			text = a.Description
		}
		emb, err := s.embed.Embed(ctx, text)
		if err != nil {
			logging.ArtifactError("embed failed for %s: %v — storing without a fresh embedding", a.ID, err)
		} else {
			a.Embedding = emb
		}
	}

	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO artifacts (id, kind, name, description, content, metadata, created_at, updated_at, usage_count, success_count, failure_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	kind=excluded.kind, name=excluded.name, description=excluded.description,
	content=excluded.content, metadata=excluded.metadata, updated_at=excluded.updated_at`,
		a.ID, string(a.Kind), a.Name, a.Description, a.Content, string(metaJSON),
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(), a.UsageCount, a.SuccessCount, a.FailureCount)
	if err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM artifact_tags WHERE artifact_id = ?", a.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range a.Tags {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO artifact_tags (artifact_id, tag) VALUES (?, ?)", a.ID, tag); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if len(a.Embedding) > 0 && s.vec != nil {
		payload := vectorstore.Payload{
			"kind":          string(a.Kind),
			"tags":          a.Tags,
			"quality_score": a.Metadata.QualityScore,
			"updated_at":    a.UpdatedAt.UnixMilli(),
		}
		if err := s.vec.Upsert(ctx, a.ID, a.Embedding, payload); err != nil {
			// Spec §4.3: the store never silently drops writes. The sqlite
			// row above is already durable; a vector-store failure here is
			// surfaced to the caller, who decides whether to retry.
			return fmt.Errorf("%w: vector upsert: %v", errs.ErrProviderUnavailable, err)
		}
	}

	logging.ArtifactDebug("stored artifact %s (kind=%s, tags=%v)", a.ID, a.Kind, a.Tags)
	return nil
}

func (s *Store) existsLocked(id string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(1) FROM artifacts WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get retrieves an artifact by id.
func (s *Store) Get(ctx context.Context, id string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (*types.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, kind, name, description, content, metadata, created_at, updated_at, usage_count, success_count, failure_count
FROM artifacts WHERE id = ?`, id)

	a := &types.Artifact{}
	var kind, metaJSON string
	var createdMs, updatedMs int64
	if err := row.Scan(&a.ID, &kind, &a.Name, &a.Description, &a.Content, &metaJSON, &createdMs, &updatedMs, &a.UsageCount, &a.SuccessCount, &a.FailureCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrArtifactNotFound
		}
		return nil, err
	}
	a.Kind = types.Kind(kind)
	a.CreatedAt = time.UnixMilli(createdMs)
	a.UpdatedAt = time.UnixMilli(updatedMs)
	if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT tag FROM artifact_tags WHERE artifact_id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		a.Tags = append(a.Tags, tag)
	}

	if s.vec != nil {
		if emb, _, err := s.vec.Get(ctx, id); err == nil {
			a.Embedding = emb
		}
	}
	return a, nil
}

// Delete removes an artifact from both the sqlite index and the vector
// store. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM artifacts WHERE id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM artifact_tags WHERE artifact_id = ?", id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if s.vec != nil {
		if err := s.vec.Delete(ctx, id); err != nil {
			logging.ArtifactError("vector delete for %s failed: %v", id, err)
		}
	}
	return nil
}

// Match is one (artifact, similarity) result from FindSimilar.
type Match struct {
	Artifact   *types.Artifact
	Similarity float64
}

// FindSimilar embeds query, asks the vector store for the top_k nearest
// artifacts of the given kinds with at least min_similarity, filtered by
// kind/tags, then hydrates full artifacts from the sqlite index. Ties are
// broken by quality_score desc, then updated_at desc (spec §4.3 ordering).
func (s *Store) FindSimilar(ctx context.Context, query string, kinds []types.Kind, tags []string, minSimilarity float64, topK int) ([]Match, error) {
	if s.embed == nil || s.vec == nil {
		return nil, fmt.Errorf("artifact: FindSimilar requires an embedder and vector store")
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filter := vectorstore.Filter{Tags: tags}
	// kind filtering happens post-hoc below since vectorstore.Filter only
	// does single-key equality; a multi-kind OR is not expressible there.
	hits, err := s.vec.Query(ctx, vec, topK*4+10, filter)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	kindSet := map[types.Kind]bool{}
	for _, k := range kinds {
		kindSet[k] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, h := range hits {
		if h.Similarity < minSimilarity {
			continue
		}
		if len(kindSet) > 0 {
			kv, _ := h.Payload["kind"].(string)
			if !kindSet[types.Kind(kv)] {
				continue
			}
		}
		a, err := s.getLocked(ctx, h.ID)
		if err != nil {
			continue
		}
		matches = append(matches, Match{Artifact: a, Similarity: h.Similarity})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].Artifact.Metadata.QualityScore != matches[j].Artifact.Metadata.QualityScore {
			return matches[i].Artifact.Metadata.QualityScore > matches[j].Artifact.Metadata.QualityScore
		}
		return matches[i].Artifact.UpdatedAt.After(matches[j].Artifact.UpdatedAt)
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// FindByTags returns artifacts carrying the given tags, matchAll requiring
// every tag to be present (AND) vs. any tag (OR).
func (s *Store) FindByTags(ctx context.Context, tags []string, matchAll bool) ([]*types.Artifact, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(tags))
	args := make([]interface{}, len(tags))
	for i, t := range tags {
		placeholders[i] = "?"
		args[i] = t
	}
	var ids []string
	if matchAll {
		query := fmt.Sprintf(`
SELECT artifact_id FROM artifact_tags WHERE tag IN (%s)
GROUP BY artifact_id HAVING COUNT(DISTINCT tag) = ?`, joinPlaceholders(placeholders))
		args = append(args, len(tags))
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	} else {
		query := fmt.Sprintf(`SELECT DISTINCT artifact_id FROM artifact_tags WHERE tag IN (%s)`, joinPlaceholders(placeholders))
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}

	out := make([]*types.Artifact, 0, len(ids))
	for _, id := range ids {
		a, err := s.getLocked(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ListByKind returns every artifact whose Kind is in kinds, with no tag or
// similarity filter. This is the enumeration primitive FindByTags (which
// requires a non-empty tag set) and FindSimilar (which requires an embedded
// query) can't serve — the EvolutionController (C15) needs the full
// FUNCTION/WORKFLOW population to rank, not a filtered subset.
func (s *Store) ListByKind(ctx context.Context, kinds []types.Kind) ([]*types.Artifact, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(kinds))
	args := make([]interface{}, len(kinds))
	for i, k := range kinds {
		placeholders[i] = "?"
		args[i] = string(k)
	}
	query := fmt.Sprintf(`SELECT id FROM artifacts WHERE kind IN (%s)`, joinPlaceholders(placeholders))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	out := make([]*types.Artifact, 0, len(ids))
	for _, id := range ids {
		a, err := s.getLocked(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}

// RecordExecution increments usage/success/failure counters and updates a
// rolling average latency/memory in metadata (spec §4.3, §5: Welford-style
// running means, commutative under concurrent calls once serialized
// per-artifact by the mutex here).
func (s *Store) RecordExecution(ctx context.Context, id string, latencyMs, memoryMB float64, success bool, qualityScore *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}

	a.UsageCount++
	if success {
		a.SuccessCount++
	} else {
		a.FailureCount++
	}

	n := float64(a.UsageCount)
	a.Metadata.LatencyMs += (latencyMs - a.Metadata.LatencyMs) / n
	a.Metadata.MemoryMBPeak += (memoryMB - a.Metadata.MemoryMBPeak) / n
	if qualityScore != nil {
		a.Metadata.QualityScore = *qualityScore
	}

	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE artifacts SET usage_count=?, success_count=?, failure_count=?, metadata=?, updated_at=?
WHERE id=?`, a.UsageCount, a.SuccessCount, a.FailureCount, string(metaJSON), time.Now().UnixMilli(), id)
	return err
}

// Trim removes artifacts of the given kind beyond keepRecent, ordered by
// updated_at desc, excluding pinned/inlined artifacts (spec B2).
func (s *Store) Trim(ctx context.Context, kind types.Kind, keepRecent int, excludePinned, excludeInlined bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, metadata FROM artifacts WHERE kind = ? ORDER BY updated_at DESC`, string(kind))
	if err != nil {
		return 0, err
	}
	type row struct {
		id   string
		meta types.Metadata
	}
	var all []row
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			rows.Close()
			return 0, err
		}
		var meta types.Metadata
		json.Unmarshal([]byte(metaJSON), &meta)
		all = append(all, row{id: id, meta: meta})
	}
	rows.Close()

	removed := 0
	for i, r := range all {
		if i < keepRecent {
			continue
		}
		if excludePinned && r.meta.Pinned {
			continue
		}
		if excludeInlined && r.meta.Inlined {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE id = ?", r.id); err != nil {
			return removed, err
		}
		s.db.ExecContext(ctx, "DELETE FROM artifact_tags WHERE artifact_id = ?", r.id)
		if s.vec != nil {
			s.vec.Delete(ctx, r.id)
		}
		removed++
	}
	logging.Artifact("trim kind=%s kept=%d removed=%d", kind, keepRecent, removed)
	return removed, nil
}

// isMostlyText is a cheap heuristic used by Store to decide whether Content
// is embeddable text or should fall back to Description, mirroring the
// spec §4.3 clause "embeds content (or description if content is binary)".
func isMostlyText(s string) bool {
	if len(s) == 0 {
		return false
	}
	nonPrintable := 0
	for _, r := range s {
		if r == 0 {
			return false
		}
		if r < 0x09 || (r > 0x0d && r < 0x20) {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(s)) < 0.05
}

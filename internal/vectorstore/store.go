// Package vectorstore implements the VectorStore collaborator (spec §4.1):
// upsert/query/get/delete/list over embedding vectors backed by SQLite.
// Similarity search is an exact scan: Query ranks every vector_items row by
// a vector_distance_cos SQL function; no vec0 virtual table or ANN index is
// read. Without the sqlite_vec+cgo tags, vec_compat.go registers that
// function on modernc.org/sqlite so the store works without a cgo
// toolchain, matching the teacher's fallback design.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"forgecore/internal/logging"
)

// Payload is an arbitrary JSON-serializable attachment stored alongside a
// vector; ArtifactStore (C5) uses it to carry artifact metadata.
type Payload map[string]interface{}

// Filter combines equality-on-key predicates and tag-set-membership
// predicates with AND semantics (spec §4.1).
type Filter struct {
	Equals map[string]interface{}
	Tags   []string // payload["tags"] must contain every listed tag
}

func (f Filter) matches(payload Payload) bool {
	for k, v := range f.Equals {
		if payload[k] != v {
			return false
		}
	}
	if len(f.Tags) == 0 {
		return true
	}
	raw, ok := payload["tags"]
	if !ok {
		return false
	}
	have := map[string]bool{}
	switch t := raw.(type) {
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok {
				have[s] = true
			}
		}
	case []string:
		for _, s := range t {
			have[s] = true
		}
	}
	for _, want := range f.Tags {
		if !have[want] {
			return false
		}
	}
	return true
}

// Hit is one query result: the stored id, its payload, and similarity in [0,1].
type Hit struct {
	ID         string
	Payload    Payload
	Similarity float64
}

// Store is a crash-safe vector store: writes go through a single SQLite
// transaction per call, so a failed upsert never leaves a partial row
// visible to subsequent queries.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int
}

// Open opens (creating if needed) a vector store at path with dim-wide
// vectors.
func Open(path string, dim int) (*Store, error) {
	logging.VectorStore("Opening vector store: path=%s dim=%d driver=%s", path, dim, driverName)
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, dim: dim}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS vector_items (
	id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	payload TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("migrate vector_items: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimensions returns the vector width this store was opened with.
func (s *Store) Dimensions() int {
	return s.dim
}

// Upsert stores or replaces the vector and payload for id. Crash-safety:
// the write is a single statement inside an explicit transaction, so a
// process crash mid-write leaves either the old row or nothing, never a
// half-written one.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, payload Payload) error {
	if len(vector) != s.dim {
		return fmt.Errorf("vectorstore: vector has %d dims, store expects %d", len(vector), s.dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO vector_items (id, embedding, payload) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET embedding=excluded.embedding, payload=excluded.payload",
		id, encodeVector(vector), string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return tx.Commit()
}

// Get returns the payload and vector stored for id.
func (s *Store) Get(ctx context.Context, id string) ([]float32, Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT embedding, payload FROM vector_items WHERE id = ?", id)
	var embBlob []byte
	var payloadJSON string
	if err := row.Scan(&embBlob, &payloadJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("vectorstore: id %q not found", id)
		}
		return nil, nil, err
	}
	var payload Payload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return decodeVector(embBlob), payload, nil
}

// Delete removes id from the store. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM vector_items WHERE id = ?", id)
	return err
}

// Query returns the k nearest neighbors to vector by cosine similarity,
// restricted to rows matching filter.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("vectorstore: query vector has %d dims, store expects %d", len(vector), s.dim)
	}
	if k <= 0 {
		k = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// vector_distance_cos is registered by init_vec.go (cgo sqlite-vec) or
	// vec_compat.go (pure-Go fallback); both expose the same name, so the
	// ranking query is identical either way. 1 - distance = cosine similarity.
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload, 1 - vector_distance_cos(embedding, ?) AS sim FROM vector_items ORDER BY sim DESC",
		encodeVector(vector),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, payloadJSON string
		var sim float64
		if err := rows.Scan(&id, &payloadJSON, &sim); err != nil {
			continue
		}
		var payload Payload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			continue
		}
		if !filter.matches(payload) {
			continue
		}
		hits = append(hits, Hit{ID: id, Payload: payload, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(hits) > k {
		hits = hits[:k]
	}
	logging.VectorStoreDebug("Query: matched %d candidates, returning top %d", len(hits), k)
	return hits, nil
}

// List iterates all ids matching filter, without similarity ranking.
func (s *Store) List(ctx context.Context, filter Filter) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, payload FROM vector_items")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var id, payloadJSON string
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			continue
		}
		var payload Payload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			continue
		}
		if !filter.matches(payload) {
			continue
		}
		out = append(out, Hit{ID: id, Payload: payload})
	}
	return out, rows.Err()
}

// KeywordSearch is a fallback lookup used when no embedding is available
// for the query text: it LIKE-matches the serialized payload for each
// query keyword, mirroring the teacher's VectorRecall keyword path.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	cond, args := keywordConditions(query)
	if cond == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlQuery := fmt.Sprintf("SELECT id, payload FROM vector_items WHERE %s LIMIT ?", cond)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var id, payloadJSON string
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			continue
		}
		var payload Payload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			continue
		}
		out = append(out, Hit{ID: id, Payload: payload})
	}
	return out, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// keywordConditions builds a fallback LIKE-based search, used by
// ArtifactStore when an embedding is unavailable for a query string.
func keywordConditions(query string) (string, []interface{}) {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return "", nil
	}
	conds := make([]string, len(keywords))
	args := make([]interface{}, len(keywords))
	for i, kw := range keywords {
		conds[i] = "LOWER(payload) LIKE ?"
		args[i] = "%" + kw + "%"
	}
	return strings.Join(conds, " OR "), args
}

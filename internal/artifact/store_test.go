package artifact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"forgecore/internal/embedding"
	"forgecore/internal/errs"
	"forgecore/internal/types"
	"forgecore/internal/vectorstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	vec, err := vectorstore.Open(filepath.Join(dir, "vectors.db"), 32)
	if err != nil {
		t.Fatalf("open vectorstore: %v", err)
	}
	t.Cleanup(func() { vec.Close() })

	eng, err := embedding.NewLocalEngine(32)
	if err != nil {
		t.Fatalf("new local engine: %v", err)
	}

	s, err := Open(filepath.Join(dir, "artifacts.db"), vec, eng)
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &types.Artifact{
		ID:          "fn-1",
		Kind:        types.KindFunction,
		Name:        "sum",
		Description: "sum a list of numbers",
		Content:     []byte("package main\nfunc main() {}\n"),
		Tags:        []string{"math", "sum"},
		Metadata:    types.Metadata{QualityScore: 0.9},
	}
	if err := s.Store(ctx, a, true, false); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := s.Get(ctx, "fn-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "sum" || got.Description != a.Description {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Embedding) != 32 {
		t.Fatalf("expected auto-embedded 32-dim vector, got %d", len(got.Embedding))
	}
}

func TestStoreDuplicateIDWithoutReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := &types.Artifact{ID: "dup-1", Kind: types.KindPlan, Description: "x"}
	if err := s.Store(ctx, a, false, false); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := s.Store(ctx, a, false, false); err != errs.ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	// replace=true must succeed and bump updated_at
	time.Sleep(time.Millisecond)
	if err := s.Store(ctx, a, false, true); err != nil {
		t.Fatalf("replace store: %v", err)
	}
}

func TestFindSimilarOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(id, desc string, q float64) *types.Artifact {
		return &types.Artifact{ID: id, Kind: types.KindFunction, Description: desc, Metadata: types.Metadata{QualityScore: q}}
	}
	for _, a := range []*types.Artifact{
		mk("a1", "sum a list of numbers", 0.5),
		mk("a2", "sum a list of numbers", 0.9),
	} {
		if err := s.Store(ctx, a, true, false); err != nil {
			t.Fatalf("store %s: %v", a.ID, err)
		}
	}

	matches, err := s.FindSimilar(ctx, "sum a list of numbers", []types.Kind{types.KindFunction}, nil, 0.0, 5)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	// Equal similarity (identical text) ties broken by quality_score desc.
	if matches[0].Artifact.ID != "a2" {
		t.Fatalf("expected a2 (higher quality) first on tie, got %s", matches[0].Artifact.ID)
	}
}

func TestTrimExcludesPinnedAndInlined(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, a := range []*types.Artifact{
		{ID: "p1", Kind: types.KindFunction, Description: "one", Metadata: types.Metadata{Pinned: true}},
		{ID: "p2", Kind: types.KindFunction, Description: "two", Metadata: types.Metadata{Inlined: true}},
		{ID: "p3", Kind: types.KindFunction, Description: "three"},
	} {
		_ = i
		if err := s.Store(ctx, a, false, false); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	removed, err := s.Trim(ctx, types.KindFunction, 0, true, true)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed (p3), got %d", removed)
	}
	if _, err := s.Get(ctx, "p1"); err != nil {
		t.Fatalf("pinned artifact should survive trim: %v", err)
	}
	if _, err := s.Get(ctx, "p2"); err != nil {
		t.Fatalf("inlined artifact should survive trim: %v", err)
	}
	if _, err := s.Get(ctx, "p3"); err != errs.ErrArtifactNotFound {
		t.Fatalf("unpinned artifact should be trimmed, got %v", err)
	}
}

func TestRecordExecutionCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := &types.Artifact{ID: "exec-1", Kind: types.KindFunction, Description: "x"}
	if err := s.Store(ctx, a, false, false); err != nil {
		t.Fatal(err)
	}
	q := 0.8
	if err := s.RecordExecution(ctx, "exec-1", 120, 4.0, true, &q); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	got, err := s.Get(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 1 || got.SuccessCount != 1 || got.FailureCount != 0 {
		t.Fatalf("counters wrong: %+v", got)
	}
	if got.Metadata.QualityScore != 0.8 {
		t.Fatalf("expected quality score 0.8, got %v", got.Metadata.QualityScore)
	}
}

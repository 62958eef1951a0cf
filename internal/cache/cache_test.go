package cache

import (
	"context"
	"testing"
	"time"

	"forgecore/internal/artifact"
	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/llm"
	"forgecore/internal/router"
	"forgecore/internal/types"
	"forgecore/internal/vectorstore"
)

type mockBackend struct {
	generateFunc func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error)
}

func (m *mockBackend) Generate(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
	return m.generateFunc(ctx, modelID, prompt, params)
}

func (m *mockBackend) StreamGenerate(ctx context.Context, modelID, prompt string, params llm.Params) (<-chan string, <-chan error) {
	ch := make(chan string)
	errc := make(chan error, 1)
	close(ch)
	close(errc)
	return ch, errc
}

func newTestCache(t *testing.T, backend llm.Backend, cfg config.CacheConfig) *artifact.Store {
	t.Helper()
	dir := t.TempDir()
	eng, err := embedding.NewLocalEngine(32)
	if err != nil {
		t.Fatal(err)
	}
	vs, err := vectorstore.Open(dir+"/vectors.db", 32)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vs.Close() })
	st, err := artifact.Open(dir+"/artifacts.db", vs, eng)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedArtifact(t *testing.T, st *artifact.Store, id, description string, quality float64) {
	t.Helper()
	a := &types.Artifact{
		ID:          id,
		Kind:        types.KindFunction,
		Name:        id,
		Description: description,
		Content:     []byte("package p\nfunc F() {}\n"),
		Metadata:    types.Metadata{QualityScore: quality},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := st.Store(context.Background(), a, true, false); err != nil {
		t.Fatal(err)
	}
}

func TestStage2NeverInvokedBelowGate(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		t.Fatal("B1: stage 2 must never be invoked when stage1_score < gate")
		return "", nil
	}}
	cfg := config.DefaultCacheConfig()
	cfg.Stage1Gate = 2.0 // unreachable similarity, forces every candidate below gate
	st := newTestCache(t, backend, cfg)
	seedArtifact(t, st, "a1", "reverse a linked list in place", 0.9)

	r := router.New(config.DefaultRouterConfig())
	c := New(st, backend, r, cfg)

	decision, err := c.Decide(context.Background(), types.Request{Description: "reverse a linked list in place"}, types.TaskCodeGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Verdict != types.VerdictNew {
		t.Fatalf("expected NEW below gate, got %s", decision.Verdict)
	}
}

func TestNoCandidatesIsNew(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		t.Fatal("stage 2 must not run with zero stage-1 candidates")
		return "", nil
	}}
	cfg := config.DefaultCacheConfig()
	st := newTestCache(t, backend, cfg)

	r := router.New(config.DefaultRouterConfig())
	c := New(st, backend, r, cfg)

	decision, err := c.Decide(context.Background(), types.Request{Description: "anything at all"}, types.TaskCodeGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Verdict != types.VerdictNew {
		t.Fatalf("expected NEW with no candidates, got %s", decision.Verdict)
	}
}

func TestMinQualityExcludesLowScoreCandidates(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		t.Fatal("candidate below min_quality must be excluded before stage 2")
		return "", nil
	}}
	cfg := config.DefaultCacheConfig()
	cfg.Stage1Gate = 0
	cfg.MinQuality = 0.9
	st := newTestCache(t, backend, cfg)
	seedArtifact(t, st, "a1", "compute the factorial of a number", 0.1)

	r := router.New(config.DefaultRouterConfig())
	c := New(st, backend, r, cfg)

	decision, err := c.Decide(context.Background(), types.Request{Description: "compute the factorial of a number"}, types.TaskCodeGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Verdict != types.VerdictNew {
		t.Fatalf("expected NEW, low-quality candidate should have been excluded, got %s", decision.Verdict)
	}
}

func TestDecisionFromScoreThresholds(t *testing.T) {
	cases := []struct {
		score int
		want  types.Verdict
	}{
		{100, types.VerdictReuse},
		{99, types.VerdictMutate},
		{50, types.VerdictMutate},
		{49, types.VerdictNew},
		{0, types.VerdictNew},
	}
	for _, tc := range cases {
		got, _ := decisionFromScore(tc.score, 50)
		if got != tc.want {
			t.Errorf("score %d: want %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestJudgeFailureTreatedAsNewWithError(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		return "not a number", nil
	}}
	cfg := config.DefaultCacheConfig()
	cfg.Stage1Gate = 0
	cfg.MinQuality = 0
	st := newTestCache(t, backend, cfg)
	seedArtifact(t, st, "a1", "parse a csv file into rows", 0.9)

	r := router.New(config.DefaultRouterConfig())
	c := New(st, backend, r, cfg)

	decision, err := c.Decide(context.Background(), types.Request{Description: "parse a csv file into rows"}, types.TaskCodeGeneration)
	if err == nil {
		t.Fatal("expected ErrSemanticJudgeFailed to propagate on unparsable judge output")
	}
	if decision.Verdict != types.VerdictNew {
		t.Fatalf("expected NEW on judge failure, got %s", decision.Verdict)
	}
}

func TestParseScoreClamps(t *testing.T) {
	cases := map[string]int{
		"100":          100,
		" 75 ":         75,
		"score: 120!!": 120, // FieldsFunc will still extract 120, clamp handles the out-of-range case
		"0":            0,
	}
	for in, want := range cases {
		got, err := parseScore(in)
		if err != nil {
			t.Fatalf("parseScore(%q) error: %v", in, err)
		}
		wantClamped := want
		if wantClamped > 100 {
			wantClamped = 100
		}
		if got != wantClamped {
			t.Errorf("parseScore(%q) = %d, want %d", in, got, wantClamped)
		}
	}
}

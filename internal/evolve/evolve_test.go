package evolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"forgecore/internal/artifact"
	"forgecore/internal/classify"
	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/generate"
	"forgecore/internal/llm"
	"forgecore/internal/plan"
	"forgecore/internal/router"
	"forgecore/internal/sandbox"
	"forgecore/internal/testorch"
	"forgecore/internal/types"
	"forgecore/internal/validate"
	"forgecore/internal/vectorstore"
)

type scriptedBackend struct {
	responses []string
	calls     int
}

func (b *scriptedBackend) Generate(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
	i := b.calls
	if i >= len(b.responses) {
		i = len(b.responses) - 1
	}
	b.calls++
	return b.responses[i], nil
}

func (b *scriptedBackend) StreamGenerate(ctx context.Context, modelID, prompt string, params llm.Params) (<-chan string, <-chan error) {
	ch := make(chan string)
	errc := make(chan error, 1)
	close(ch)
	close(errc)
	return ch, errc
}

// workingSource wraps its echoed input in the {"result": ...} envelope
// spec.md's stdout contract requires, so it satisfies validate's
// json-output check.
const workingSource = "```go\npackage main\n\nimport \"encoding/json\"\n\nfunc RunTool(inputJSON string) (string, error) {\n\tout, err := json.Marshal(map[string]string{\"result\": inputJSON})\n\tif err != nil {\n\t\treturn \"\", err\n\t}\n\treturn string(out), nil\n}\n\nfunc main() {}\n```"

func newTestController(t *testing.T, backend llm.Backend, cfg config.EvolveConfig) (*Controller, *artifact.Store) {
	t.Helper()
	dir := t.TempDir()
	eng, err := embedding.NewLocalEngine(16)
	if err != nil {
		t.Fatal(err)
	}
	vs, err := vectorstore.Open(dir+"/vectors.db", 16)
	if err != nil {
		t.Fatal(err)
	}
	store, err := artifact.Open(dir+"/artifacts.db", vs, eng)
	if err != nil {
		t.Fatal(err)
	}

	r := router.New(config.DefaultRouterConfig())
	cl := classify.New(backend, r)
	p := plan.New(backend, r, config.DefaultPlanConfig())
	g := generate.New(backend, r)
	v := validate.New(config.DefaultValidateConfig())
	sb := sandbox.New(config.DefaultSandboxConfig())
	to := testorch.New(sb, eng, config.DefaultTestOrchConfig())

	c := New(store, cl, p, g, v, to, cfg)
	return c, store
}

func storeFunction(t *testing.T, store *artifact.Store, id string, usage int64, quality float64, costTier types.CostTier) *types.Artifact {
	t.Helper()
	a := &types.Artifact{
		ID:          id,
		Kind:        types.KindFunction,
		Name:        id,
		Description: "filter a list of integers",
		Content:     []byte(workingSource),
		UsageCount:  usage,
		Metadata:    types.Metadata{QualityScore: quality, CostTier: costTier, Ready: true},
	}
	if err := store.Store(context.Background(), a, false, false); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestRankOrdersByValueDescending(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	cfg.MinUsageCount = 1
	c, store := newTestController(t, &scriptedBackend{}, cfg)

	storeFunction(t, store, "low-value", 2, 0.95, types.CostFree)
	storeFunction(t, store, "high-value", 50, 0.2, types.CostHigh)

	ranked, err := c.Rank(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(ranked))
	}
	if ranked[0].Artifact.ID != "high-value" {
		t.Fatalf("expected high-value to rank first, got %s (value=%.3f) vs %s (value=%.3f)",
			ranked[0].Artifact.ID, ranked[0].Value, ranked[1].Artifact.ID, ranked[1].Value)
	}
}

func TestRankDropsArtifactsBelowMinUsage(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	cfg.MinUsageCount = 10
	c, store := newTestController(t, &scriptedBackend{}, cfg)

	storeFunction(t, store, "rarely-used", 1, 0.5, types.CostLow)

	ranked, err := c.Rank(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 0 {
		t.Fatalf("expected artifacts below min_usage_count to be excluded, got %d", len(ranked))
	}
}

func TestSweepEmitsPerformanceRecordRegardlessOfPromotion(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	cfg.MinUsageCount = 1
	cfg.TopN = 5
	backend := &scriptedBackend{responses: []string{"modplan", workingSource}}
	c, store := newTestController(t, backend, cfg)

	storeFunction(t, store, "parent-1", 5, 0.1, types.CostMedium)

	results, err := c.Sweep(context.Background(), 8192, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one sweep result, got %d", len(results))
	}

	perf, err := store.ListByKind(context.Background(), []types.Kind{types.KindPerformance})
	if err != nil {
		t.Fatal(err)
	}
	if len(perf) != 1 {
		t.Fatalf("expected a PERFORMANCE record to be emitted regardless of promotion outcome, got %d", len(perf))
	}
}

func TestDetectDriftRequiresTwoFullWindows(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	cfg.DriftWindow = 3
	cfg.DriftQualityDelta = 0.1
	c, _ := newTestController(t, &scriptedBackend{}, cfg)

	for i := 0; i < 3; i++ {
		c.RecordExecution("artifact-1", 100, 0.9, false)
	}

	flagged, err := c.DetectDrift(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 0 {
		t.Fatalf("expected no drift verdict with only one window of history, got %v", flagged)
	}
}

func TestDetectDriftFlagsQualityRegression(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	cfg.DriftWindow = 3
	cfg.DriftQualityDelta = 0.1
	c, _ := newTestController(t, &scriptedBackend{}, cfg)

	for i := 0; i < 3; i++ {
		c.RecordExecution("artifact-1", 100, 0.95, false)
	}
	for i := 0; i < 3; i++ {
		c.RecordExecution("artifact-1", 100, 0.5, false)
	}

	flagged, err := c.DetectDrift(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 1 || flagged[0] != "artifact-1" {
		t.Fatalf("expected artifact-1 to be flagged for quality drift, got %v", flagged)
	}
}

func TestReloadRulesFromDirInstallsValidOverride(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	c, _ := newTestController(t, &scriptedBackend{}, cfg)

	dir := t.TempDir()
	rule := "Decl should_regenerate(ArtifactId).\nshould_regenerate(\"forced\") :- drift_threshold(_).\n"
	if err := os.WriteFile(filepath.Join(dir, "override.mg"), []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.ReloadRulesFromDir(dir); err != nil {
		t.Fatal(err)
	}
	if got := c.rulesSource(); got == driftRules {
		t.Fatal("expected override to replace the built-in drift rules")
	}
}

func TestReloadRulesFromDirRejectsInvalidRule(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	c, _ := newTestController(t, &scriptedBackend{}, cfg)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.mg"), []byte("this is not mangle {{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.ReloadRulesFromDir(dir); err == nil {
		t.Fatal("expected an invalid rule fragment to be rejected")
	}
	if got := c.rulesSource(); got != driftRules {
		t.Fatal("expected the built-in drift rules to remain active after a rejected override")
	}
}

func TestWatchRulesReloadsOnFileChange(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	c, _ := newTestController(t, &scriptedBackend{}, cfg)

	dir := t.TempDir()
	w, err := c.WatchRules(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	rule := "Decl should_regenerate(ArtifactId).\nshould_regenerate(\"forced\") :- drift_threshold(_).\n"
	if err := os.WriteFile(filepath.Join(dir, "override.mg"), []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.rulesSource() != driftRules {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected rule watcher to pick up the new .mg file and reload")
}

func TestDetectDriftIgnoresStableArtifact(t *testing.T) {
	cfg := config.DefaultEvolveConfig()
	cfg.DriftWindow = 3
	cfg.DriftQualityDelta = 0.1
	c, _ := newTestController(t, &scriptedBackend{}, cfg)

	for i := 0; i < 6; i++ {
		c.RecordExecution("artifact-stable", 100, 0.9, false)
	}

	flagged, err := c.DetectDrift(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 0 {
		t.Fatalf("expected a stable artifact not to be flagged, got %v", flagged)
	}
}

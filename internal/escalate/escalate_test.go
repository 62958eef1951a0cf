package escalate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"forgecore/internal/artifact"
	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/errs"
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

const brokenSource = "```go\npackage main\nfunc RunTool( {\n```"

// workingSource wraps its echoed input in the {"result": ...} envelope
// spec.md's stdout contract requires, so it satisfies validate's
// json-output check.
const workingSource = "```go\npackage main\n\nimport \"encoding/json\"\n\nfunc RunTool(inputJSON string) (string, error) {\n\tout, err := json.Marshal(map[string]string{\"result\": inputJSON})\n\tif err != nil {\n\t\treturn \"\", err\n\t}\n\treturn string(out), nil\n}\n\nfunc main() {}\n```"

func newTestController(t *testing.T, backend llm.Backend) (*Controller, *artifact.Store) {
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

	rcfg := config.DefaultRouterConfig()
	r := router.New(rcfg)
	p := plan.New(backend, r, config.DefaultPlanConfig())
	g := generate.New(backend, r)
	v := validate.New(config.DefaultValidateConfig())
	sb := sandbox.New(config.DefaultSandboxConfig())
	to := testorch.New(sb, eng, config.DefaultTestOrchConfig())

	ecfg := config.DefaultEscalateConfig()
	ecfg.MaxEscalations = 3
	c := New(p, g, v, to, r, store, eng, ecfg)
	return c, store
}

func testRequest() types.Request {
	return types.Request{RequestID: "req-1", Description: "sum a list of integers"}
}

func testClassification() types.ClassificationResult {
	return types.ClassificationResult{TaskType: types.TaskArithmetic, RecommendedRole: types.RoleCode, RecommendedTier: types.TierVeryFast}
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"PROBLEM DEFINITION: sum\n", workingSource}}
	c, _ := newTestController(t, backend)

	attempt, err := c.Run(context.Background(), testRequest(), testClassification(), nil, nil, types.KindFunction, 8192, 2000, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !attempt.Accepted {
		t.Fatalf("expected attempt to be accepted, got %+v", attempt.ValidateReport)
	}
	if attempt.Tier != types.TierVeryFast {
		t.Fatalf("expected first attempt to stay at the recommended tier, got %s", attempt.Tier)
	}
}

func TestRunEscalatesTierOnRepeatedFailure(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"plan-1", brokenSource,
		"plan-2", brokenSource,
		"plan-3", brokenSource,
	}}
	c, _ := newTestController(t, backend)

	attempt, err := c.Run(context.Background(), testRequest(), testClassification(), nil, nil, types.KindFunction, 8192, 2000, nil)
	if !errors.Is(err, errs.ErrEscalationExhausted) {
		t.Fatalf("expected ErrEscalationExhausted, got %v", err)
	}
	if attempt == nil {
		t.Fatal("expected a non-nil best-effort attempt even on exhaustion")
	}
	if !attempt.CodeArtifact.HasTag("unstable") {
		t.Fatal("expected the returned exhausted attempt to be tagged unstable")
	}
	if attempt.Tier == types.TierVeryFast {
		t.Fatal("expected tier to have ascended past the starting tier after repeated failures")
	}
}

func TestRunRecordsEscalationHistoryPatternOnSuccess(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"plan", workingSource}}
	c, store := newTestController(t, backend)

	_, err := c.Run(context.Background(), testRequest(), testClassification(), nil, nil, types.KindFunction, 8192, 2000, nil)
	if err != nil {
		t.Fatal(err)
	}

	matches, err := store.FindSimilar(context.Background(), testRequest().Description, []types.Kind{types.KindPattern}, []string{escalationHistoryTag}, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatal("expected an escalation_history PATTERN artifact to be recorded")
	}
}

func TestRunBudgetCheckerSkipsDisallowedTiers(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"plan", workingSource}}
	c, _ := newTestController(t, backend)

	denyAll := func(types.CostTier) bool { return false }
	_, err := c.Run(context.Background(), testRequest(), testClassification(), nil, nil, types.KindFunction, 8192, 2000, denyAll)
	if err == nil {
		t.Fatal("expected an error when every tier is budget-denied and ascension cannot proceed past god")
	}
}

func TestDedupJoinRemovesDuplicateLines(t *testing.T) {
	got := dedupJoin([]string{"security: hardcoded secret\n", "security: hardcoded secret\ntest foo: mismatch\n"})
	if strings.Count(got, "security: hardcoded secret") != 1 {
		t.Fatalf("expected duplicate failure lines to be deduplicated, got: %q", got)
	}
	if !strings.Contains(got, "test foo: mismatch") {
		t.Fatalf("expected unique lines preserved, got: %q", got)
	}
}

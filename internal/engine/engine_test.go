package engine

import (
	"context"
	"strings"
	"testing"

	"forgecore/internal/artifact"
	"forgecore/internal/cache"
	"forgecore/internal/classify"
	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/escalate"
	"forgecore/internal/evolve"
	"forgecore/internal/generate"
	"forgecore/internal/llm"
	"forgecore/internal/plan"
	"forgecore/internal/pressure"
	"forgecore/internal/router"
	"forgecore/internal/sandbox"
	"forgecore/internal/testorch"
	"forgecore/internal/toolkit"
	"forgecore/internal/types"
	"forgecore/internal/validate"
	"forgecore/internal/vectorstore"
)

// scriptedBackend mirrors internal/escalate's test double: a canned queue of
// responses consumed one per Generate call, clamped to the last entry once
// exhausted (classify's triage call and any repeated plan/generate attempts
// all draw from the same queue).
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
// json-output check (which requires both a json.Marshal/NewEncoder call and
// a literal "result"/"error" key) as well as RunYaegi's entry point.
const workingSource = "```go\npackage main\n\nimport \"encoding/json\"\n\nfunc RunTool(inputJSON string) (string, error) {\n\tout, err := json.Marshal(map[string]string{\"result\": inputJSON})\n\tif err != nil {\n\t\treturn \"\", err\n\t}\n\treturn string(out), nil\n}\n\nfunc main() {}\n```"

const brokenSource = "```go\npackage main\nfunc RunTool( {\n```"

// plainWorkingSource is workingSource's body without the markdown code
// fence generate.Generator strips on the way out of the LLM backend — the
// REUSE test seeds an artifact's Content directly (bypassing Generator), so
// it needs the fence already removed for RunYaegi to eval it.
const plainWorkingSource = "package main\n\nimport \"encoding/json\"\n\nfunc RunTool(inputJSON string) (string, error) {\n\tout, err := json.Marshal(map[string]string{\"result\": inputJSON})\n\tif err != nil {\n\t\treturn \"\", err\n\t}\n\treturn string(out), nil\n}\n\nfunc main() {}\n"

// newTestPipeline builds a Pipeline directly from in-memory collaborators,
// bypassing New (which dispatches through an llm.Registry over the
// configured providers instead of a scripted backend).
// Lives in package engine so it can reach Pipeline's unexported fields, the
// same shortcut escalate_test.go takes with Controller's fields.
func newTestPipeline(t *testing.T, backend llm.Backend) *Pipeline {
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
	classifier := classify.New(backend, r)
	ch := cache.New(store, backend, r, config.DefaultCacheConfig())
	planner := plan.New(backend, r, config.DefaultPlanConfig())
	generator := generate.New(backend, r)
	validator := validate.New(config.DefaultValidateConfig()).WithStore(store)

	tk := toolkit.NewRegistry()
	if err := toolkit.RegisterDefaults(tk); err != nil {
		t.Fatal(err)
	}
	tk.MustRegister(toolkit.LookupArtifactTool(store))

	sb := sandbox.New(config.DefaultSandboxConfig()).WithToolkit(tk)
	to := testorch.New(sb, eng, config.DefaultTestOrchConfig())

	ecfg := config.DefaultEscalateConfig()
	ecfg.MaxEscalations = 3
	esc := escalate.New(planner, generator, validator, to, r, store, eng, ecfg)
	esc.WithCaseDeriver(DeriveCases)

	pm := pressure.New(config.DefaultPressureConfig(), 4, nil)
	ev := evolve.New(store, classifier, planner, generator, validator, to, config.DefaultEvolveConfig())

	return &Pipeline{
		cfg:        config.DefaultConfig(),
		embedder:   eng,
		vec:        vs,
		store:      store,
		backend:    backend,
		router:     r,
		toolkit:    tk,
		classifier: classifier,
		cache:      ch,
		planner:    planner,
		generator:  generator,
		validator:  validator,
		sandbox:    sb,
		testOrch:   to,
		escalate:   esc,
		pressure:   pm,
		evolve:     ev,
	}
}

// TestHandleNewRoundTrip drives the classify -> cache-miss(NEW) -> escalate
// -> store round trip (spec §2's happy path; §8's mandated integration
// scenario) against an empty store, so cache.Decide has no stage-1
// candidates and short-circuits straight to NEW without ever invoking the
// judge.
func TestHandleNewRoundTrip(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"PROBLEM DEFINITION: sum a list\nTEST CASES:\n", workingSource}}
	p := newTestPipeline(t, backend)
	defer p.Close()

	req := types.Request{Description: "filter and sort the list of integers"}
	result, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision.Verdict != types.VerdictNew {
		t.Fatalf("expected NEW verdict against an empty store, got %s", result.Decision.Verdict)
	}
	if !result.Ready || result.Unstable {
		t.Fatalf("expected a ready, stable artifact, got ready=%t unstable=%t", result.Ready, result.Unstable)
	}
	if result.Artifact == nil || result.Artifact.ID == "" {
		t.Fatal("expected a persisted artifact with an assigned id")
	}
	if result.Artifact.Metadata.ParentID == "" {
		t.Fatal("expected the stored code artifact's parent_id to trace to its PLAN")
	}

	planArtifact, err := p.store.Get(context.Background(), result.Artifact.Metadata.ParentID)
	if err != nil {
		t.Fatalf("expected the PLAN artifact to be retrievable: %v", err)
	}
	if planArtifact.Kind != types.KindPlan {
		t.Fatalf("expected parent_id to reference a PLAN artifact, got kind=%s", planArtifact.Kind)
	}
}

// TestHandleNewEscalatesAndTagsUnstable exercises the escalate-on-failure ->
// retry -> exhaustion branch: every generated attempt fails validation, so
// Handle must still return a result (not an error) carrying the best-effort
// artifact tagged unstable, per spec §4.11 point 4.
func TestHandleNewEscalatesAndTagsUnstable(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"plan-1", brokenSource,
		"plan-2", brokenSource,
		"plan-3", brokenSource,
	}}
	p := newTestPipeline(t, backend)
	defer p.Close()

	req := types.Request{Description: "filter and sort the list of integers"}
	result, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("expected a best-effort result rather than an error on escalation exhaustion, got: %v", err)
	}
	if !result.Unstable || result.Ready {
		t.Fatalf("expected an unstable, not-ready artifact, got ready=%t unstable=%t", result.Ready, result.Unstable)
	}
	if !result.Artifact.HasTag("unstable") {
		t.Fatal("expected the stored artifact to carry the unstable tag")
	}
}

// TestHandleReusePinsDeterministicOutput exercises the REUSE path's pinned-
// output optimization: a deterministic task type's second identical-input
// request must be served without a second sandbox execution producing a
// different output, by directly seeding a ready FUNCTION artifact and a
// REUSE-triggering duplicate request.
func TestHandleReusePinsDeterministicOutput(t *testing.T) {
	backend := &scriptedBackend{responses: []string{workingSource}}
	p := newTestPipeline(t, backend)
	defer p.Close()

	a := &types.Artifact{
		Kind:        types.KindFunction,
		Name:        "echo",
		Description: "echo the input back",
		Content:     []byte(plainWorkingSource),
		Metadata:    types.Metadata{Ready: true, QualityScore: 0.9},
	}
	if err := p.store.Store(context.Background(), a, true, false); err != nil {
		t.Fatal(err)
	}

	result := &Result{}
	req := types.Request{Description: "echo the input back", UserContext: map[string]string{"input": `{"x":1}`}}
	classification := types.ClassificationResult{TaskType: types.TaskDataProcessing, RecommendedRole: types.RoleCode, RecommendedTier: types.TierVeryFast}
	decision := types.CacheDecision{Verdict: types.VerdictReuse, MatchedArtifactID: a.ID}

	first, err := p.handleReuse(context.Background(), req, classification, decision, 5000, result)
	if err != nil {
		t.Fatalf("unexpected error on first reuse execution: %v", err)
	}
	if _, ok := pinnedOutput(first.Artifact, `{"x":1}`); !ok {
		t.Fatal("expected a pinned output to be recorded for a deterministic task type after a successful run")
	}

	second, err := p.handleReuse(context.Background(), req, classification, decision, 5000, &Result{})
	if err != nil {
		t.Fatalf("unexpected error on second (pinned) reuse execution: %v", err)
	}
	if second.RunOutput != first.RunOutput {
		t.Fatalf("expected the pinned output to be replayed verbatim, got %q vs %q", second.RunOutput, first.RunOutput)
	}
}

func TestDeriveCasesParsesTestCasesSection(t *testing.T) {
	plan := "PROBLEM DEFINITION: sum two numbers\n" +
		"TEST CASES:\n" +
		`{"a": 1, "b": 2}` + "\n" +
		`{"result": 3}` + "\n" +
		"RECOMMENDED TOOLS:\nnone\n"

	cases := DeriveCases(plan, types.TaskArithmetic)
	if len(cases) != 1 {
		t.Fatalf("expected exactly one derived case, got %d", len(cases))
	}
	if cases[0].Comparator != testorch.ComparatorExact {
		t.Fatalf("expected an exact comparator for a deterministic task type, got %s", cases[0].Comparator)
	}
	if !strings.Contains(cases[0].InputJSON, `"a": 1`) {
		t.Fatalf("expected the input blob to be captured verbatim, got %q", cases[0].InputJSON)
	}
}

func TestDeriveCasesReturnsNilWithoutSection(t *testing.T) {
	if cases := DeriveCases("PROBLEM DEFINITION: no tests here\n", types.TaskArithmetic); cases != nil {
		t.Fatalf("expected nil when no TEST CASES section is present, got %v", cases)
	}
}

package plan

import (
	"context"
	"strings"
	"testing"

	"forgecore/internal/config"
	"forgecore/internal/llm"
	"forgecore/internal/router"
	"forgecore/internal/types"
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

func TestPlanProducesPlanArtifactWithSafetyCaps(t *testing.T) {
	var capturedPrompt string
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		capturedPrompt = prompt
		return "PROBLEM DEFINITION: sum a list\nIO INTERFACE: {xs:[]int} -> {result:int}\n", nil
	}}
	cfg := config.DefaultPlanConfig()
	r := router.New(config.DefaultRouterConfig())
	p := New(backend, r, cfg)

	req := types.Request{Description: "sum a list of numbers"}
	classification := types.ClassificationResult{TaskType: types.TaskCodeGeneration, RecommendedRole: types.RoleCode, RecommendedTier: types.TierFast}

	a, err := p.Plan(context.Background(), req, classification, nil, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != types.KindPlan {
		t.Fatalf("expected KindPlan, got %s", a.Kind)
	}
	if !strings.Contains(capturedPrompt, "10000") {
		t.Fatalf("expected max_sequence_elements cap baked into prompt, got: %s", capturedPrompt)
	}
	if !strings.Contains(capturedPrompt, "1000") {
		t.Fatalf("expected max_loop_iterations cap baked into prompt")
	}
}

func TestPlanTruncatesAtContextBudget(t *testing.T) {
	longOutput := strings.Repeat("x", 10000)
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		return longOutput, nil
	}}
	cfg := config.DefaultPlanConfig()
	r := router.New(config.DefaultRouterConfig())
	p := New(backend, r, cfg)

	req := types.Request{Description: "anything"}
	classification := types.ClassificationResult{TaskType: types.TaskCodeGeneration}

	// generator_context_window=100 tokens -> budget = 0.5*100*2 = 100 chars.
	a, err := p.Plan(context.Background(), req, classification, nil, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Content) >= len(longOutput) {
		t.Fatalf("expected content to be truncated, got length %d", len(a.Content))
	}
	if !strings.Contains(string(a.Content), "TRUNCATED") {
		t.Fatal("expected truncation marker in content")
	}
}

func TestPlanModificationRequiresTemplate(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		t.Fatal("must not call the backend without a template")
		return "", nil
	}}
	cfg := config.DefaultPlanConfig()
	r := router.New(config.DefaultRouterConfig())
	p := New(backend, r, cfg)

	_, err := p.PlanModification(context.Background(), types.Request{Description: "x"}, nil, types.ClassificationResult{}, 8000)
	if err == nil {
		t.Fatal("expected an error when template is nil")
	}
}

func TestPlanModificationPreservesParentLink(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		return "KEEP: io contract\nCHANGE: iterate backwards\n", nil
	}}
	cfg := config.DefaultPlanConfig()
	r := router.New(config.DefaultRouterConfig())
	p := New(backend, r, cfg)

	template := &types.Artifact{ID: "art-1", Description: "calculate fibonacci sequence", Content: []byte("package p\n")}
	req := types.Request{Description: "calculate fibonacci sequence backwards"}
	classification := types.ClassificationResult{TaskType: types.TaskCodeGeneration}

	a, err := p.PlanModification(context.Background(), req, template, classification, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if a.Metadata.ParentID != "art-1" {
		t.Fatalf("expected parent_id to link back to template, got %q", a.Metadata.ParentID)
	}
}

package classify

import (
	"context"
	"errors"
	"testing"

	"forgecore/internal/config"
	"forgecore/internal/llm"
	"forgecore/internal/router"
	"forgecore/internal/types"
)

// mockBackend is a function-field stub for the llm.Backend collaborator,
// matching the teacher's MockEmbeddingEngine{EmbedFunc: ...} convention for
// stubbing C1/C2/C3 in tests.
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

func TestOverrideRuleIsDeterministic(t *testing.T) {
	// L1: identical input classified via an override rule must be
	// deterministic without touching the LLM triage path at all.
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		t.Fatal("override-matched description must never reach the triage LLM call")
		return "", nil
	}}
	c := New(backend, router.New(config.DefaultRouterConfig()))

	req := types.Request{Description: "please generate sample data for a user table"}
	r1, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if r1.TaskType != types.TaskCreativeContent || r2.TaskType != types.TaskCreativeContent {
		t.Fatalf("expected creative_content override, got %v / %v", r1.TaskType, r2.TaskType)
	}
	if r1 != r2 {
		t.Fatalf("classification must be deterministic on override path: %+v vs %+v", r1, r2)
	}
}

func TestRandomNumberCarveBack(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		t.Fatal("override-matched description must never reach the triage LLM call")
		return "", nil
	}}
	c := New(backend, router.New(config.DefaultRouterConfig()))

	req := types.Request{Description: "use random.randint to generate test data for a dice roll"}
	r, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if r.TaskType != types.TaskCodeGeneration {
		t.Fatalf("expected random.randint carve-back to code_generation, got %s", r.TaskType)
	}
}

func TestTriageFallbackOnError(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		return "", errors.New("backend down")
	}}
	c := New(backend, router.New(config.DefaultRouterConfig()))

	req := types.Request{Description: "write a poem about the sea"}
	r, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatalf("classify must never propagate triage errors past its boundary: %v", err)
	}
	if r.TaskType != types.TaskUnknown {
		t.Fatalf("expected unknown fallback, got %s", r.TaskType)
	}
	if r.RecommendedTier == "" {
		t.Fatal("expected a fallback tier to still be set")
	}
}

func TestTriageLabelMapsToRoleAndTier(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		return "code_generation", nil
	}}
	c := New(backend, router.New(config.DefaultRouterConfig()))

	req := types.Request{Description: "implement a binary search tree with insert delete and traversal"}
	r, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if r.TaskType != types.TaskCodeGeneration {
		t.Fatalf("expected code_generation, got %s", r.TaskType)
	}
	if r.RecommendedRole != types.RoleCode {
		t.Fatalf("expected role=code, got %s", r.RecommendedRole)
	}
	// 10 words with one " and " -> moderate complexity -> general tier.
	if r.RecommendedTier != types.TierGeneral {
		t.Fatalf("expected tier=general, got %s", r.RecommendedTier)
	}
}

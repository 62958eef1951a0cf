package generate

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

const sampleSource = "package main\n\nfunc RunTool(in string) (string, error) { return in, nil }\n\nfunc main() {}\n"

func TestGenerateExtractsFencedCodeBlock(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		return "here is the code:\n```go\n" + sampleSource + "```\nlet me know if you need anything else.", nil
	}}
	r := router.New(config.DefaultRouterConfig())
	g := New(backend, r)

	plan := &types.Artifact{ID: "plan-1", Name: "sum", Description: "sum a list", Content: []byte("PROBLEM DEFINITION: sum a list\n")}
	a, err := g.Generate(context.Background(), plan, types.KindFunction, types.RoleCode, types.TierFast, 0.1, "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(a.Content), "```") {
		t.Fatalf("expected code fence stripped, got: %s", a.Content)
	}
	if !strings.Contains(string(a.Content), "func RunTool") {
		t.Fatalf("expected RunTool entry point in generated source, got: %s", a.Content)
	}
	if a.Metadata.ParentID != "plan-1" {
		t.Fatalf("expected parent_id to link back to the plan, got %q", a.Metadata.ParentID)
	}
}

func TestGenerateFallsBackToRawTextWithoutFence(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		return sampleSource, nil
	}}
	r := router.New(config.DefaultRouterConfig())
	g := New(backend, r)

	plan := &types.Artifact{ID: "plan-1", Description: "sum a list", Content: []byte("spec")}
	a, err := g.Generate(context.Background(), plan, types.KindFunction, types.RoleCode, types.TierFast, 0.1, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Content) != strings.TrimSpace(sampleSource) {
		t.Fatalf("expected unfenced text passed through trimmed, got: %s", a.Content)
	}
}

func TestGenerateModificationRequiresTemplate(t *testing.T) {
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		t.Fatal("must not call the backend without a template")
		return "", nil
	}}
	r := router.New(config.DefaultRouterConfig())
	g := New(backend, r)

	plan := &types.Artifact{Content: []byte("mod plan")}
	_, err := g.GenerateModification(context.Background(), plan, nil, types.RoleCode, types.TierFast, 0.1, "")
	if err == nil {
		t.Fatal("expected an error when template is nil")
	}
}

func TestGenerateModificationIncludesPreviousFailures(t *testing.T) {
	var captured string
	backend := &mockBackend{generateFunc: func(ctx context.Context, modelID, prompt string, params llm.Params) (string, error) {
		captured = prompt
		return sampleSource, nil
	}}
	r := router.New(config.DefaultRouterConfig())
	g := New(backend, r)

	plan := &types.Artifact{Content: []byte("CHANGE: iterate backwards\n")}
	template := &types.Artifact{ID: "art-1", Kind: types.KindFunction, Content: []byte("package main\n")}
	_, err := g.GenerateModification(context.Background(), plan, template, types.RoleCode, types.TierFast, 0.3, "syntax: unexpected EOF")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(captured, "syntax: unexpected EOF") {
		t.Fatalf("expected previous failure context in prompt, got: %s", captured)
	}
}

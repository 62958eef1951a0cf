package testorch

import (
	"context"
	"testing"

	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/sandbox"
	"forgecore/internal/types"
)

const echoSource = `package main

func RunTool(inputJSON string) (string, error) {
	return inputJSON, nil
}

func main() {}
`

const sumSource = `package main

import "encoding/json"

func RunTool(inputJSON string) (string, error) {
	var in struct{ A, B int }
	if err := json.Unmarshal([]byte(inputJSON), &in); err != nil {
		return "", err
	}
	data, _ := json.Marshal(map[string]int{"sum": in.A + in.B})
	return string(data), nil
}

func main() {}
`

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	eng, err := embedding.NewLocalEngine(16)
	if err != nil {
		t.Fatal(err)
	}
	sb := sandbox.New(config.SandboxConfig{GraceMs: 200, MaxOutputBytes: 1 << 20})
	return New(sb, eng, config.DefaultTestOrchConfig())
}

func TestRunExactComparatorAllPass(t *testing.T) {
	o := newOrchestrator(t)
	cases := []Case{
		{Name: "1+2", InputJSON: `{"A":1,"B":2}`, Expected: `{"sum":3}`, Comparator: ComparatorExact},
		{Name: "5+5", InputJSON: `{"A":5,"B":5}`, Expected: `{"sum":10}`, Comparator: ComparatorExact},
	}
	report := o.Run(context.Background(), "art-1", sumSource, cases, 2000, nil)
	if report.PassRate != 1.0 {
		t.Fatalf("expected pass_rate 1.0, got %f (%+v)", report.PassRate, report.Results)
	}
	if report.QualityScore != 1.0 {
		t.Fatalf("expected quality_score 1.0 without coverage, got %f", report.QualityScore)
	}
}

func TestRunExactComparatorDetectsMismatch(t *testing.T) {
	o := newOrchestrator(t)
	cases := []Case{
		{Name: "wrong", InputJSON: `{"A":1,"B":2}`, Expected: `{"sum":99}`, Comparator: ComparatorExact},
	}
	report := o.Run(context.Background(), "art-1", sumSource, cases, 2000, nil)
	if report.PassRate != 0.0 {
		t.Fatalf("expected pass_rate 0.0 on mismatch, got %f", report.PassRate)
	}
}

func TestRunAppliesCoverageWeighting(t *testing.T) {
	o := newOrchestrator(t)
	cases := []Case{
		{Name: "1+2", InputJSON: `{"A":1,"B":2}`, Expected: `{"sum":3}`, Comparator: ComparatorExact},
	}
	coverage := 0.5
	report := o.Run(context.Background(), "art-1", sumSource, cases, 2000, &coverage)
	want := config.DefaultTestOrchConfig().PassRateWeight*1.0 + config.DefaultTestOrchConfig().CoverageWeight*0.5
	if report.QualityScore != want {
		t.Fatalf("expected composite quality_score %f, got %f", want, report.QualityScore)
	}
}

func TestRunSmokeTestFallbackWithNoCases(t *testing.T) {
	o := newOrchestrator(t)
	report := o.Run(context.Background(), "art-2", echoSource, nil, 2000, nil)
	if !report.SmokeTest {
		t.Fatal("expected SmokeTest to be true with no derived cases")
	}
	if report.PassRate != 1.0 {
		t.Fatalf("expected smoke test to pass on a trivial echo tool, got pass_rate=%f detail=%+v", report.PassRate, report.Results)
	}
}

func TestSimilarityComparatorAcceptsCloseOutput(t *testing.T) {
	o := newOrchestrator(t)
	cases := []Case{
		{Name: "haiku", InputJSON: "autumn leaves falling softly to the ground", Expected: "autumn leaves falling softly to the ground", Comparator: ComparatorSimilarity},
	}
	report := o.Run(context.Background(), "art-3", echoSource, cases, 2000, nil)
	if report.PassRate != 1.0 {
		t.Fatalf("expected the similarity comparator to accept the echoed text, got pass_rate=%f detail=%+v", report.PassRate, report.Results)
	}
}

func TestToEvaluationArtifactLinksParent(t *testing.T) {
	report := Report{ArtifactID: "art-1", PassRate: 0.75, QualityScore: 0.75}
	a := ToEvaluationArtifact(report)
	if a.Kind != types.KindEvaluation {
		t.Fatalf("expected KindEvaluation, got %s", a.Kind)
	}
	if a.Metadata.ParentID != "art-1" {
		t.Fatalf("expected parent_id to link to art-1, got %s", a.Metadata.ParentID)
	}
	if a.Metadata.QualityScore != 0.75 {
		t.Fatalf("expected quality_score 0.75, got %f", a.Metadata.QualityScore)
	}
}

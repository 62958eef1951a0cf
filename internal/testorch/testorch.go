// Package testorch implements the TestOrchestrator collaborator (C12):
// deriving (input, expected) test cases from a PLAN artifact, running each
// through C11 (internal/sandbox), scoring pass_rate/coverage into a
// composite quality_score, and emitting an EVALUATION artifact. Grounded on
// the teacher's internal/shards/tester.go TesterShard.runTests/runCoverage
// pass/fail and coverage-extraction shape, adapted from "shell out to go
// test and scrape stdout" to "run one sandboxed artifact per declared test
// case and compare its JSON output".
package testorch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/logging"
	"forgecore/internal/sandbox"
	"forgecore/internal/types"
)

// Comparator selects how a test case's actual output is judged against its
// expected output.
type Comparator string

const (
	// ComparatorExact requires byte-for-byte equal JSON (after
	// normalization) — used for deterministic task types.
	ComparatorExact Comparator = "exact"
	// ComparatorSimilarity accepts any output whose embedding similarity to
	// the expected output is >= config.SimilarityThreshold — used for
	// creative/nondeterministic task types (spec §4.10).
	ComparatorSimilarity Comparator = "similarity"
)

// Case is one derived (input, expected) test case extracted from a PLAN
// artifact's test-case section (spec §4.6).
type Case struct {
	Name       string
	InputJSON  string
	Expected   string
	Comparator Comparator
}

// CaseResult is one case's sandboxed outcome.
type CaseResult struct {
	Case     Case
	Passed   bool
	Actual   string
	Detail   string
	WallTime time.Duration
}

// Report is the full run across all derived cases for one artifact.
type Report struct {
	ArtifactID  string
	Results     []CaseResult
	PassRate    float64
	Coverage    float64
	HasCoverage bool
	QualityScore float64
	SmokeTest   bool
}

// Orchestrator runs derived tests against a sandboxed artifact.
type Orchestrator struct {
	sandbox  *sandbox.Sandbox
	embedder embedding.EmbeddingEngine
	cfg      config.TestOrchConfig
}

// New builds an Orchestrator over a Sandbox (C11) and an embedding engine
// used as the similarity source for creative-task comparators (spec §4.10:
// "similarity >= threshold ... using C1 as similarity source").
func New(sb *sandbox.Sandbox, embedder embedding.EmbeddingEngine, cfg config.TestOrchConfig) *Orchestrator {
	return &Orchestrator{sandbox: sb, embedder: embedder, cfg: cfg}
}

// Run executes every derived case against source via the sandbox, scoring
// pass_rate and an optional coverage figure into a composite quality_score
// (spec §4.10: quality_score = pass_rate_weight*pass_rate +
// coverage_weight*coverage, or just pass_rate when coverage is unavailable).
// When cases is empty, falls back to a single smoke test (spec §4.10: module
// parses, main exists, executes without exception on an empty-object input).
func (o *Orchestrator) Run(ctx context.Context, artifactID, source string, cases []Case, maxLatencyMs int64, coverage *float64) Report {
	if len(cases) == 0 {
		return o.runSmokeTest(ctx, artifactID, source, maxLatencyMs)
	}

	results := make([]CaseResult, 0, len(cases))
	passed := 0
	for _, c := range cases {
		r := o.runCase(ctx, source, c, maxLatencyMs)
		if r.Passed {
			passed++
		}
		results = append(results, r)
	}

	report := Report{
		ArtifactID: artifactID,
		Results:    results,
		PassRate:   float64(passed) / float64(len(cases)),
	}
	o.computeQuality(&report, coverage)
	logging.TestOrch("evaluated %s: pass_rate=%.2f quality_score=%.2f (%d/%d cases)", artifactID, report.PassRate, report.QualityScore, passed, len(cases))
	return report
}

func (o *Orchestrator) runCase(ctx context.Context, source string, c Case, maxLatencyMs int64) CaseResult {
	result, err := o.sandbox.RunYaegi(ctx, source, c.InputJSON, maxLatencyMs)
	cr := CaseResult{Case: c, Actual: result.Stdout, WallTime: result.Duration}
	if err != nil {
		cr.Passed = false
		cr.Detail = err.Error()
		if result.Stderr != "" {
			cr.Detail = cr.Detail + ": " + result.Stderr
		}
		return cr
	}

	ok, detail := o.compare(ctx, c, result.Stdout)
	cr.Passed = ok
	cr.Detail = detail
	return cr
}

func (o *Orchestrator) compare(ctx context.Context, c Case, actual string) (bool, string) {
	switch c.Comparator {
	case ComparatorSimilarity:
		return o.compareSimilarity(ctx, c.Expected, actual)
	default:
		return compareExactJSON(c.Expected, actual)
	}
}

func compareExactJSON(expected, actual string) (bool, string) {
	var expVal, actVal interface{}
	if err := json.Unmarshal([]byte(expected), &expVal); err != nil {
		return false, fmt.Sprintf("expected value is not valid JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &actVal); err != nil {
		return false, fmt.Sprintf("sandbox stdout is not valid JSON: %v", err)
	}
	expNorm, _ := json.Marshal(expVal)
	actNorm, _ := json.Marshal(actVal)
	if string(expNorm) != string(actNorm) {
		return false, fmt.Sprintf("expected %s, got %s", expNorm, actNorm)
	}
	return true, ""
}

func (o *Orchestrator) compareSimilarity(ctx context.Context, expected, actual string) (bool, string) {
	expVec, err := o.embedder.Embed(ctx, expected)
	if err != nil {
		return false, fmt.Sprintf("failed to embed expected output: %v", err)
	}
	actVec, err := o.embedder.Embed(ctx, actual)
	if err != nil {
		return false, fmt.Sprintf("failed to embed actual output: %v", err)
	}
	sim, err := embedding.CosineSimilarity(expVec, actVec)
	if err != nil {
		return false, fmt.Sprintf("similarity comparison failed: %v", err)
	}
	if sim < o.cfg.SimilarityThreshold {
		return false, fmt.Sprintf("similarity %.3f below threshold %.3f", sim, o.cfg.SimilarityThreshold)
	}
	return true, fmt.Sprintf("similarity %.3f", sim)
}

func (o *Orchestrator) computeQuality(report *Report, coverage *float64) {
	if coverage != nil {
		report.HasCoverage = true
		report.Coverage = *coverage
		report.QualityScore = o.cfg.PassRateWeight*report.PassRate + o.cfg.CoverageWeight*report.Coverage
		return
	}
	report.QualityScore = report.PassRate
}

const smokeInputJSON = "{}"

// runSmokeTest is the spec §4.10 fallback for artifacts with no derivable
// test cases and no test-generation tool on path: assert the module parses,
// main/RunTool exist, and it executes without exception on an empty-object
// input. Only pass_rate is recorded (0 or 1).
func (o *Orchestrator) runSmokeTest(ctx context.Context, artifactID, source string, maxLatencyMs int64) Report {
	result, err := o.sandbox.RunYaegi(ctx, source, smokeInputJSON, maxLatencyMs)
	hasMain := strings.Contains(source, "func main()")
	passed := err == nil && result.Success && hasMain
	detail := ""
	if err != nil {
		detail = err.Error()
	} else if !hasMain {
		detail = "no func main() declared"
	}
	report := Report{
		ArtifactID: artifactID,
		SmokeTest:  true,
		Results: []CaseResult{{
			Case:     Case{Name: "smoke", InputJSON: smokeInputJSON},
			Passed:   passed,
			Actual:   result.Stdout,
			Detail:   detail,
			WallTime: result.Duration,
		}},
	}
	if passed {
		report.PassRate = 1
	}
	report.QualityScore = report.PassRate
	logging.TestOrch("smoke-tested %s: pass=%t", artifactID, passed)
	return report
}

// ToEvaluationArtifact wraps a Report as an EVALUATION artifact linked to
// its parent via metadata.parent_id (spec §4.10, §4.2 IA1).
func ToEvaluationArtifact(report Report) *types.Artifact {
	var b strings.Builder
	fmt.Fprintf(&b, "pass_rate=%.4f quality_score=%.4f smoke_test=%t\n", report.PassRate, report.QualityScore, report.SmokeTest)
	for _, r := range report.Results {
		fmt.Fprintf(&b, "- %s: passed=%t %s\n", r.Case.Name, r.Passed, r.Detail)
	}
	return &types.Artifact{
		Kind:    types.KindEvaluation,
		Name:    "evaluation-" + report.ArtifactID,
		Content: []byte(b.String()),
		Metadata: types.Metadata{
			ParentID:     report.ArtifactID,
			QualityScore: report.QualityScore,
		},
	}
}

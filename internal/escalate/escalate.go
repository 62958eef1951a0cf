// Package escalate implements the EscalationController collaborator (C13):
// wrapping Planner, Generator, ValidationPipeline, and TestOrchestrator in a
// bounded retry loop that ascends model tier and climbs temperature on each
// failed attempt, carrying forward a de-duplicated "previous failure"
// section into the next Generator call. Grounded on the teacher's
// internal/verification/verifier.go VerifyWithRetry loop shape (execute,
// verify, store failed attempt, retry with enrichment, escalate on
// exhaustion), reworked from "LLM judge + shard reselection" into "validator
// + test report + tier ascension".
package escalate

import (
	"context"
	"fmt"
	"strings"

	"forgecore/internal/artifact"
	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/errs"
	"forgecore/internal/generate"
	"forgecore/internal/logging"
	"forgecore/internal/plan"
	"forgecore/internal/router"
	"forgecore/internal/testorch"
	"forgecore/internal/types"
	"forgecore/internal/validate"
)

// Attempt is one escalation iteration's full outcome.
type Attempt struct {
	Tier            types.Tier
	Temperature     float64
	PlanArtifact    *types.Artifact
	CodeArtifact    *types.Artifact
	ValidateReport  validate.Report
	TestReport      testorch.Report
	Accepted        bool
}

// quality is the composite score an attempt is ranked and gated on:
// validators' weighted score folded with the test orchestrator's
// quality_score, so a syntactically clean but untested artifact can't
// outrank a tested one and vice versa.
func (a Attempt) quality() float64 {
	return 0.5*a.ValidateReport.QualityScore + 0.5*a.TestReport.QualityScore
}

// Quality exposes the composite score callers outside the package (the
// engine, when deciding what metadata.quality_score to persist) need to
// read without duplicating the 0.5/0.5 split here.
func (a Attempt) Quality() float64 {
	return a.quality()
}

// BudgetChecker reports whether a candidate cost tier may be dispatched
// under the caller's current pressure budget (spec §4.11 "skip tiers whose
// cost_tier would exceed pressure.remaining_budget"). Escalate does not
// import internal/pressure; the engine wires the real
// PressureManager.AllowsCost method in here.
type BudgetChecker func(costTier types.CostTier) bool

// AllowAllBudget is the default BudgetChecker used when the caller has no
// pressure constraints to enforce.
func AllowAllBudget(types.CostTier) bool { return true }

// CaseDeriver turns a freshly produced PLAN artifact's content into the
// literal test cases TestOrchestrator should run against the generated code
// (spec §4.10: "Derives tests from the PLAN's test cases when present").
// Escalate does not parse plan prose itself — that belongs to whatever
// composes Planner's prompt contract (internal/engine) — so the Controller
// takes it as an injected function, the same seam BudgetChecker uses to
// avoid a package cycle.
type CaseDeriver func(planContent string, taskType types.TaskType) []testorch.Case

// Controller runs the Plan -> Generate -> Validate -> Test pipeline under a
// bounded, tier-ascending retry loop.
type Controller struct {
	planner     *plan.Planner
	generator   *generate.Generator
	validator   *validate.Pipeline
	testOrch    *testorch.Orchestrator
	router      *router.Router
	store       *artifact.Store
	embedder    embedding.EmbeddingEngine
	cfg         config.EscalateConfig
	caseDeriver CaseDeriver
}

// New wires the four pipeline stages plus the artifact store (for recording
// escalation_history PATTERN artifacts) into a Controller.
func New(planner *plan.Planner, generator *generate.Generator, validator *validate.Pipeline, testOrch *testorch.Orchestrator, r *router.Router, store *artifact.Store, embedder embedding.EmbeddingEngine, cfg config.EscalateConfig) *Controller {
	return &Controller{planner: planner, generator: generator, validator: validator, testOrch: testOrch, router: r, store: store, embedder: embedder, cfg: cfg}
}

// WithCaseDeriver installs a CaseDeriver, re-run against every attempt's own
// freshly generated plan. When the deriver returns no cases (parse found
// nothing, or none installed), whatever cases the caller passed into Run
// stand, falling through to testorch's smoke-test default if those are also
// empty.
func (c *Controller) WithCaseDeriver(d CaseDeriver) *Controller {
	c.caseDeriver = d
	return c
}

// attemptTemperature implements spec §4.11: temperature = min(0.1 +
// 0.2*attempt, 0.9).
func attemptTemperature(attempt int) float64 {
	t := 0.1 + 0.2*float64(attempt)
	if t > 0.9 {
		t = 0.9
	}
	return t
}

// Run drives the bounded retry loop for a fresh (non-modification) request.
// It never returns a nil Attempt on a non-error path: on terminal
// exhaustion the best-scoring attempt seen is returned tagged unstable
// (spec §4.11 point 4); among equally scored attempts the latest, highest
// tier one is kept.
func (c *Controller) Run(ctx context.Context, req types.Request, classification types.ClassificationResult, contextArtifacts []*types.Artifact, cases []testorch.Case, kind types.Kind, generatorContextWindow int, maxLatencyMs int64, budget BudgetChecker) (*Attempt, error) {
	if budget == nil {
		budget = AllowAllBudget
	}
	maxEscalations := c.cfg.MaxEscalations
	if maxEscalations <= 0 {
		maxEscalations = 4
	}

	tier := c.startingTier(ctx, req.Description, classification.RecommendedTier)

	var best *Attempt
	var failureMessages []string

	for attempt := 0; attempt < maxEscalations; attempt++ {
		desc, err := c.router.Pick(classification.RecommendedRole, tier)
		if err != nil {
			return nil, fmt.Errorf("escalate: router pick: %w", err)
		}
		if !desc.Enabled || !budget(desc.CostTier) {
			if !desc.Enabled {
				logging.EscalateWarn("skipping tier %s: backend %s is disabled", tier, desc.ID)
			} else {
				logging.EscalateWarn("skipping tier %s: cost_tier=%s exceeds remaining budget", tier, desc.CostTier)
			}
			next, aerr := c.router.Ascend(desc)
			if aerr == nil {
				tier = next.Tier
			}
			continue
		}

		temperature := attemptTemperature(attempt)
		previousFailures := dedupJoin(failureMessages)

		planArtifact, err := c.planner.Plan(ctx, req, classification, contextArtifacts, generatorContextWindow)
		if err != nil {
			return nil, fmt.Errorf("escalate: plan: %w", err)
		}

		codeArtifact, err := c.generator.Generate(ctx, planArtifact, kind, classification.RecommendedRole, tier, temperature, previousFailures)
		if err != nil {
			return nil, fmt.Errorf("escalate: generate: %w", err)
		}

		validateReport := c.validator.Run(string(codeArtifact.Content))
		attemptCases := cases
		if c.caseDeriver != nil {
			if derived := c.caseDeriver(string(planArtifact.Content), classification.TaskType); len(derived) > 0 {
				attemptCases = derived
			}
		}
		testReport := c.testOrch.Run(ctx, codeArtifact.ID, string(codeArtifact.Content), attemptCases, maxLatencyMs, nil)

		current := &Attempt{
			Tier:           tier,
			Temperature:    temperature,
			PlanArtifact:   planArtifact,
			CodeArtifact:   codeArtifact,
			ValidateReport: validateReport,
			TestReport:     testReport,
		}

		if best == nil || current.quality() >= best.quality() {
			best = current
		}

		if validateReport.Passed && testReport.QualityScore >= c.cfg.MinAcceptQuality {
			current.Accepted = true
			c.recordSuccess(ctx, req.Description, tier)
			logging.Escalate("accepted on attempt %d: tier=%s quality=%.3f", attempt, tier, current.quality())
			return current, nil
		}

		failureMessages = append(failureMessages, attemptFailureSummary(validateReport, testReport))

		if attempt < maxEscalations-1 {
			next, aerr := c.router.Ascend(desc)
			if aerr == nil {
				tier = next.Tier
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("escalate: every tier was disabled or budget-denied, no attempt was run: %w", errs.ErrEscalationExhausted)
	}

	best.CodeArtifact.Tags = append(best.CodeArtifact.Tags, "unstable")
	logging.EscalateWarn("escalation exhausted after %d attempts, returning best-scoring unstable attempt (quality=%.3f)", maxEscalations, best.quality())
	return best, errs.ErrEscalationExhausted
}

// RunModification drives the same bounded retry loop as Run, but for the
// MUTATE path (spec §4.8's PlanModification / §4.9's GenerateModification):
// each attempt diffs against the supplied template artifact instead of
// planning from scratch. It shares Run's tier ascension, temperature climb,
// budget gating, and best-attempt tracking; only the plan/generate calls
// differ.
func (c *Controller) RunModification(ctx context.Context, req types.Request, template *types.Artifact, classification types.ClassificationResult, cases []testorch.Case, generatorContextWindow int, maxLatencyMs int64, budget BudgetChecker) (*Attempt, error) {
	if budget == nil {
		budget = AllowAllBudget
	}
	maxEscalations := c.cfg.MaxEscalations
	if maxEscalations <= 0 {
		maxEscalations = 4
	}

	tier := c.startingTier(ctx, req.Description, classification.RecommendedTier)

	var best *Attempt
	var failureMessages []string

	for attempt := 0; attempt < maxEscalations; attempt++ {
		desc, err := c.router.Pick(classification.RecommendedRole, tier)
		if err != nil {
			return nil, fmt.Errorf("escalate: router pick: %w", err)
		}
		if !desc.Enabled || !budget(desc.CostTier) {
			if !desc.Enabled {
				logging.EscalateWarn("skipping tier %s: backend %s is disabled", tier, desc.ID)
			} else {
				logging.EscalateWarn("skipping tier %s: cost_tier=%s exceeds remaining budget", tier, desc.CostTier)
			}
			next, aerr := c.router.Ascend(desc)
			if aerr == nil {
				tier = next.Tier
			}
			continue
		}

		temperature := attemptTemperature(attempt)
		previousFailures := dedupJoin(failureMessages)

		planArtifact, err := c.planner.PlanModification(ctx, req, template, classification, generatorContextWindow)
		if err != nil {
			return nil, fmt.Errorf("escalate: plan modification: %w", err)
		}

		codeArtifact, err := c.generator.GenerateModification(ctx, planArtifact, template, classification.RecommendedRole, tier, temperature, previousFailures)
		if err != nil {
			return nil, fmt.Errorf("escalate: generate modification: %w", err)
		}

		validateReport := c.validator.Run(string(codeArtifact.Content))
		attemptCases := cases
		if c.caseDeriver != nil {
			if derived := c.caseDeriver(string(planArtifact.Content), classification.TaskType); len(derived) > 0 {
				attemptCases = derived
			}
		}
		testReport := c.testOrch.Run(ctx, codeArtifact.ID, string(codeArtifact.Content), attemptCases, maxLatencyMs, nil)

		current := &Attempt{
			Tier:           tier,
			Temperature:    temperature,
			PlanArtifact:   planArtifact,
			CodeArtifact:   codeArtifact,
			ValidateReport: validateReport,
			TestReport:     testReport,
		}

		if best == nil || current.quality() >= best.quality() {
			best = current
		}

		if validateReport.Passed && testReport.QualityScore >= c.cfg.MinAcceptQuality {
			current.Accepted = true
			c.recordSuccess(ctx, req.Description, tier)
			logging.Escalate("modification accepted on attempt %d: tier=%s quality=%.3f", attempt, tier, current.quality())
			return current, nil
		}

		failureMessages = append(failureMessages, attemptFailureSummary(validateReport, testReport))

		if attempt < maxEscalations-1 {
			next, aerr := c.router.Ascend(desc)
			if aerr == nil {
				tier = next.Tier
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("escalate: every tier was disabled or budget-denied, no modification attempt was run: %w", errs.ErrEscalationExhausted)
	}

	best.CodeArtifact.Tags = append(best.CodeArtifact.Tags, "unstable")
	logging.EscalateWarn("modification escalation exhausted after %d attempts, returning best-scoring unstable attempt (quality=%.3f)", maxEscalations, best.quality())
	return best, errs.ErrEscalationExhausted
}

// attemptFailureSummary renders a compact validator+test failure digest to
// prepend to the next Generator call's prompt.
func attemptFailureSummary(v validate.Report, t testorch.Report) string {
	var b strings.Builder
	for _, r := range v.Results {
		if r.Verdict == validate.VerdictFail {
			fmt.Fprintf(&b, "%s: %s\n", r.Validator, r.Detail)
		}
	}
	for _, r := range t.Results {
		if !r.Passed {
			fmt.Fprintf(&b, "test %s: %s\n", r.Case.Name, r.Detail)
		}
	}
	return b.String()
}

// dedupJoin de-duplicates failure messages across attempts before joining
// them (spec §4.11 point 2: "de-duplicated").
func dedupJoin(messages []string) string {
	seen := make(map[string]bool, len(messages))
	var out []string
	for _, m := range messages {
		for _, line := range strings.Split(m, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || seen[line] {
				continue
			}
			seen[line] = true
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

const escalationHistoryTag = "escalation_history"

// startingTier implements the spec §4.11 "learned starting tier": if a
// PATTERN artifact tagged escalation_history exists whose description is
// similar enough to this request, start at the recorded successful tier
// instead of the classifier's recommendation.
func (c *Controller) startingTier(ctx context.Context, description string, fallback types.Tier) types.Tier {
	matches, err := c.store.FindSimilar(ctx, description, []types.Kind{types.KindPattern}, []string{escalationHistoryTag}, c.cfg.LearnedTierSimilarity, 1)
	if err != nil || len(matches) == 0 {
		return fallback
	}
	tier := types.Tier(strings.TrimSpace(string(matches[0].Artifact.Content)))
	if tier == "" {
		return fallback
	}
	logging.Escalate("learned starting tier %s for request (similarity=%.3f)", tier, matches[0].Similarity)
	return tier
}

// recordSuccess persists a (description_embedding, successful_tier) PATTERN
// artifact so future similar requests can skip straight to this tier.
func (c *Controller) recordSuccess(ctx context.Context, description string, tier types.Tier) {
	a := &types.Artifact{
		Kind:        types.KindPattern,
		Name:        "escalation-history",
		Description: description,
		Content:     []byte(tier),
		Tags:        []string{escalationHistoryTag},
	}
	if err := c.store.Store(ctx, a, true, false); err != nil {
		logging.EscalateWarn("failed to record escalation_history pattern: %v", err)
	}
}

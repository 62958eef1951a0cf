// Package plan implements the Planner/Overseer collaborator (C8): turning a
// request (plus optional classification and context artifacts) into a
// structured textual specification, never executable code. Grounded on the
// teacher's internal/verification/verifier.go corrective-action planning
// shape and internal/session/executor.go's OODA-style observe-plan-act
// loop, reworked here as pure decision logic over the already-wired
// router and llm.Backend collaborators (no separate library: this is
// prompt construction and budget bookkeeping, not a domain concern with
// its own ecosystem dependency).
package plan

import (
	"context"
	"fmt"
	"strings"

	"forgecore/internal/config"
	"forgecore/internal/errs"
	"forgecore/internal/llm"
	"forgecore/internal/logging"
	"forgecore/internal/router"
	"forgecore/internal/types"
)

// Planner produces PLAN artifacts in fresh or modification mode.
type Planner struct {
	backend llm.Backend
	router  *router.Router
	cfg     config.PlanConfig
}

// New builds a Planner over an LlmBackend and Router.
func New(backend llm.Backend, r *router.Router, cfg config.PlanConfig) *Planner {
	return &Planner{backend: backend, router: r, cfg: cfg}
}

const freshPlanPrompt = `You are producing a structured specification for a code generation task.
Do NOT write any code. Produce a plan with these sections, each clearly labeled:

PROBLEM DEFINITION: restate the task precisely.
IO INTERFACE: describe the JSON stdin shape and the JSON stdout shape. The stdout
shape is always a single top-level JSON object keyed "result" (success) or
"error" (a string, handled failure) — describe what the "result" payload holds.
ALGORITHMIC REQUIREMENTS: the approach, data structures, and edge cases to handle.
SAFETY CAPS: sequences must not exceed %d elements; loops must not exceed %d iterations unless justified; file sizes must not exceed %d bytes.
TEST CASES: at least two literal (input, expected_output) pairs.
RECOMMENDED TOOLS: a list of tool names this implementation may need, or "none".

Task: %s
%s`

const modificationPlanPrompt = `You are producing a diff-style modification plan for an existing implementation.
Do NOT write any code. Produce a plan with these sections, each clearly labeled:

KEEP: parts of the existing implementation that remain unchanged.
CHANGE: parts that must be altered, and how.
ADD: new behavior to introduce.
REMOVE: behavior to drop.
IO INTERFACE: state explicitly whether the JSON stdin/stdout contract changes; preserve it unless the new request demands otherwise. The stdout contract is always the {"result": ...} / {"error": "..."} envelope regardless of what else changes.
SAFETY CAPS: sequences must not exceed %d elements; loops must not exceed %d iterations unless justified; file sizes must not exceed %d bytes.
TEST CASES: at least two literal (input, expected_output) pairs covering the new behavior.

Existing implementation description: %s
Existing implementation content:
%s

New request: %s`

// Plan produces a fresh PLAN artifact for req (spec §4.6 item 1).
func (p *Planner) Plan(ctx context.Context, req types.Request, classification types.ClassificationResult, contextArtifacts []*types.Artifact, generatorContextWindow int) (*types.Artifact, error) {
	contextBlock := formatContextArtifacts(contextArtifacts)
	prompt := fmt.Sprintf(freshPlanPrompt,
		p.cfg.MaxSequenceElements, p.cfg.MaxLoopIterations, p.cfg.MaxFileSizeBytes,
		req.Description, contextBlock)

	content, err := p.generate(ctx, prompt, classification.RecommendedRole, classification.RecommendedTier)
	if err != nil {
		return nil, err
	}
	content = p.truncateToBudget(content, generatorContextWindow)

	return &types.Artifact{
		Kind:        types.KindPlan,
		Name:        "plan:" + req.Description,
		Description: req.Description,
		Content:     []byte(content),
		Tags:        []string{"fresh_plan", string(classification.TaskType)},
	}, nil
}

// PlanModification produces a diff-style PLAN artifact using template as the
// existing implementation to adapt (spec §4.6 item 2).
func (p *Planner) PlanModification(ctx context.Context, req types.Request, template *types.Artifact, classification types.ClassificationResult, generatorContextWindow int) (*types.Artifact, error) {
	if template == nil {
		return nil, fmt.Errorf("plan: PlanModification requires a template artifact")
	}
	prompt := fmt.Sprintf(modificationPlanPrompt,
		p.cfg.MaxSequenceElements, p.cfg.MaxLoopIterations, p.cfg.MaxFileSizeBytes,
		template.Description, string(template.Content), req.Description)

	content, err := p.generate(ctx, prompt, classification.RecommendedRole, classification.RecommendedTier)
	if err != nil {
		return nil, err
	}
	content = p.truncateToBudget(content, generatorContextWindow)

	return &types.Artifact{
		Kind:        types.KindPlan,
		Name:        "modplan:" + req.Description,
		Description: req.Description,
		Content:     []byte(content),
		Tags:        []string{"modification_plan", string(classification.TaskType)},
		Metadata:    types.Metadata{ParentID: template.ID},
	}, nil
}

func (p *Planner) generate(ctx context.Context, prompt string, role types.Role, tier types.Tier) (string, error) {
	if role == "" {
		role = types.RoleGeneral
	}
	if tier == "" {
		tier = types.TierGeneral
	}
	desc, err := p.router.Pick(role, tier)
	if err != nil {
		return "", fmt.Errorf("plan: router pick: %w", err)
	}
	p.router.PublishStatus(desc.Provider, desc.ID, "planning")
	defer p.router.ClearStatus()

	out, err := p.backend.Generate(ctx, desc.ID, prompt, llm.Params{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return "", fmt.Errorf("%w: plan generate: %v", errs.ErrProviderUnavailable, err)
	}
	return out, nil
}

// truncateToBudget enforces spec §4.6's context budget: plans are cut to
// 0.5 x generator_context_window tokens (2 chars/token estimate), with a
// trailing marker, logged when triggered.
func (p *Planner) truncateToBudget(content string, generatorContextWindow int) string {
	if generatorContextWindow <= 0 {
		return content
	}
	budgetTokens := p.cfg.ContextBudgetFraction * float64(generatorContextWindow)
	budgetChars := int(budgetTokens * p.cfg.CharsPerToken)
	if budgetChars <= 0 || len(content) <= budgetChars {
		return content
	}
	logging.Plan("truncating plan from %d to %d chars (context_window=%d)", len(content), budgetChars, generatorContextWindow)
	return content[:budgetChars] + "\n[TRUNCATED: plan exceeded context budget]"
}

func formatContextArtifacts(artifacts []*types.Artifact) string {
	if len(artifacts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nRELATED CONTEXT ARTIFACTS:\n")
	for _, a := range artifacts {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.Name, a.Kind, a.Description)
	}
	return b.String()
}

// Package cache implements the two-stage SemanticCache collaborator (C7):
// a vector prefilter (stage 1) gates an LLM semantic judge (stage 2) that
// decides REUSE, MUTATE, or NEW. Grounded on the teacher's
// internal/embedding cosine-similarity top-K recall pattern plus
// internal/store's artifact-recall shape, reworked around spec §4.5's
// explicit two-gate design (stage1_gate vs. the MUTATE/REUSE score band,
// spec.md's own "Open Questions" note flags these as two independent
// knobs, never conflated here).
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forgecore/internal/artifact"
	"forgecore/internal/config"
	"forgecore/internal/errs"
	"forgecore/internal/llm"
	"forgecore/internal/logging"
	"forgecore/internal/router"
	"forgecore/internal/types"
)

// Cache implements C7's decide(request) -> CacheDecision contract.
type Cache struct {
	store   *artifact.Store
	backend llm.Backend
	router  *router.Router
	cfg     config.CacheConfig
}

// New builds a Cache over an ArtifactStore, an LlmBackend for the stage-2
// judge, and a Router to resolve the judge model.
func New(store *artifact.Store, backend llm.Backend, r *router.Router, cfg config.CacheConfig) *Cache {
	return &Cache{store: store, backend: backend, router: r, cfg: cfg}
}

// Decide runs stage 1 (vector prefilter) and, only if it passes gate1,
// stage 2 (LLM semantic judge), matching the B1 boundary: stage 2 is never
// invoked when stage1_score < gate1.
func (c *Cache) Decide(ctx context.Context, req types.Request, taskType types.TaskType) (types.CacheDecision, error) {
	maxAge := time.Duration(c.cfg.MaxAgeDays) * 24 * time.Hour
	matches, err := c.store.FindSimilar(ctx, req.Description,
		[]types.Kind{types.KindFunction, types.KindWorkflow}, nil, 0, c.cfg.TopK)
	if err != nil {
		logging.CacheWarn("stage 1 FindSimilar failed: %v — treating as cache miss", err)
		return types.CacheDecision{Verdict: types.VerdictNew, Stage1Score: 0, Stage2Score: -1, Rationale: "stage 1 unavailable: " + err.Error()}, nil
	}

	// quality_score and age are candidate-eligibility filters, independent
	// of the similarity gate applied below.
	var filtered []artifact.Match
	now := time.Now()
	for _, m := range matches {
		if m.Artifact.Metadata.QualityScore < c.cfg.MinQuality {
			continue
		}
		if maxAge > 0 && now.Sub(m.Artifact.UpdatedAt) > maxAge {
			continue
		}
		filtered = append(filtered, m)
	}

	if len(filtered) == 0 {
		logging.Cache("no stage-1 candidates (query=%q)", truncate(req.Description, 60))
		return types.CacheDecision{Verdict: types.VerdictNew, Stage1Score: 0, Stage2Score: -1, Rationale: "no stage-1 candidates"}, nil
	}

	best := filtered[0]
	stage1Score := best.Similarity

	if stage1Score < c.cfg.Stage1Gate {
		logging.Cache("stage1_score=%.4f below gate=%.4f -> NEW", stage1Score, c.cfg.Stage1Gate)
		return types.CacheDecision{Verdict: types.VerdictNew, Stage1Score: stage1Score, Stage2Score: -1, Rationale: "below stage-1 gate"}, nil
	}

	score, err := c.judge(ctx, best.Artifact.Description, req.Description)
	if err != nil {
		logging.CacheWarn("stage 2 judge failed: %v — treating as NEW", err)
		c.recordJudgeFailure(ctx, req.Description, best.Artifact.ID, err)
		return types.CacheDecision{
			Verdict: types.VerdictNew, MatchedArtifactID: best.Artifact.ID,
			Stage1Score: stage1Score, Stage2Score: -1,
			Rationale: "semantic judge error: " + err.Error(),
		}, errs.ErrSemanticJudgeFailed
	}

	verdict, rationale := decisionFromScore(score, c.cfg.MutateFloor)
	logging.Cache("stage1_score=%.4f stage2_score=%d -> %s (matched=%s)", stage1Score, score, verdict, best.Artifact.ID)

	decision := types.CacheDecision{
		Verdict:           verdict,
		MatchedArtifactID: best.Artifact.ID,
		Stage1Score:       stage1Score,
		Stage2Score:       score,
		Rationale:         rationale,
	}
	return decision, nil
}

// recordJudgeFailure persists a FAILURE artifact tagged semantic_judge_error
// so a stage-2 outage leaves a durable trace rather than only a log line —
// mirrors escalate.Controller.recordSuccess's non-fatal store-and-log shape.
func (c *Cache) recordJudgeFailure(ctx context.Context, description, matchedID string, judgeErr error) {
	a := &types.Artifact{
		Kind:        types.KindFailure,
		Name:        "semantic-judge-error",
		Description: description,
		Content:     []byte(judgeErr.Error()),
		Tags:        []string{"semantic_judge_error"},
		Metadata:    types.Metadata{ParentID: matchedID},
	}
	if err := c.store.Store(ctx, a, false, false); err != nil {
		logging.CacheWarn("failed to record semantic_judge_error artifact: %v", err)
	}
}

func decisionFromScore(score int, mutateFloor int) (types.Verdict, string) {
	switch {
	case score == 100:
		return types.VerdictReuse, "exact semantic match"
	case score >= mutateFloor:
		return types.VerdictMutate, fmt.Sprintf("partial match (score=%d)", score)
	default:
		return types.VerdictNew, fmt.Sprintf("low match (score=%d)", score)
	}
}

// judgePrompt is the fixed 3-way classification prompt from spec §4.5.
const judgePrompt = `Compare these two task descriptions and rate how well the SECOND could be
satisfied by reusing or adapting an implementation built for the FIRST.
Respond with ONLY an integer from 0 to 100:
100 = identical task, exact reuse.
50-99 = related task, the first is a usable template with modification.
0-49 = unrelated, a fresh implementation is needed.

FIRST (stored): %s
SECOND (requested): %s`

func (c *Cache) judge(ctx context.Context, stored, requested string) (int, error) {
	desc, err := c.router.Pick(types.RoleGeneral, judgeTier(c.cfg))
	if err != nil {
		return 0, fmt.Errorf("judge router pick: %w", err)
	}

	prompt := fmt.Sprintf(judgePrompt, stored, requested)

	out, err := c.backend.Generate(ctx, desc.ID, prompt, llm.Params{
		Temperature: c.cfg.JudgeTemp,
		MaxTokens:   8,
		TimeoutMs:   10000,
	})
	if err != nil {
		return 0, fmt.Errorf("judge generate: %w", err)
	}

	n, parseErr := parseScore(out)
	if parseErr != nil {
		return 0, fmt.Errorf("judge response %q: %w", out, parseErr)
	}
	return n, nil
}

func judgeTier(cfg config.CacheConfig) types.Tier {
	if cfg.JudgeTier == "" {
		return types.TierVeryFast
	}
	return types.Tier(cfg.JudgeTier)
}

func parseScore(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	// The judge is asked for a bare integer; take the first integer-looking
	// token defensively in case the model wraps it in prose anyway.
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return !(r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("no integer found in response")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

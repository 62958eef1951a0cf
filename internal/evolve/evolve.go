// Package evolve implements the EvolutionController collaborator (C15):
// an out-of-band sweep over the ArtifactStore that ranks FUNCTION/WORKFLOW
// artifacts by potential payoff, re-plans and re-generates a variant for
// the top candidates, and promotes a variant only if it strictly beats its
// parent on composite quality — plus continuous drift detection driven by
// the Mangle rule engine in mangle.go. Grounded on the teacher's
// internal/core/mangle_watcher.go (rule reload on a schedule/file change)
// and internal/verification/verifier.go's retry-and-compare shape, reworked
// from "fix this failing tool" into "periodically try to improve a working
// one".
package evolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"forgecore/internal/artifact"
	"forgecore/internal/classify"
	"forgecore/internal/config"
	"forgecore/internal/generate"
	"forgecore/internal/logging"
	"forgecore/internal/plan"
	"forgecore/internal/testorch"
	"forgecore/internal/types"
	"forgecore/internal/validate"
)

// driftRules is the Datalog program loaded into every drift-detection pass.
// should_regenerate(Id) holds when any of the three rolling metrics crosses
// config.EvolveConfig.DriftQualityDelta, treated as a single relative
// threshold applied uniformly to quality drop (absolute, already 0..1),
// latency increase (relative, since latency has no natural 0..1 scale), and
// error-rate increase (absolute, already 0..1) — see DESIGN.md's Open
// Question entry for why one configured threshold covers all three.
const driftRules = `
Decl recent_mean(ArtifactId, MeanLatencyMs, MeanQuality, MeanErrorRate).
Decl historical_mean(ArtifactId, MeanLatencyMs, MeanQuality, MeanErrorRate).
Decl drift_threshold(Threshold).
Decl should_regenerate(ArtifactId).

should_regenerate(Id) :-
    recent_mean(Id, _, RecentQuality, _),
    historical_mean(Id, _, HistoricalQuality, _),
    drift_threshold(T),
    Drop = fn:minus(HistoricalQuality, RecentQuality),
    Drop > T.

should_regenerate(Id) :-
    recent_mean(Id, RecentLatency, _, _),
    historical_mean(Id, HistoricalLatency, _, _),
    drift_threshold(T),
    HistoricalLatency > 0,
    Increase = fn:div(fn:minus(RecentLatency, HistoricalLatency), HistoricalLatency),
    Increase > T.

should_regenerate(Id) :-
    recent_mean(Id, _, _, RecentErrorRate),
    historical_mean(Id, _, _, HistoricalErrorRate),
    drift_threshold(T),
    Increase = fn:minus(RecentErrorRate, HistoricalErrorRate),
    Increase > T.
`

// execSample is one recorded execution of a stored artifact.
type execSample struct {
	latencyMs float64
	quality   float64
	failed    bool
}

// history is the rolling execution window for one artifact, split into a
// "recent" half and the "historical" half immediately before it, each of
// width cfg.DriftWindow (spec §4.13 "rolling means ... over its last N
// executions").
type history struct {
	mu      sync.Mutex
	samples []execSample
}

// Controller implements C15. It wires the already-built C8 (Planner), C9
// (Generator), C10 (ValidationPipeline), C12 (TestOrchestrator), and C6
// (Classifier) collaborators to re-plan/re-generate variants, and C5 (the
// ArtifactStore) to enumerate candidates and persist results.
type Controller struct {
	store      *artifact.Store
	classifier *classify.Classifier
	planner    *plan.Planner
	generator  *generate.Generator
	validator  *validate.Pipeline
	testOrch   *testorch.Orchestrator
	cfg        config.EvolveConfig

	historyMu sync.Mutex
	histories map[string]*history

	rulesMu      sync.RWMutex
	ruleOverride string // operator-edited drift rules, swapped in via WatchRules; empty uses driftRules
}

// New builds a Controller over the pipeline collaborators it re-drives.
func New(
	store *artifact.Store,
	classifier *classify.Classifier,
	planner *plan.Planner,
	generator *generate.Generator,
	validator *validate.Pipeline,
	testOrch *testorch.Orchestrator,
	cfg config.EvolveConfig,
) *Controller {
	return &Controller{
		store:      store,
		classifier: classifier,
		planner:    planner,
		generator:  generator,
		validator:  validator,
		testOrch:   testOrch,
		cfg:        cfg,
		histories:  make(map[string]*history),
	}
}

// costWeight proxies "avg_cost_per_exec" from an artifact's recorded
// CostTier, since Metadata carries no literal currency field (see DESIGN.md).
// The scale is relative, not absolute: it only has to order candidates
// consistently against each other.
func costWeight(tier types.CostTier) float64 {
	switch tier {
	case types.CostLow:
		return 1
	case types.CostMedium:
		return 3
	case types.CostHigh:
		return 9
	default:
		return 0.1 // free/unset still costs something to re-run and re-test
	}
}

// candidateValue computes spec §4.13 step 1's ranking score.
func candidateValue(a *types.Artifact) float64 {
	improvementPotential := 1 - a.Metadata.QualityScore
	if improvementPotential < 0 {
		improvementPotential = 0
	}
	return float64(a.UsageCount) * improvementPotential * costWeight(a.Metadata.CostTier)
}

// Candidate is one ranked artifact from Rank.
type Candidate struct {
	Artifact *types.Artifact
	Value    float64
}

// Rank implements spec §4.13 step 1: pull every FUNCTION/WORKFLOW artifact,
// drop ones below MinUsageCount, and sort descending by candidateValue.
func (c *Controller) Rank(ctx context.Context) ([]Candidate, error) {
	artifacts, err := c.store.ListByKind(ctx, []types.Kind{types.KindFunction, types.KindWorkflow})
	if err != nil {
		return nil, fmt.Errorf("evolve: listing candidates: %w", err)
	}

	var candidates []Candidate
	for _, a := range artifacts {
		if a.UsageCount < int64(c.cfg.MinUsageCount) {
			continue
		}
		candidates = append(candidates, Candidate{Artifact: a, Value: candidateValue(a)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Value > candidates[j].Value })
	return candidates, nil
}

// SweepResult is the outcome of re-optimizing one candidate.
type SweepResult struct {
	Parent        *types.Artifact
	Variant       *types.Artifact // nil if generation/validation failed outright
	ParentQuality float64
	VariantQuality float64
	Promoted      bool
	Err           error
}

func compositeQuality(v validate.Report, t testorch.Report) float64 {
	return 0.5*v.QualityScore + 0.5*t.QualityScore
}

// Sweep implements spec §4.13 steps 1-3: rank, re-plan/re-generate/re-test
// the top cfg.TopN candidates, promote strictly-better variants, and emit a
// PERFORMANCE record for every attempt regardless of outcome.
func (c *Controller) Sweep(ctx context.Context, generatorContextWindow int, maxLatencyMs int64) ([]SweepResult, error) {
	ranked, err := c.Rank(ctx)
	if err != nil {
		return nil, err
	}
	if len(ranked) > c.cfg.TopN {
		ranked = ranked[:c.cfg.TopN]
	}
	logging.Evolve("sweep starting over %d ranked candidates (top_n=%d)", len(ranked), c.cfg.TopN)

	results := make([]SweepResult, 0, len(ranked))
	for _, cand := range ranked {
		res := c.evolveOne(ctx, cand.Artifact, generatorContextWindow, maxLatencyMs)
		results = append(results, res)
		c.emitPerformanceRecord(ctx, res)
	}
	return results, nil
}

func (c *Controller) evolveOne(ctx context.Context, parent *types.Artifact, generatorContextWindow int, maxLatencyMs int64) SweepResult {
	res := SweepResult{Parent: parent, ParentQuality: parent.Metadata.QualityScore}

	req := types.Request{RequestID: parent.ID + ":evolve", Description: parent.Description}
	classification, err := c.classifier.Classify(ctx, req)
	if err != nil {
		res.Err = fmt.Errorf("evolve: classifying parent %s: %w", parent.ID, err)
		return res
	}

	planArtifact, err := c.planner.PlanModification(ctx, req, parent, classification, generatorContextWindow)
	if err != nil {
		res.Err = fmt.Errorf("evolve: re-planning %s: %w", parent.ID, err)
		return res
	}

	variant, err := c.generator.GenerateModification(ctx, planArtifact, parent, classification.RecommendedRole, classification.RecommendedTier, 0.2, "")
	if err != nil {
		res.Err = fmt.Errorf("evolve: re-generating %s: %w", parent.ID, err)
		return res
	}

	validateReport := c.validator.Run(string(variant.Content))
	testReport := c.testOrch.Run(ctx, parent.ID, string(variant.Content), nil, maxLatencyMs, nil)

	res.VariantQuality = compositeQuality(validateReport, testReport)
	variant.Metadata.QualityScore = res.VariantQuality
	variant.Metadata.ParentID = parent.ID
	variant.Metadata.Ready = validateReport.Passed
	variant.Metadata.Unstable = !validateReport.Passed
	variant.Tags = append(variant.Tags, "evolved", "variant")

	strictlyBetter := res.VariantQuality > res.ParentQuality
	if !c.cfg.PromoteOnlyIfBetter {
		strictlyBetter = true
	}
	if validateReport.Passed && strictlyBetter {
		if err := c.store.Store(ctx, variant, true, false); err != nil {
			res.Err = fmt.Errorf("evolve: storing promoted variant for %s: %w", parent.ID, err)
			return res
		}
		res.Variant = variant
		res.Promoted = true
		logging.Evolve("promoted variant %s of %s (quality %.3f -> %.3f)", variant.ID, parent.ID, res.ParentQuality, res.VariantQuality)
		return res
	}

	variant.Tags = append(variant.Tags, "rejected")
	if err := c.store.Store(ctx, variant, true, false); err != nil {
		logging.EvolveDebug("failed to persist rejected variant of %s: %v", parent.ID, err)
	} else {
		res.Variant = variant
	}
	logging.EvolveDebug("variant of %s did not strictly improve (quality %.3f -> %.3f), not promoted", parent.ID, res.ParentQuality, res.VariantQuality)
	return res
}

func (c *Controller) emitPerformanceRecord(ctx context.Context, res SweepResult) {
	a := &types.Artifact{
		Kind:        types.KindPerformance,
		Name:        "evolution-sweep:" + res.Parent.ID,
		Description: fmt.Sprintf("evolution sweep over %s", res.Parent.ID),
		Metadata: types.Metadata{
			ParentID:     res.Parent.ID,
			QualityScore: res.VariantQuality,
		},
		Tags: []string{"evolution_sweep"},
	}
	if res.Promoted {
		a.Tags = append(a.Tags, "promoted")
	}
	if res.Err != nil {
		a.Description += ": " + res.Err.Error()
		a.Tags = append(a.Tags, "errored")
	}
	if err := c.store.Store(ctx, a, false, false); err != nil {
		logging.EvolveWarn("failed to record PERFORMANCE artifact for sweep of %s: %v", res.Parent.ID, err)
	}
}

// RecordExecution feeds one execution observation into an artifact's
// rolling drift window (spec §4.13 "maintain rolling means of latency/
// quality/error-rate over its last N executions"), trimming to two windows
// of history once it has enough samples to compare recent against past.
func (c *Controller) RecordExecution(artifactID string, latencyMs, quality float64, failed bool) {
	c.historyMu.Lock()
	h, ok := c.histories[artifactID]
	if !ok {
		h = &history{}
		c.histories[artifactID] = h
	}
	c.historyMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, execSample{latencyMs: latencyMs, quality: quality, failed: failed})
	limit := 2 * c.cfg.DriftWindow
	if limit > 0 && len(h.samples) > limit {
		h.samples = h.samples[len(h.samples)-limit:]
	}
}

func meanOf(samples []execSample) (latency, quality, errorRate float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	var failures int
	for _, s := range samples {
		latency += s.latencyMs
		quality += s.quality
		if s.failed {
			failures++
		}
	}
	n := float64(len(samples))
	return latency / n, quality / n, float64(failures) / n
}

// DetectDrift implements spec §4.13's continuous drift check: for every
// artifact with enough recorded history, assert recent/historical rolling
// means into a fresh Mangle program and ask it which ids should_regenerate.
// Returns the artifact ids to enqueue for evolution.
func (c *Controller) DetectDrift(ctx context.Context) ([]string, error) {
	re := newRuleEngine()
	if err := re.loadRules(c.rulesSource()); err != nil {
		return nil, fmt.Errorf("evolve: loading drift rules: %w", err)
	}
	if err := re.assert("drift_threshold", c.cfg.DriftQualityDelta); err != nil {
		return nil, err
	}

	c.historyMu.Lock()
	ids := make([]string, 0, len(c.histories))
	hists := make([]*history, 0, len(c.histories))
	for id, h := range c.histories {
		ids = append(ids, id)
		hists = append(hists, h)
	}
	c.historyMu.Unlock()

	window := c.cfg.DriftWindow
	evaluated := 0
	for i, id := range ids {
		h := hists[i]
		h.mu.Lock()
		samples := append([]execSample(nil), h.samples...)
		h.mu.Unlock()

		if window <= 0 || len(samples) < 2*window {
			continue
		}
		historical := samples[:len(samples)-window]
		recent := samples[len(samples)-window:]

		recentLatency, recentQuality, recentErr := meanOf(recent)
		histLatency, histQuality, histErr := meanOf(historical)

		if err := re.assert("recent_mean", id, recentLatency, recentQuality, recentErr); err != nil {
			return nil, err
		}
		if err := re.assert("historical_mean", id, histLatency, histQuality, histErr); err != nil {
			return nil, err
		}
		evaluated++
	}
	if evaluated == 0 {
		return nil, nil
	}

	if err := re.evaluate(); err != nil {
		return nil, fmt.Errorf("evolve: evaluating drift rules: %w", err)
	}
	atoms, err := re.query("should_regenerate")
	if err != nil {
		return nil, fmt.Errorf("evolve: querying should_regenerate: %w", err)
	}

	var flagged []string
	for _, atom := range atoms {
		if id, ok := argString(atom, 0); ok {
			flagged = append(flagged, id)
		}
	}
	if len(flagged) > 0 {
		logging.Evolve("drift detected for %d artifact(s): %v", len(flagged), flagged)
	}
	return flagged, nil
}

// rulesSource returns the currently active drift rule program: an
// operator-edited override loaded by ReloadRulesFromDir/WatchRules if one has
// been installed, else the built-in driftRules.
func (c *Controller) rulesSource() string {
	c.rulesMu.RLock()
	defer c.rulesMu.RUnlock()
	if c.ruleOverride == "" {
		return driftRules
	}
	return c.ruleOverride
}

// ReloadRulesFromDir concatenates every .mg fragment in dir and, if the
// result parses cleanly, installs it as the active drift rule program. A
// parse failure leaves the previous program (built-in or prior override) in
// place and is returned to the caller to log, mirroring the teacher's
// validate-before-swap behavior in mangle_watcher.go's validateAndRepair.
func (c *Controller) ReloadRulesFromDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("evolve: reading rules dir %s: %w", dir, err)
	}

	var fragments []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mg") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("evolve: reading rule fragment %s: %w", e.Name(), err)
		}
		fragments = append(fragments, string(content))
	}
	if len(fragments) == 0 {
		return nil
	}

	candidate := strings.Join(fragments, "\n")
	if err := newRuleEngine().loadRules(candidate); err != nil {
		return fmt.Errorf("evolve: rejecting invalid rule override: %w", err)
	}

	c.rulesMu.Lock()
	c.ruleOverride = candidate
	c.rulesMu.Unlock()
	return nil
}

// WatchRules starts an fsnotify-backed RuleWatcher over dir (created if
// absent) that calls ReloadRulesFromDir on every settled change, so an
// operator can tune drift thresholds or add Mangle rules without restarting
// the controller. Grounded on the teacher's internal/core/mangle_watcher.go
// debounced reload loop. The caller owns the returned watcher's lifecycle
// and must Stop it.
func (c *Controller) WatchRules(dir string) (*RuleWatcher, error) {
	w, err := NewRuleWatcher(dir, func() error { return c.ReloadRulesFromDir(dir) })
	if err != nil {
		return nil, err
	}
	w.Start()
	return w, nil
}

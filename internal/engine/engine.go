// Package engine wires the fourteen collaborators (C2-C15; C1's Embedder is
// folded into artifact/vectorstore construction) into the single request
// pipeline spec §2 describes: classify, decide REUSE/MUTATE/NEW, plan,
// generate, validate, run, test, escalate on failure, store with empirical
// metadata. Nothing here is a collaborator in its own right — it is the
// orchestration glue the other eighteen packages were each built to be
// driven by, grounded the way the teacher's cmd/ entrypoints and
// internal/orchestrator-shaped wiring compose its shards, store, and
// verifier into one CLI-facing call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"forgecore/internal/artifact"
	"forgecore/internal/cache"
	"forgecore/internal/classify"
	"forgecore/internal/config"
	"forgecore/internal/embedding"
	"forgecore/internal/errs"
	"forgecore/internal/escalate"
	"forgecore/internal/evolve"
	"forgecore/internal/generate"
	"forgecore/internal/llm"
	"forgecore/internal/logging"
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

// Pipeline owns every collaborator for one forgecore instance and exposes
// the request-handling entry points cmd/forge's subcommands call.
type Pipeline struct {
	cfg *config.Config

	embedder embedding.EmbeddingEngine
	vec      *vectorstore.Store
	store    *artifact.Store
	backend  llm.Backend
	router   *router.Router
	toolkit  *toolkit.Registry

	classifier *classify.Classifier
	cache      *cache.Cache
	planner    *plan.Planner
	generator  *generate.Generator
	validator  *validate.Pipeline
	sandbox    *sandbox.Sandbox
	testOrch   *testorch.Orchestrator
	escalate   *escalate.Controller
	pressure   *pressure.Manager
	evolve     *evolve.Controller

	pendingWrites *pendingWriteQueue
}

// New constructs every collaborator from cfg and wires them into a
// Pipeline. The wiring itself is where several cross-package decisions
// recorded in DESIGN.md become real: pressure's AllowsCost becomes
// escalate's BudgetChecker, and engine.DeriveCases becomes escalate's
// CaseDeriver.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	embCfg := embedding.Config{
		Provider:        cfg.Embedding.Provider,
		LocalDimensions: cfg.Embedding.Dimensions,
		GenAIAPIKey:     cfg.Embedding.GenAIAPIKey,
		GenAIModel:      cfg.Embedding.GenAIModel,
		TaskType:        "SEMANTIC_SIMILARITY",
	}
	embedder, err := embedding.NewEngine(embCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: embedding engine: %w", err)
	}

	dataDir := cfg.Store.RootDir
	if dataDir == "" {
		dataDir = filepath.Dir(cfg.Store.DatabasePath)
	}
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir %s: %w", dataDir, err)
	}

	artifactsPath := cfg.Store.DatabasePath
	if artifactsPath == "" {
		artifactsPath = filepath.Join(dataDir, "forgecore.db")
	}
	vecPath := filepath.Join(dataDir, "vectors.db")

	vec, err := vectorstore.Open(vecPath, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("engine: vector store: %w", err)
	}

	store, err := artifact.Open(artifactsPath, vec, embedder)
	if err != nil {
		return nil, fmt.Errorf("engine: artifact store: %w", err)
	}

	// Registry, not a single global llm.NewBackend, is what every
	// collaborator below dispatches through: it resolves each router
	// descriptor's own (provider, api_key, model) independently and checks
	// Enabled before ever constructing a real backend for it (spec IA4).
	backend := llm.NewRegistry(cfg.Router, cfg.LLM)

	r := router.New(cfg.Router)
	classifier := classify.New(backend, r)
	ch := cache.New(store, backend, r, cfg.Cache)
	planner := plan.New(backend, r, cfg.Plan)
	generator := generate.New(backend, r)
	validator := validate.New(cfg.Validate).WithStore(store)

	tk := toolkit.NewRegistry()
	if err := toolkit.RegisterDefaults(tk); err != nil {
		return nil, fmt.Errorf("engine: register default tools: %w", err)
	}
	tk.MustRegister(toolkit.LookupArtifactTool(store))

	sb := sandbox.New(cfg.Sandbox).WithToolkit(tk)
	to := testorch.New(sb, embedder, cfg.TestOrch)

	esc := escalate.New(planner, generator, validator, to, r, store, embedder, cfg.Escalate)
	esc.WithCaseDeriver(DeriveCases)

	pm := pressure.New(cfg.Pressure, 4, nil)
	ev := evolve.New(store, classifier, planner, generator, validator, to, cfg.Evolve)

	// pending_writes is a durable sidecar queue: persistAttempt falls back to
	// it instead of hard-failing whenever the artifact store rejects a
	// PLAN/CODE write, and it is drained back into the real store here on
	// every startup so no attempt is silently lost to a transient store
	// outage.
	pw := newPendingWriteQueue(dataDir)
	pw.Drain(ctx, store)

	return &Pipeline{
		cfg:           cfg,
		embedder:      embedder,
		vec:           vec,
		store:         store,
		backend:       backend,
		router:        r,
		toolkit:       tk,
		classifier:    classifier,
		cache:         ch,
		planner:       planner,
		generator:     generator,
		validator:     validator,
		sandbox:       sb,
		testOrch:      to,
		escalate:      esc,
		pressure:      pm,
		evolve:        ev,
		pendingWrites: pw,
	}, nil
}

// Close releases the underlying store handles. The vector store and
// artifact store each own a sqlite connection; nothing else in Pipeline
// holds a closable resource.
func (p *Pipeline) Close() error {
	if err := p.store.Close(); err != nil {
		return err
	}
	return p.vec.Close()
}

// Store exposes the underlying ArtifactStore for callers (the CLI's list
// command) that only need read access, without reaching into Pipeline's
// unexported fields.
func (p *Pipeline) Store() *artifact.Store { return p.store }

// Router exposes the Router for diagnostics (the CLI's list command
// reporting model availability).
func (p *Pipeline) Router() *router.Router { return p.router }

// Sandbox exposes the Sandbox for the CLI's run command.
func (p *Pipeline) Sandbox() *sandbox.Sandbox { return p.sandbox }

// TestOrch exposes the TestOrchestrator for the CLI's evaluate command.
func (p *Pipeline) TestOrch() *testorch.Orchestrator { return p.testOrch }

// Evolve exposes the EvolutionController for CLI diagnostics and any
// future evaluate/sweep surface.
func (p *Pipeline) Evolve() *evolve.Controller { return p.evolve }

const defaultMaxLatencyMs = int64(60_000)

// Result is what Handle returns: the classification and cache decision that
// were made, the artifact that was produced or reused, its validation/test
// reports when it went through generation, and whatever the sandbox printed
// for this specific request's input.
type Result struct {
	RequestID      string
	Classification types.ClassificationResult
	Decision       types.CacheDecision
	Artifact       *types.Artifact
	ValidateReport *validate.Report
	TestReport     *testorch.Report
	RunOutput      string
	Ready          bool
	Unstable       bool
}

// Handle drives one request through the full pipeline (spec §2's happy
// path): admit under pressure, classify, decide REUSE/MUTATE/NEW, dispatch
// to the matching branch, and return the resulting artifact plus whatever
// this request's own execution produced.
func (p *Pipeline) Handle(ctx context.Context, req types.Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	p.pressure.Detect(req.PressureHint)
	release, err := p.pressure.Admit(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	defer release()

	maxLatencyMs := defaultMaxLatencyMs
	if ml := p.pressure.MaxLatency(); ml > 0 {
		maxLatencyMs = ml.Milliseconds()
	}

	classification, err := p.classifier.Classify(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("engine: classify: %w", err)
	}
	logging.Engine("request %s classified: task_type=%s complexity=%s role=%s tier=%s", req.RequestID, classification.TaskType, classification.Complexity, classification.RecommendedRole, classification.RecommendedTier)

	decision, err := p.cache.Decide(ctx, req, classification.TaskType)
	if err != nil && !errors.Is(err, errs.ErrSemanticJudgeFailed) {
		return nil, fmt.Errorf("engine: cache decide: %w", err)
	}
	if err != nil {
		logging.EngineWarn("request %s: semantic judge failed, proceeding with verdict=%s: %v", req.RequestID, decision.Verdict, err)
	}
	logging.Engine("request %s cache decision: verdict=%s matched=%s stage1=%.3f stage2=%d", req.RequestID, decision.Verdict, decision.MatchedArtifactID, decision.Stage1Score, decision.Stage2Score)

	result := &Result{RequestID: req.RequestID, Classification: classification, Decision: decision}

	switch decision.Verdict {
	case types.VerdictReuse:
		return p.handleReuse(ctx, req, classification, decision, maxLatencyMs, result)
	case types.VerdictMutate:
		return p.handleMutate(ctx, req, classification, decision, maxLatencyMs, result)
	default:
		return p.handleNew(ctx, req, classification, maxLatencyMs, result)
	}
}

// requestInput extracts the JSON input payload for this request's own
// execution (as opposed to the test cases the pipeline derived for
// validation), defaulting to an empty object.
func requestInput(req types.Request) string {
	if v, ok := req.UserContext["input"]; ok && v != "" {
		return v
	}
	return "{}"
}

// kindFor maps a classification to the artifact kind Planner/Generator
// should target: WORKFLOW when the request explicitly asks for one or the
// task requires composing tools, FUNCTION otherwise (spec §4.6/§4.9).
func kindFor(req types.Request, classification types.ClassificationResult) types.Kind {
	if req.RequestedKind == types.KindWorkflow || req.RequestedKind == types.KindFunction {
		return req.RequestedKind
	}
	if classification.RequiresTools {
		return types.KindWorkflow
	}
	return types.KindFunction
}

// contextArtifactsFor fetches a small set of related FUNCTION/WORKFLOW
// artifacts to hand Planner as style/interface context for a fresh plan
// (spec §4.6: "optionally conditioned on similar prior artifacts").
func (p *Pipeline) contextArtifactsFor(ctx context.Context, req types.Request, excludeID string) []*types.Artifact {
	matches, err := p.store.FindSimilar(ctx, req.Description, []types.Kind{types.KindFunction, types.KindWorkflow}, nil, 0, 3)
	if err != nil {
		return nil
	}
	out := make([]*types.Artifact, 0, len(matches))
	for _, m := range matches {
		if m.Artifact.ID == excludeID {
			continue
		}
		out = append(out, m.Artifact)
	}
	return out
}

// handleNew runs the escalation controller from scratch and persists the
// accepted (or best-effort unstable) artifact plus its PLAN and EVALUATION
// lineage (spec §4.2 IA1: every non-PLAN artifact's parent_id traces to a
// PLAN; §4.3's empirical metadata is recorded via RecordExecution).
func (p *Pipeline) handleNew(ctx context.Context, req types.Request, classification types.ClassificationResult, maxLatencyMs int64, result *Result) (*Result, error) {
	contextArtifacts := p.contextArtifactsFor(ctx, req, "")
	kind := kindFor(req, classification)

	attempt, runErr := p.escalate.Run(ctx, req, classification, contextArtifacts, nil, kind, p.generatorContextWindow(classification), maxLatencyMs, p.pressure.AllowsCost)
	unstable := errors.Is(runErr, errs.ErrEscalationExhausted)
	if runErr != nil && !unstable {
		return nil, fmt.Errorf("engine: escalate: %w", runErr)
	}

	return p.persistAttempt(ctx, req, classification, attempt, unstable, result)
}

// handleMutate runs the escalation controller's modification path against
// the matched artifact as a template.
func (p *Pipeline) handleMutate(ctx context.Context, req types.Request, classification types.ClassificationResult, decision types.CacheDecision, maxLatencyMs int64, result *Result) (*Result, error) {
	template, err := p.store.Get(ctx, decision.MatchedArtifactID)
	if err != nil {
		return nil, fmt.Errorf("engine: load mutate template %s: %w", decision.MatchedArtifactID, err)
	}

	attempt, runErr := p.escalate.RunModification(ctx, req, template, classification, nil, p.generatorContextWindow(classification), maxLatencyMs, p.pressure.AllowsCost)
	unstable := errors.Is(runErr, errs.ErrEscalationExhausted)
	if runErr != nil && !unstable {
		return nil, fmt.Errorf("engine: escalate modification: %w", runErr)
	}

	attempt.CodeArtifact.Metadata.ParentID = template.ID
	attempt.CodeArtifact.Metadata.VariantID = uuid.New().String()
	return p.persistAttempt(ctx, req, classification, attempt, unstable, result)
}

// persistAttempt stores the attempt's PLAN, code, and EVALUATION artifacts
// in that order (so the code artifact's parent_id can point at the PLAN's
// real, assigned id) and records the execution against both the artifact
// store's rolling averages and the evolution controller's drift window.
func (p *Pipeline) persistAttempt(ctx context.Context, req types.Request, classification types.ClassificationResult, attempt *escalate.Attempt, unstable bool, result *Result) (*Result, error) {
	planArtifact := attempt.PlanArtifact
	if planArtifact.Name == "" {
		planArtifact.Name = "plan-" + req.RequestID
	}
	planArtifact.Description = req.Description
	if err := p.store.Store(ctx, planArtifact, true, false); err != nil {
		if qerr := p.enqueuePendingWrite(planArtifact, true, false, err); qerr != nil {
			return nil, fmt.Errorf("engine: store plan artifact: %w", err)
		}
	}

	codeArtifact := attempt.CodeArtifact
	codeArtifact.Description = req.Description
	codeArtifact.Metadata.ParentID = planArtifact.ID
	codeArtifact.Metadata.QualityScore = attempt.Quality()
	codeArtifact.Metadata.SpeedTier = speedTierFor(attempt.Tier)
	codeArtifact.Metadata.SourceModel = string(attempt.Tier)
	codeArtifact.Metadata.Ready = !unstable
	codeArtifact.Metadata.Unstable = unstable
	if unstable {
		codeArtifact.Tags = appendUnique(codeArtifact.Tags, "unstable")
	}
	if err := p.store.Store(ctx, codeArtifact, true, false); err != nil {
		if qerr := p.enqueuePendingWrite(codeArtifact, true, false, err); qerr != nil {
			return nil, fmt.Errorf("engine: store code artifact: %w", err)
		}
	}

	evalArtifact := testorch.ToEvaluationArtifact(attempt.TestReport)
	evalArtifact.Metadata.ParentID = codeArtifact.ID
	evalArtifact.Description = "evaluation for " + codeArtifact.ID
	if err := p.store.Store(ctx, evalArtifact, true, false); err != nil {
		logging.EngineWarn("engine: store evaluation artifact: %v", err)
	}

	var totalTestTime time.Duration
	for _, r := range attempt.TestReport.Results {
		totalTestTime += r.WallTime
	}
	latencyMs := float64(totalTestTime.Milliseconds())
	success := !unstable
	quality := codeArtifact.Metadata.QualityScore
	if err := p.store.RecordExecution(ctx, codeArtifact.ID, latencyMs, 0, success, &quality); err != nil {
		logging.EngineWarn("engine: record execution for %s: %v", codeArtifact.ID, err)
	}
	p.evolve.RecordExecution(codeArtifact.ID, latencyMs, quality, !success)

	validateReport := attempt.ValidateReport
	testReport := attempt.TestReport
	result.Artifact = codeArtifact
	result.ValidateReport = &validateReport
	result.TestReport = &testReport
	result.Ready = !unstable
	result.Unstable = unstable
	logging.Engine("request %s: stored artifact %s (kind=%s ready=%t unstable=%t quality=%.3f)", req.RequestID, codeArtifact.ID, codeArtifact.Kind, result.Ready, result.Unstable, quality)
	return result, nil
}

// enqueuePendingWrite is persistAttempt's non-fatal fallback when the
// artifact store itself rejects a write: rather than failing the request
// over a transient store outage, the artifact is queued to pendingWrites and
// replayed at the next startup's Drain. Returns a non-nil error only when
// there is no queue to fall back to (e.g. in tests that build a Pipeline
// directly) or the queue write itself fails, in which case the caller should
// still treat the original store error as fatal.
func (p *Pipeline) enqueuePendingWrite(a *types.Artifact, autoEmbed, replace bool, storeErr error) error {
	if p.pendingWrites == nil {
		return storeErr
	}
	if err := p.pendingWrites.Enqueue(a, autoEmbed, replace); err != nil {
		logging.EngineWarn("engine: enqueue pending write for %s: %v", a.ID, err)
		return err
	}
	logging.EngineWarn("engine: store failed for %s, queued as pending_write: %v", a.ID, storeErr)
	return nil
}

// handleReuse serves a REUSE-verdict request against the matched artifact:
// deterministic task types may be served from a pinned output for this
// exact input without re-executing (spec §4.7's "reuse the artifact's
// output too" optimization); everything else re-executes the stored
// artifact directly, bypassing Planner/Generator/TestOrchestrator entirely
// (spec §4.13's escalation controller is likewise never invoked here — a
// REUSE verdict excludes Planner by construction, matching IA2).
func (p *Pipeline) handleReuse(ctx context.Context, req types.Request, classification types.ClassificationResult, decision types.CacheDecision, maxLatencyMs int64, result *Result) (*Result, error) {
	a, err := p.store.Get(ctx, decision.MatchedArtifactID)
	if err != nil {
		return nil, fmt.Errorf("engine: load reuse target %s: %w", decision.MatchedArtifactID, err)
	}

	inputJSON := requestInput(req)
	deterministic := IsDeterministicTask(classification.TaskType)

	if deterministic {
		if out, ok := pinnedOutput(a, inputJSON); ok {
			logging.EngineDebug("request %s: served from pinned output on %s", req.RequestID, a.ID)
			result.Artifact = a
			result.RunOutput = out
			result.Ready = a.Ready()
			return result, nil
		}
	}

	sbResult, runErr := p.sandbox.RunYaegi(ctx, string(a.Content), inputJSON, maxLatencyMs)
	success := runErr == nil && sbResult.Success

	if deterministic && success {
		pinOutput(a, inputJSON, sbResult.Stdout)
		if err := p.store.Store(ctx, a, false, true); err != nil {
			logging.EngineWarn("engine: persist pinned output for %s: %v", a.ID, err)
		}
	}

	if err := p.store.RecordExecution(ctx, a.ID, float64(sbResult.Duration.Milliseconds()), 0, success, nil); err != nil {
		logging.EngineWarn("engine: record reuse execution for %s: %v", a.ID, err)
	}
	p.evolve.RecordExecution(a.ID, float64(sbResult.Duration.Milliseconds()), a.Metadata.QualityScore, !success)

	result.Artifact = a
	result.RunOutput = sbResult.Stdout
	result.Ready = a.Ready()
	if runErr != nil && !success {
		return result, fmt.Errorf("engine: reuse execution of %s: %w", a.ID, runErr)
	}
	return result, nil
}

// Evaluate re-runs TestOrchestrator against a previously stored artifact,
// re-deriving cases from its PLAN parent when one is recorded, storing a
// fresh EVALUATION artifact and recording the execution (spec §6.4's
// `evaluate` command; §4.10's re-evaluation path).
func (p *Pipeline) Evaluate(ctx context.Context, artifactID string, maxLatencyMs int64) (testorch.Report, error) {
	a, err := p.store.Get(ctx, artifactID)
	if err != nil {
		return testorch.Report{}, fmt.Errorf("engine: load artifact %s: %w", artifactID, err)
	}

	var cases []testorch.Case
	if a.Metadata.ParentID != "" {
		if planArtifact, perr := p.store.Get(ctx, a.Metadata.ParentID); perr == nil && planArtifact.Kind == types.KindPlan {
			cases = DeriveCases(string(planArtifact.Content), types.TaskUnknown)
		}
	}

	if maxLatencyMs <= 0 {
		maxLatencyMs = defaultMaxLatencyMs
	}

	report := p.testOrch.Run(ctx, a.ID, string(a.Content), cases, maxLatencyMs, nil)

	evalArtifact := testorch.ToEvaluationArtifact(report)
	evalArtifact.Metadata.ParentID = a.ID
	evalArtifact.Description = "re-evaluation for " + a.ID
	if err := p.store.Store(ctx, evalArtifact, true, false); err != nil {
		logging.EngineWarn("engine: store re-evaluation artifact: %v", err)
	}

	quality := report.QualityScore
	if err := p.store.RecordExecution(ctx, a.ID, 0, 0, report.PassRate == 1, &quality); err != nil {
		logging.EngineWarn("engine: record re-evaluation execution for %s: %v", a.ID, err)
	}

	return report, nil
}

// generatorContextWindow looks up the backend context window for the
// classification's recommended (role, tier) slot, falling back to a
// conservative default when the router can't resolve one (e.g. in tests
// with a minimal backend table).
func (p *Pipeline) generatorContextWindow(classification types.ClassificationResult) int {
	d, err := p.router.Pick(classification.RecommendedRole, classification.RecommendedTier)
	if err != nil || d.ContextWindow <= 0 {
		return 8192
	}
	return d.ContextWindow
}

func speedTierFor(tier types.Tier) types.SpeedTier {
	switch tier {
	case types.TierVeryFast:
		return types.SpeedVeryFast
	case types.TierFast:
		return types.SpeedFast
	case types.TierGeneral:
		return types.SpeedMedium
	default:
		return types.SpeedSlow
	}
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

// pinKey hashes the request input into a short metadata.extra key so a
// deterministic artifact can carry one pinned output per distinct input
// without the key space growing unboundedly with the content itself.
func pinKey(inputJSON string) string {
	h := fnv.New64a()
	h.Write([]byte(inputJSON))
	return fmt.Sprintf("pin:%x", h.Sum64())
}

func pinnedOutput(a *types.Artifact, inputJSON string) (string, bool) {
	if a.Metadata.Extra == nil {
		return "", false
	}
	out, ok := a.Metadata.Extra[pinKey(inputJSON)]
	return out, ok
}

func pinOutput(a *types.Artifact, inputJSON, output string) {
	if a.Metadata.Extra == nil {
		a.Metadata.Extra = make(map[string]string, 1)
	}
	a.Metadata.Extra[pinKey(inputJSON)] = output
}

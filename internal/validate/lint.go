package validate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"forgecore/internal/artifact"
	"forgecore/internal/logging"
	"forgecore/internal/types"
)

// staticToolFixTag is the FAILURE/PATTERN artifact tag a learned install
// recipe is stored under, matching spec.md's "missing tool auto-install"
// recipe lookup.
const staticToolFixTag = "static_tool_fix"

// installMu globally serializes every tool auto-install subprocess across
// the pipeline (spec.md: "globally serialized, one install at a time, to
// avoid concurrent pip-style races"). golangci-lint's own install is a `go
// install`, which shares the module cache the same way pip shares site-
// packages, so the same race applies.
var installMu sync.Mutex

// WithStore attaches the artifact store the lint validator's missing-tool
// auto-install flow uses to look up and update a static_tool_fix recipe.
// Validation can run without one (a nil store just skips recipe lookup and
// always falls back to cfg.LintInstallCmd), so this is optional, mirroring
// sandbox.Sandbox.WithToolkit's builder shape.
func (p *Pipeline) WithStore(store *artifact.Store) *Pipeline {
	p.store = store
	return p
}

// lintValidator shells out to cfg.LintTool (golangci-lint by default)
// against source, grounded on the teacher's internal/init/tools.go
// ToolDefinition entry for Go ("golangci-lint run", Conditions: ["go.mod
// exists", "golangci-lint installed"]) and internal/shards/nemesis/
// attack_runner.go's write-source-plus-go.mod-into-a-temp-dir-and-exec
// pattern. Unlike the other validators this one depends on an external
// binary actually being present, so it is the one static-tool-fix path
// spec.md's missing-tool auto-install flow exists for.
func (p *Pipeline) lintValidator(source string) (Verdict, string, string) {
	if p.cfg.LintTool == "" {
		return VerdictPass, "lint validator disabled (no lint_tool configured)", ""
	}

	ctx := context.Background()
	if _, err := exec.LookPath(p.cfg.LintTool); err != nil {
		if !p.autoInstallLintTool(ctx) {
			return VerdictSkippedMissing, fmt.Sprintf("%s not found on PATH and auto-install did not succeed", p.cfg.LintTool), ""
		}
	}

	out, err := runLint(ctx, p.cfg.LintTool, source)
	if err != nil {
		return VerdictFail, fmt.Sprintf("%s: %s", p.cfg.LintTool, strings.TrimSpace(out)), ""
	}
	return VerdictPass, "", ""
}

// runLint writes source into a throwaway module and runs cfg.LintTool
// against it, the same single-file-plus-go.mod shape RunYaegi's process
// sibling expects its compiled binaries to come from.
func runLint(ctx context.Context, tool, source string) (string, error) {
	dir, err := os.MkdirTemp("", "forgecore-lint-")
	if err != nil {
		return "", fmt.Errorf("lint: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("lint: write source: %w", err)
	}
	goMod := "module forgecore_lint_target\n\ngo 1.21\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0o644); err != nil {
		return "", fmt.Errorf("lint: write go.mod: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, tool, "run", "./...")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), err
	}
	return string(out), nil
}

// autoInstallLintTool implements spec.md's missing-tool flow: look up a
// learned static_tool_fix recipe, run one bounded install subprocess, and
// record the outcome plus a running success rate on the recipe artifact.
// Returns whether the tool is now runnable.
func (p *Pipeline) autoInstallLintTool(ctx context.Context) bool {
	installMu.Lock()
	defer installMu.Unlock()

	// Another goroutine may have installed it while this one waited on the
	// lock; re-check before spending an install attempt.
	if _, err := exec.LookPath(p.cfg.LintTool); err == nil {
		return true
	}

	recipe := p.lookupRecipe(ctx)
	installCmd := p.cfg.LintInstallCmd
	if recipe != nil && len(recipe.Content) > 0 {
		installCmd = string(recipe.Content)
	}
	if installCmd == "" {
		logging.ValidateWarn("lint auto-install: no install command configured for %s", p.cfg.LintTool)
		return false
	}

	timeout := time.Duration(p.cfg.LintInstallTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	installCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.Validate("lint auto-install: running %q (timeout=%s)", installCmd, timeout)
	cmd := exec.CommandContext(installCtx, "sh", "-c", installCmd)
	out, runErr := cmd.CombinedOutput()

	_, lookErr := exec.LookPath(p.cfg.LintTool)
	success := runErr == nil && lookErr == nil
	if !success {
		logging.ValidateWarn("lint auto-install failed: %v (output: %s)", runErr, strings.TrimSpace(string(out)))
	}

	p.recordRecipeOutcome(ctx, recipe, installCmd, success)
	return success
}

// lookupRecipe finds the most relevant static_tool_fix recipe for this tool,
// tagged by both the generic marker and the tool's own name so multiple
// tools' recipes don't collide.
func (p *Pipeline) lookupRecipe(ctx context.Context) *types.Artifact {
	if p.store == nil {
		return nil
	}
	matches, err := p.store.FindByTags(ctx, []string{staticToolFixTag, p.cfg.LintTool}, true)
	if err != nil || len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// recordRecipeOutcome persists or updates the static_tool_fix recipe
// artifact with the install command that was tried and a running success
// rate, mirroring escalate.Controller.recordSuccess's store-and-log shape.
func (p *Pipeline) recordRecipeOutcome(ctx context.Context, recipe *types.Artifact, installCmd string, success bool) {
	if p.store == nil {
		return
	}

	a := recipe
	if a == nil {
		a = &types.Artifact{
			Kind:        types.KindFailure,
			Name:        "static-tool-fix-" + p.cfg.LintTool,
			Description: "install recipe for " + p.cfg.LintTool,
			Tags:        []string{staticToolFixTag, p.cfg.LintTool},
			Metadata:    types.Metadata{Tool: p.cfg.LintTool},
		}
	}
	a.Content = []byte(installCmd)
	a.Metadata.Tool = p.cfg.LintTool
	a.Metadata.SuccessRate = nextSuccessRate(a.Metadata.SuccessRate, a.UsageCount, success)
	a.UsageCount++
	if success {
		a.SuccessCount++
	} else {
		a.FailureCount++
	}

	if err := p.store.Store(ctx, a, false, true); err != nil {
		logging.ValidateWarn("failed to record static_tool_fix outcome for %s: %v", p.cfg.LintTool, err)
	}
}

// nextSuccessRate folds one more boolean outcome into a running mean over n
// prior observations.
func nextSuccessRate(prior float64, n int64, success bool) float64 {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if n <= 0 {
		return outcome
	}
	return (prior*float64(n) + outcome) / float64(n+1)
}

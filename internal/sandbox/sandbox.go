// Package sandbox implements the Runner/Sandbox collaborator (C11): running
// a generated artifact's RunTool(inputJSON string) (string, error) entry
// point either interpreted in-process via yaegi (the default, fast path)
// or as a standalone compiled process via os/exec (grounded on the
// teacher's internal/tactile/direct.go DirectExecutor timeout/kill/output
// capture pattern). The yaegi path mirrors
// internal/autopoiesis/yaegi_executor.go's YaegiExecutor.ExecuteToolCode
// exactly: stdlib-only import whitelist, goroutine + channel timeout race,
// wrap-if-needed source handling.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"forgecore/internal/config"
	"forgecore/internal/errs"
	"forgecore/internal/logging"
	"forgecore/internal/toolkit"
)

// Result is one sandboxed run's outcome.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	Killed     bool
	KillReason string
	Duration   time.Duration
	Success    bool
}

// Sandbox runs generated artifacts under the yaegi interpreter or as a
// standalone process, enforcing a stdlib-only import whitelist and a
// max_latency_ms + grace_ms kill deadline (spec B4).
type Sandbox struct {
	cfg             config.SandboxConfig
	allowedPackages map[string]bool
	toolkit         *toolkit.Registry // nil means no call_tool callback is exposed
}

// New builds a Sandbox from SandboxConfig, with the same restricted stdlib
// package whitelist the teacher's YaegiExecutor enforces (no os, os/exec,
// net, net/http, syscall, unsafe).
func New(cfg config.SandboxConfig) *Sandbox {
	return &Sandbox{
		cfg: cfg,
		allowedPackages: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"errors":          true,
			"unicode":         true,
			"unicode/utf8":    true,
		},
	}
}

// WithToolkit attaches a call_tool registry so interpreted artifacts can
// reach a whitelisted set of host capabilities (spec §6.3) via
// toolkit.CallTool(name, argsJSON). Returns the same *Sandbox for chaining.
func (s *Sandbox) WithToolkit(r *toolkit.Registry) *Sandbox {
	s.toolkit = r
	return s
}

// RunYaegi interprets source in-process and calls its RunTool(inputJSON
// string) (string, error) entry point, racing it against ctx and a
// max_latency_ms + grace_ms deadline (spec B4: whichever of the two
// deadlines comes first ends the run as a timeout, never a silent hang).
func (s *Sandbox) RunYaegi(ctx context.Context, source, inputJSON string, maxLatencyMs int64) (Result, error) {
	start := time.Now()
	if err := s.validateImports(source); err != nil {
		return Result{Success: false}, fmt.Errorf("%w: %v", errs.ErrValidationFailed, err)
	}

	deadline := time.Duration(maxLatencyMs)*time.Millisecond + time.Duration(s.cfg.GraceMs)*time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Result{Success: false}, fmt.Errorf("%w: failed to load stdlib: %v", errs.ErrSandboxNonZeroExit, err)
	}
	if s.toolkit != nil {
		if err := i.Use(s.toolkit.Exports(ctx)); err != nil {
			return Result{Success: false}, fmt.Errorf("%w: failed to load toolkit: %v", errs.ErrSandboxNonZeroExit, err)
		}
	}

	if _, err := i.Eval(wrapCode(source)); err != nil {
		return Result{Success: false, Duration: time.Since(start)}, fmt.Errorf("%w: code evaluation failed: %v", errs.ErrSandboxNonZeroExit, err)
	}

	runToolVal, err := i.Eval("main.RunTool")
	if err != nil {
		return Result{Success: false, Duration: time.Since(start)}, fmt.Errorf("%w: RunTool not found: %v", errs.ErrSandboxNonZeroExit, err)
	}
	runTool, ok := runToolVal.Interface().(func(string) (string, error))
	if !ok {
		return Result{Success: false, Duration: time.Since(start)}, fmt.Errorf("%w: RunTool has incorrect signature", errs.ErrSandboxNonZeroExit)
	}

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := runTool(inputJSON)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		elapsed := time.Since(start)
		if o.err != nil {
			return Result{Stderr: o.err.Error(), Success: false, Duration: elapsed, ExitCode: 1}, nil
		}
		return Result{Stdout: o.out, Success: true, Duration: elapsed, ExitCode: 0}, nil
	case <-runCtx.Done():
		logging.SandboxWarn("yaegi run killed at max_latency_ms+grace_ms=%dms", deadline.Milliseconds())
		return Result{
			Success:    false,
			Killed:     true,
			KillReason: fmt.Sprintf("exceeded max_latency_ms+grace_ms (%dms)", deadline.Milliseconds()),
			Duration:   time.Since(start),
		}, errs.ErrSandboxTimeout
	}
}

func (s *Sandbox) validateImports(source string) error {
	var forbidden []string
	for _, imp := range extractImports(source) {
		if s.allowedPackages[imp] || (imp == "toolkit" && s.toolkit != nil) {
			continue
		}
		forbidden = append(forbidden, imp)
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports for yaegi sandbox: %v", forbidden)
	}
	return nil
}

func extractImports(code string) []string {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.TrimPrefix(trimmed, "import ")
			imports = append(imports, strings.Trim(pkg, `"`))
		}
	}
	return imports
}

func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

// RunProcess executes a compiled binary with inputJSON on stdin, killing it
// at max_latency_ms+grace_ms, grounded on the teacher's DirectExecutor
// timeout/kill/output-capture sequence (used for artifacts whose generated
// source needs a package the yaegi whitelist excludes, e.g. os.Exit-based
// CLI tools compiled ahead of time).
func (s *Sandbox) RunProcess(ctx context.Context, binaryPath, inputJSON string, maxLatencyMs int64) (Result, error) {
	deadline := time.Duration(maxLatencyMs)*time.Millisecond + time.Duration(s.cfg.GraceMs)*time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binaryPath)
	cmd.Stdin = strings.NewReader(inputJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: elapsed}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.KillReason = fmt.Sprintf("exceeded max_latency_ms+grace_ms (%dms)", deadline.Milliseconds())
		logging.SandboxWarn("process run killed: %s", result.KillReason)
		return result, errs.ErrSandboxTimeout
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		result.Success = false
		return result, fmt.Errorf("%w: exit code %d", errs.ErrSandboxNonZeroExit, result.ExitCode)
	}
	if err != nil {
		return result, fmt.Errorf("%w: %v", errs.ErrSandboxNonZeroExit, err)
	}
	result.Success = true
	result.ExitCode = 0
	return result, nil
}

package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"forgecore/internal/config"
	"forgecore/internal/errs"
)

const sumToolSource = `package main

import "encoding/json"

type input struct {
	Xs []int
}

func RunTool(inputJSON string) (string, error) {
	var in input
	if err := json.Unmarshal([]byte(inputJSON), &in); err != nil {
		return "", err
	}
	sum := 0
	for _, x := range in.Xs {
		sum += x
	}
	data, err := json.Marshal(map[string]int{"sum": sum})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func main() {}
`

const slowToolSource = `package main

import "time"

func RunTool(inputJSON string) (string, error) {
	time.Sleep(5 * time.Second)
	return inputJSON, nil
}

func main() {}
`

const forbiddenImportSource = `package main

import "os"

func RunTool(inputJSON string) (string, error) {
	os.Exit(1)
	return inputJSON, nil
}

func main() {}
`

func testCfg() config.SandboxConfig {
	return config.SandboxConfig{
		GraceMs:        200,
		MaxOutputBytes: 1 << 20,
		MaxMemoryMB:    512,
	}
}

func TestRunYaegiExecutesRunTool(t *testing.T) {
	sb := New(testCfg())
	result, err := sb.RunYaegi(context.Background(), sumToolSource, `{"Xs":[1,2,3]}`, 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v (stderr=%s)", err, result.Stderr)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Stdout, `"sum":6`) {
		t.Fatalf("expected sum=6 in output, got %s", result.Stdout)
	}
}

func TestRunYaegiRejectsForbiddenImport(t *testing.T) {
	sb := New(testCfg())
	_, err := sb.RunYaegi(context.Background(), forbiddenImportSource, "{}", 2000)
	if err == nil {
		t.Fatal("expected a forbidden-import error for os import")
	}
	if !errors.Is(err, errs.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestRunYaegiKillsAtMaxLatencyPlusGrace(t *testing.T) {
	sb := New(config.SandboxConfig{GraceMs: 50, MaxOutputBytes: 1 << 20})
	start := time.Now()
	result, err := sb.RunYaegi(context.Background(), slowToolSource, "{}", 100)
	elapsed := time.Since(start)

	if !errors.Is(err, errs.ErrSandboxTimeout) {
		t.Fatalf("expected ErrSandboxTimeout, got %v", err)
	}
	if !result.Killed {
		t.Fatal("expected result.Killed to be true")
	}
	if elapsed > 1*time.Second {
		t.Fatalf("expected kill well before the tool's 5s sleep completes, took %s", elapsed)
	}
}

func TestValidateImportsAllowsWhitelistedPackages(t *testing.T) {
	sb := New(testCfg())
	if err := sb.validateImports(sumToolSource); err != nil {
		t.Fatalf("expected encoding/json to be allowed, got %v", err)
	}
}

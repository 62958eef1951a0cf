package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forgecore/internal/engine"
	"forgecore/internal/errs"
)

var runInputPath string

var runCmd = &cobra.Command{
	Use:   "run <artifact-id>",
	Short: "Execute a stored artifact against a JSON input",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runInputPath, "input", "", "path to a JSON input file (default: {} on stdin)")
}

// resolveInput reads --input's file when given, otherwise defaults to an
// empty JSON object (spec §6.4: "forge run <artifact-id> [--input=file]").
func resolveInput(path string) (string, error) {
	if path == "" {
		return "{}", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input file %s: %w", path, err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	p, err := engine.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	defer p.Close()

	a, err := p.Store().Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, errs.ErrArtifactNotFound) {
			fmt.Fprintf(os.Stderr, "artifact not found: %s\n", args[0])
			os.Exit(1)
		}
		return fmt.Errorf("load artifact: %w", err)
	}

	inputJSON, err := resolveInput(runInputPath)
	if err != nil {
		return err
	}

	maxLatencyMs := int64(30_000)
	result, runErr := p.Sandbox().RunYaegi(ctx, string(a.Content), inputJSON, maxLatencyMs)

	if result.Stdout != "" {
		fmt.Println(result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintln(os.Stderr, result.Stderr)
	}

	_ = p.Store().RecordExecution(ctx, a.ID, float64(result.Duration.Milliseconds()), 0, result.Success, nil)

	if runErr != nil || !result.Success {
		os.Exit(exitCodeForSandbox(result.ExitCode))
	}
	return nil
}

func exitCodeForSandbox(code int) int {
	if code == 0 {
		return 1
	}
	return code
}

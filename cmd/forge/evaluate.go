package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forgecore/internal/engine"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <artifact-id>",
	Short: "Re-run a stored artifact's tests",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
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

	report, err := p.Evaluate(ctx, args[0], 30_000)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	switch report.PassRate {
	case 1:
		return nil
	default:
		os.Exit(2)
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forgecore/internal/engine"
	"forgecore/internal/types"
)

var (
	generateKind      string
	generateInputJSON string
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Run a request through the full pipeline: classify, decide, plan/generate/validate/run/test, store",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateKind, "kind", "", "force the artifact kind (FUNCTION or WORKFLOW); default lets classification decide")
	generateCmd.Flags().StringVar(&generateInputJSON, "input", "{}", "JSON input to execute the resulting artifact against")
}

func runGenerate(cmd *cobra.Command, args []string) error {
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

	req := types.Request{
		Description:   args[0],
		UserContext:   map[string]string{"input": generateInputJSON},
		RequestedKind: types.Kind(generateKind),
	}

	result, err := p.Handle(ctx, req)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	switch {
	case result.Ready:
		return nil
	case result.Unstable:
		os.Exit(2)
	default:
		os.Exit(1)
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"forgecore/internal/classify"
	"forgecore/internal/llm"
	"forgecore/internal/router"
	"forgecore/internal/types"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <prompt>",
	Short: "Classify a task description without generating anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	backend := llm.NewRegistry(cfg.Router, cfg.LLM)
	r := router.New(cfg.Router)
	classifier := classify.New(backend, r)

	result, err := classifier.Classify(ctx, types.Request{Description: args[0]})
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

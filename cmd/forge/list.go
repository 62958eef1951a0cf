package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"forgecore/internal/engine"
	"forgecore/internal/types"
)

var (
	listKind string
	listTags []string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts, optionally filtered by kind or tags",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listKind, "kind", "", "filter by artifact kind (FUNCTION, WORKFLOW, PLAN, ...)")
	listCmd.Flags().StringArrayVar(&listTags, "tag", nil, "filter by tag (repeatable, AND semantics)")
}

func runList(cmd *cobra.Command, args []string) error {
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

	var artifacts []*types.Artifact
	switch {
	case len(listTags) > 0:
		artifacts, err = p.Store().FindByTags(ctx, listTags, true)
	case listKind != "":
		artifacts, err = p.Store().ListByKind(ctx, []types.Kind{types.Kind(listKind)})
	default:
		artifacts, err = p.Store().ListByKind(ctx, []types.Kind{
			types.KindPlan, types.KindFunction, types.KindWorkflow, types.KindPattern,
			types.KindFailure, types.KindConversation, types.KindPerformance,
			types.KindEvaluation, types.KindBugReport,
		})
	}
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	type row struct {
		ID         string         `json:"id"`
		Kind       types.Kind     `json:"kind"`
		Name       string         `json:"name"`
		Tags       []string       `json:"tags"`
		Metadata   types.Metadata `json:"metadata"`
		UsageCount int64          `json:"usage_count"`
	}
	rows := make([]row, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, row{ID: a.ID, Kind: a.Kind, Name: a.Name, Tags: a.Tags, Metadata: a.Metadata, UsageCount: a.UsageCount})
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

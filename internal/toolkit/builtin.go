package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forgecore/internal/types"
)

// ArtifactLookup is the minimal slice of artifact.Store that LookupArtifactTool
// needs — just types.Artifact's shape, not the sqlite/vectorstore-backed
// Store type itself, so toolkit doesn't have to import internal/artifact.
type ArtifactLookup interface {
	Get(ctx context.Context, id string) (*types.Artifact, error)
}

// CurrentTimeTool returns the wall-clock time in RFC3339, the one piece of
// ambient state the sandbox's stdlib whitelist (no access to a real clock
// beyond time.Now, which yaegi's restricted "time" package does expose, but
// generated code has no way to format consistently without being told the
// convention) standardizes for every generated artifact.
func CurrentTimeTool() *Tool {
	return &Tool{
		Name:        "current_time",
		Description: "Returns the current time in RFC3339 format.",
		Category:    CategorySystem,
		Schema:      ToolSchema{},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	}
}

// NewIDTool hands out a fresh UUID, for generated code that needs a stable
// identifier without importing a package outside the sandbox's whitelist.
func NewIDTool() *Tool {
	return &Tool{
		Name:        "new_id",
		Description: "Returns a fresh UUIDv4 string.",
		Category:    CategorySystem,
		Schema:      ToolSchema{},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return uuid.New().String(), nil
		},
	}
}

// LookupArtifactTool lets a WORKFLOW artifact call back into the
// ArtifactStore to fetch a FUNCTION artifact it composes, by id, returning
// its source so the workflow can interpret it in turn via the sandbox's own
// yaegi path. This is what spec §6.3's "call_tool" is for: composing
// generated artifacts out of other generated artifacts.
func LookupArtifactTool(store ArtifactLookup) *Tool {
	return &Tool{
		Name:        "lookup_artifact",
		Description: "Fetches a stored artifact's source by id.",
		Category:    CategoryArtifact,
		Schema: ToolSchema{
			Required: []string{"id"},
			Properties: map[string]Property{
				"id": {Type: "string", Description: "artifact id to fetch"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			id, _ := args["id"].(string)
			if id == "" {
				return "", fmt.Errorf("lookup_artifact: missing id argument")
			}
			a, err := store.Get(ctx, id)
			if err != nil {
				return "", fmt.Errorf("lookup_artifact: %w", err)
			}
			out, err := json.Marshal(map[string]string{
				"id":     a.ID,
				"name":   a.Name,
				"source": string(a.Content),
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

// RegisterDefaults registers the always-available system tools. Callers
// that also want artifact lookups register LookupArtifactTool separately,
// since it needs a live store.
func RegisterDefaults(r *Registry) error {
	for _, t := range []*Tool{CurrentTimeTool(), NewIDTool()} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

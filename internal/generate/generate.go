// Package generate implements the Generator collaborator (C9): turning a
// PLAN artifact (fresh or modification-mode) into an executable FUNCTION or
// WORKFLOW artifact. Grounded on the teacher's
// internal/autopoiesis/toolgen.go generateToolCode/generateToolCodeWithJIT
// prompt-and-extract pattern and its extractCodeBlock helper, reworked so
// every generated artifact also exposes the func RunTool(string) (string,
// error) entry point internal/sandbox's yaegi executor requires (mirroring
// yaegi_executor.go's ExecuteToolCode contract) alongside a func main()
// guard for standalone process execution (internal/sandbox's RunProcess).
package generate

import (
	"context"
	"fmt"
	"strings"

	"forgecore/internal/errs"
	"forgecore/internal/llm"
	"forgecore/internal/logging"
	"forgecore/internal/router"
	"forgecore/internal/types"
)

// Generator is stateless across calls: every Generate/GenerateModification
// invocation depends only on its arguments and the injected collaborators.
type Generator struct {
	backend llm.Backend
	router  *router.Router
}

// New builds a Generator over an LlmBackend and Router.
func New(backend llm.Backend, r *router.Router) *Generator {
	return &Generator{backend: backend, router: r}
}

const systemPrompt = `You are a Go code generator producing a single standalone source file.
Follow these conventions exactly:
- package main
- define: func RunTool(inputJSON string) (string, error) that unmarshals a single
  JSON object from inputJSON, performs the task, and marshals a single JSON object
  as the returned string.
- define: func main() that reads all of stdin, calls RunTool, and writes the
  result to stdout (or an error to stderr and a nonzero exit code on failure).
- the marshaled object RunTool returns must be a single top-level JSON object
  whose only key is "result" (any JSON value) on success, or "error" (a string
  message) on a handled failure you want the caller to see as the stdout body
  rather than a nonzero-exit stderr failure. Never emit both keys at once.
- imports grouped: standard library first, then third-party, then local.
- no hardcoded secrets, no unchecked shelling out.
- keep cyclomatic complexity low; prefer straightforward control flow.
- if the task needs a host capability you can't implement directly (the
  current time, a fresh id, or another stored artifact's source), import
  "toolkit" and call toolkit.CallTool(name, argsJSON) rather than reaching
  for a package outside the standard library.
Respond with ONLY a single Go code block.`

func freshUserPrompt(planContent string, previousFailures string) string {
	var b strings.Builder
	b.WriteString("Implement this specification:\n\n")
	b.WriteString(planContent)
	if previousFailures != "" {
		b.WriteString("\n\nThe previous attempt failed these checks (fix all of them):\n")
		b.WriteString(previousFailures)
	}
	return b.String()
}

func modificationUserPrompt(planContent, templateSource, previousFailures string) string {
	var b strings.Builder
	b.WriteString("Apply this modification plan to the existing source and return the complete new source:\n\n")
	b.WriteString(planContent)
	b.WriteString("\n\nExisting source:\n")
	b.WriteString(templateSource)
	if previousFailures != "" {
		b.WriteString("\n\nThe previous attempt failed these checks (fix all of them):\n")
		b.WriteString(previousFailures)
	}
	return b.String()
}

// Generate produces a fresh executable artifact from a PLAN artifact.
func (g *Generator) Generate(ctx context.Context, planArtifact *types.Artifact, kind types.Kind, role types.Role, tier types.Tier, temperature float64, previousFailures string) (*types.Artifact, error) {
	prompt := freshUserPrompt(string(planArtifact.Content), previousFailures)
	code, err := g.call(ctx, role, tier, temperature, prompt)
	if err != nil {
		return nil, err
	}
	return &types.Artifact{
		Kind:        kind,
		Name:        planArtifact.Name,
		Description: planArtifact.Description,
		Content:     []byte(code),
		Tags:        []string{"generated"},
		Metadata:    types.Metadata{ParentID: planArtifact.ID},
	}, nil
}

// GenerateModification produces a revised full-source artifact from a
// modification-mode PLAN artifact applied against template.
func (g *Generator) GenerateModification(ctx context.Context, planArtifact *types.Artifact, template *types.Artifact, role types.Role, tier types.Tier, temperature float64, previousFailures string) (*types.Artifact, error) {
	if template == nil {
		return nil, fmt.Errorf("generate: GenerateModification requires a template artifact")
	}
	prompt := modificationUserPrompt(string(planArtifact.Content), string(template.Content), previousFailures)
	code, err := g.call(ctx, role, tier, temperature, prompt)
	if err != nil {
		return nil, err
	}
	return &types.Artifact{
		Kind:        template.Kind,
		Name:        template.Name,
		Description: planArtifact.Description,
		Content:     []byte(code),
		Tags:        append(append([]string{}, template.Tags...), "generated", "mutated"),
		Metadata:    types.Metadata{ParentID: template.ID},
	}, nil
}

func (g *Generator) call(ctx context.Context, role types.Role, tier types.Tier, temperature float64, userPrompt string) (string, error) {
	if role == "" {
		role = types.RoleCode
	}
	desc, err := g.router.Pick(role, tier)
	if err != nil {
		return "", fmt.Errorf("generate: router pick: %w", err)
	}
	g.router.PublishStatus(desc.Provider, desc.ID, "generating")
	defer g.router.ClearStatus()

	full := systemPrompt + "\n\n" + userPrompt
	out, err := g.backend.Generate(ctx, desc.ID, full, llm.Params{Temperature: temperature, MaxTokens: 4096})
	if err != nil {
		return "", fmt.Errorf("%w: generate: %v", errs.ErrProviderUnavailable, err)
	}
	code := extractCodeBlock(out, "go")
	logging.GenerateDebug("generated %d bytes of source (model=%s temp=%.2f)", len(code), desc.ID, temperature)
	return code, nil
}

// extractCodeBlock pulls the fenced code block out of an LLM response,
// falling back to the raw trimmed text if no fence is present.
func extractCodeBlock(text, lang string) string {
	patterns := []string{"```" + lang + "\n", "```" + lang + "\r\n", "```\n"}
	for _, pattern := range patterns {
		if idx := strings.Index(text, pattern); idx != -1 {
			start := idx + len(pattern)
			if end := strings.Index(text[start:], "```"); end != -1 {
				return strings.TrimSpace(text[start : start+end])
			}
		}
	}
	return strings.TrimSpace(text)
}

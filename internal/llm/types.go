// Package llm implements the LlmBackend collaborator (spec §4.1):
// generate(model_id, prompt, params) -> text, surfacing four distinct
// failure kinds, plus a cancellable streaming form.
package llm

import "context"

// Params carries the generation knobs spec §4.1 requires: temperature,
// max_tokens, stop sequences, a wall-clock timeout, and whether the
// caller wants a streaming response.
type Params struct {
	Temperature float64
	MaxTokens   int
	Stop        []string
	TimeoutMs   int64
	Stream      bool
}

// Backend is the abstract LlmBackend collaborator. Generate blocks until
// completion or failure. StreamGenerate yields a finite, non-restartable
// sequence of text chunks; cancellation is cooperative via ctx — the
// backend stops at the next chunk boundary after ctx is done.
type Backend interface {
	Generate(ctx context.Context, modelID, prompt string, params Params) (string, error)
	StreamGenerate(ctx context.Context, modelID, prompt string, params Params) (<-chan string, <-chan error)
}

// SystemBackend is an optional extension for backends that support a
// separate system/instruction message.
type SystemBackend interface {
	GenerateWithSystem(ctx context.Context, modelID, systemPrompt, userPrompt string, params Params) (string, error)
}

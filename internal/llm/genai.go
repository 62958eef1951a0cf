package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"forgecore/internal/errs"
	"forgecore/internal/logging"
)

// GenaiBackend implements Backend against Google's Gemini API, grounded on
// the teacher's internal/perception/client.go GeminiClient and
// internal/embedding/genai.go's client-construction style.
type GenaiBackend struct {
	client *genai.Client
}

// NewGenaiBackend creates a Gemini-backed LlmBackend.
func NewGenaiBackend(ctx context.Context, apiKey string) (*GenaiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai backend: API key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai backend: new client: %w", err)
	}
	return &GenaiBackend{client: client}, nil
}

// Generate implements Backend.
func (b *GenaiBackend) Generate(ctx context.Context, modelID, prompt string, params Params) (string, error) {
	logging.LLMDebug("genai.Generate: model=%s prompt_len=%d temp=%.2f", modelID, len(prompt), params.Temperature)

	if params.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = contextWithTimeoutMs(ctx, params.TimeoutMs)
		defer cancel()
	}

	temp := float32(params.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if params.MaxTokens > 0 {
		maxTok := int32(params.MaxTokens)
		cfg.MaxOutputTokens = maxTok
	}
	if len(params.Stop) > 0 {
		cfg.StopSequences = params.Stop
	}

	resp, err := b.client.Models.GenerateContent(ctx, modelID,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", classifyGenaiError(ctx, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: genai returned no candidates", errs.ErrProtocolError)
	}
	return resp.Text(), nil
}

// StreamGenerate implements Backend's cancellable streaming form.
func (b *GenaiBackend) StreamGenerate(ctx context.Context, modelID, prompt string, params Params) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		temp := float32(params.Temperature)
		cfg := &genai.GenerateContentConfig{Temperature: &temp}
		iter := b.client.Models.GenerateContentStream(ctx, modelID,
			[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)

		for chunk, err := range iter {
			select {
			case <-ctx.Done():
				errc <- fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
				return
			default:
			}
			if err != nil {
				errc <- classifyGenaiError(ctx, err)
				return
			}
			if chunk != nil {
				select {
				case chunks <- chunk.Text():
				case <-ctx.Done():
					errc <- fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
					return
				}
			}
		}
	}()

	return chunks, errc
}

func classifyGenaiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", errs.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrUnreachable, err)
}

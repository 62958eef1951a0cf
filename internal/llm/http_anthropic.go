package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"forgecore/internal/errs"
	"forgecore/internal/logging"
)

// AnthropicBackend implements Backend against the Anthropic Messages API
// with a hand-rolled net/http client, matching the teacher's pattern of not
// importing a provider SDK for any backend other than the Gemini one that
// already ships with google.golang.org/genai.
type AnthropicBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiVersion string
}

// NewAnthropicBackend builds an Anthropic-backed LlmBackend.
func NewAnthropicBackend(baseURL, apiKey string) *AnthropicBackend {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicBackend{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiVersion: "2023-06-01",
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, modelID, prompt string, params Params) (string, error) {
	logging.LLMDebug("anthropic.Generate: model=%s prompt_len=%d", modelID, len(prompt))

	if params.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = contextWithTimeoutMs(ctx, params.TimeoutMs)
		defer cancel()
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anthropicRequest{
		Model:         modelID,
		Messages:      []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:     maxTokens,
		Temperature:   params.Temperature,
		StopSequences: params.Stop,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", errs.ErrProtocolError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", errs.ErrProtocolError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.apiKey)
	req.Header.Set("anthropic-version", b.apiVersion)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", classifyHTTPError(ctx, err, 0)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", errs.ErrUnreachable, err)
	}
	if httpErr := classifyHTTPError(ctx, nil, resp.StatusCode); httpErr != nil {
		return "", fmt.Errorf("%w: %s", httpErr, string(respData))
	}

	var ar anthropicResponse
	if err := json.Unmarshal(respData, &ar); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", errs.ErrProtocolError, err)
	}
	if ar.Error != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrProtocolError, ar.Error.Message)
	}
	if len(ar.Content) == 0 {
		return "", fmt.Errorf("%w: no content blocks returned", errs.ErrProtocolError)
	}
	return ar.Content[0].Text, nil
}

// StreamGenerate is unsupported for the Anthropic backend in this module
// (no streaming consumer currently needs it); it returns a single error on
// the error channel rather than pretending to stream.
func (b *AnthropicBackend) StreamGenerate(ctx context.Context, modelID, prompt string, params Params) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errc := make(chan error, 1)
	close(chunks)
	errc <- fmt.Errorf("%w: anthropic backend does not implement streaming", errs.ErrProtocolError)
	close(errc)
	return chunks, errc
}

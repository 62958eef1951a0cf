package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"forgecore/internal/errs"
	"forgecore/internal/logging"
)

// OpenAICompatBackend implements Backend against any OpenAI-chat-completions
// compatible HTTP endpoint (covers openai, xai, zai, and openrouter, which
// all expose the same request/response shape) using plain net/http, the
// same way the teacher hand-rolls its own provider clients in
// internal/perception/client.go rather than importing a provider SDK.
type OpenAICompatBackend struct {
	httpClient *http.Client
	baseURL    string // e.g. "https://api.openai.com/v1"
	apiKey     string
	provider   string // label used in status lines and error messages
}

// NewOpenAICompatBackend builds a backend against baseURL, sending apiKey
// as a Bearer token.
func NewOpenAICompatBackend(provider, baseURL, apiKey string) *OpenAICompatBackend {
	return &OpenAICompatBackend{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		provider:   provider,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (b *OpenAICompatBackend) buildRequest(ctx context.Context, modelID, prompt string, params Params, stream bool) (*http.Request, error) {
	body := chatRequest{
		Model:       modelID,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
		Stream:      stream,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", errs.ErrProtocolError, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errs.ErrProtocolError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	return req, nil
}

// Generate implements Backend.
func (b *OpenAICompatBackend) Generate(ctx context.Context, modelID, prompt string, params Params) (string, error) {
	logging.LLMDebug("%s.Generate: model=%s prompt_len=%d", b.provider, modelID, len(prompt))

	if params.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = contextWithTimeoutMs(ctx, params.TimeoutMs)
		defer cancel()
	}

	req, err := b.buildRequest(ctx, modelID, prompt, params, false)
	if err != nil {
		return "", err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", classifyHTTPError(ctx, err, 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", errs.ErrUnreachable, err)
	}

	if httpErr := classifyHTTPError(ctx, nil, resp.StatusCode); httpErr != nil {
		return "", fmt.Errorf("%w: %s", httpErr, string(data))
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", errs.ErrProtocolError, err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrProtocolError, cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", errs.ErrProtocolError)
	}
	return cr.Choices[0].Message.Content, nil
}

// StreamGenerate implements Backend's SSE-based streaming form. The
// "data: " line framing mirrors the OpenAI-compatible streaming contract
// all four providers behind this backend share.
func (b *OpenAICompatBackend) StreamGenerate(ctx context.Context, modelID, prompt string, params Params) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		req, err := b.buildRequest(ctx, modelID, prompt, params, true)
		if err != nil {
			errc <- err
			return
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			errc <- classifyHTTPError(ctx, err, 0)
			return
		}
		defer resp.Body.Close()

		if httpErr := classifyHTTPError(ctx, nil, resp.StatusCode); httpErr != nil {
			errc <- httpErr
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				errc <- fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			select {
			case chunks <- chunk.Choices[0].Delta.Content:
			case <-ctx.Done():
				errc <- fmt.Errorf("%w: %v", errs.ErrTimeout, ctx.Err())
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("%w: %v", errs.ErrUnreachable, err)
		}
	}()

	return chunks, errc
}

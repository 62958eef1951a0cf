package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LocalBackend generates text against a locally-hosted Ollama server,
// grounded on the teacher's internal/embedding/ollama.go OllamaEngine HTTP
// client (same endpoint-default, same plain-JSON request/response shape,
// extended here from Ollama's /api/embeddings endpoint to its /api/generate
// endpoint). This is forgecore's free, offline-capable provider: the
// "local" entries DefaultRouterConfig and DefaultConfig's LLMConfig point
// at, satisfying IA4 without any API key.
type LocalBackend struct {
	endpoint string
	client   *http.Client
}

// NewLocalBackend builds a LocalBackend against endpoint, defaulting to
// Ollama's standard local port when unset.
func NewLocalBackend(endpoint string) *LocalBackend {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &LocalBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends a single non-streaming /api/generate request.
func (l *LocalBackend) Generate(ctx context.Context, modelID, prompt string, params Params) (string, error) {
	if params.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = contextWithTimeoutMs(ctx, params.TimeoutMs)
		defer cancel()
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  modelID,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": params.Temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm/local: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm/local: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm/local: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm/local: ollama returned status %d: %s", resp.StatusCode, string(b))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm/local: decode response: %w", err)
	}
	return out.Response, nil
}

// StreamGenerate reads Ollama's newline-delimited JSON stream, forwarding
// each chunk's Response field until Done.
func (l *LocalBackend) StreamGenerate(ctx context.Context, modelID, prompt string, params Params) (<-chan string, <-chan error) {
	ch := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(ch)
		defer close(errc)

		body, err := json.Marshal(ollamaGenerateRequest{
			Model:  modelID,
			Prompt: prompt,
			Stream: true,
			Options: map[string]interface{}{
				"temperature": params.Temperature,
			},
		})
		if err != nil {
			errc <- fmt.Errorf("llm/local: marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/api/generate", bytes.NewReader(body))
		if err != nil {
			errc <- fmt.Errorf("llm/local: create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.client.Do(req)
		if err != nil {
			errc <- fmt.Errorf("llm/local: request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			errc <- fmt.Errorf("llm/local: ollama returned status %d: %s", resp.StatusCode, string(b))
			return
		}

		dec := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaGenerateResponse
			if err := dec.Decode(&chunk); err != nil {
				if err == io.EOF {
					return
				}
				errc <- fmt.Errorf("llm/local: decode stream chunk: %w", err)
				return
			}
			if chunk.Response != "" {
				select {
				case ch <- chunk.Response:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()

	return ch, errc
}

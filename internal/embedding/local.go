package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"forgecore/internal/logging"
)

// =============================================================================
// LOCAL (OFFLINE) EMBEDDING ENGINE
// =============================================================================

// LocalEngine produces deterministic, offline embeddings by hashing
// token shingles into a fixed-width vector and normalizing. It satisfies
// the Embedder contract (spec §4.1: embed(text) -> vector of length D,
// deterministic per text and model) without a network dependency, for use
// when no cloud embedding provider is configured.
type LocalEngine struct {
	dims int
}

// NewLocalEngine creates a deterministic local embedding engine with the
// given dimensionality.
func NewLocalEngine(dims int) (*LocalEngine, error) {
	if dims <= 0 {
		dims = 256
		logging.EmbeddingDebug("Local engine dimensions defaulted to: %d", dims)
	}
	logging.Embedding("Creating local embedding engine: dims=%d", dims)
	return &LocalEngine{dims: dims}, nil
}

// Embed generates a deterministic embedding for a single text by hashing
// whitespace-delimited tokens into buckets and L2-normalizing the result.
func (e *LocalEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	logging.EmbeddingDebug("Local.Embed: starting embed request, text_length=%d chars", len(text))

	vec := make([]float64, e.dims)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		logging.EmbeddingDebug("Local.Embed: empty token set, returning zero vector")
		return make([]float32, e.dims), nil
	}

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		for i := 0; i < 4; i++ {
			bucket := binary.BigEndian.Uint64(sum[i*8:(i+1)*8]) % uint64(e.dims)
			sign := 1.0
			if sum[(i+4)%32]&1 == 1 {
				sign = -1.0
			}
			vec[bucket] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	result := make([]float32, e.dims)
	if norm > 0 {
		scale := 1.0 / math.Sqrt(norm)
		for i, v := range vec {
			result[i] = float32(v * scale)
		}
	}

	logging.EmbeddingDebug("Local.Embed: completed, dimensions=%d, tokens=%d", e.dims, len(tokens))
	return result, nil
}

// EmbedBatch generates embeddings for multiple texts sequentially; the
// local engine has no batch API to exploit.
func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	logging.Embedding("Local.EmbedBatch: starting batch embed for %d texts", len(texts))
	if len(texts) == 0 {
		return nil, nil
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the configured embedding dimensionality.
func (e *LocalEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *LocalEngine) Name() string {
	return fmt.Sprintf("local:%d", e.dims)
}

// HealthCheck always succeeds; the local engine has no external dependency.
func (e *LocalEngine) HealthCheck(ctx context.Context) error {
	return nil
}

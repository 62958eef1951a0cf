package embedding

import (
	"context"
	"testing"
)

func TestLocalEngine_Deterministic(t *testing.T) {
	e, err := NewLocalEngine(64)
	if err != nil {
		t.Fatalf("NewLocalEngine failed: %v", err)
	}

	a, err := e.Embed(context.Background(), "fibonacci sequence backwards")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := e.Embed(context.Background(), "fibonacci sequence backwards")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Embed is not deterministic at index %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestLocalEngine_DistinctTextsDiffer(t *testing.T) {
	e, _ := NewLocalEngine(64)
	a, _ := e.Embed(context.Background(), "sum a list of numbers")
	b, _ := e.Embed(context.Background(), "write a haiku about coding")

	same, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if same > 0.99 {
		t.Fatalf("expected distinct texts to embed differently, got similarity %v", same)
	}
}

func TestLocalEngine_EmptyText(t *testing.T) {
	e, _ := NewLocalEngine(32)
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector for empty text, got nonzero at %d: %v", i, v)
		}
	}
}

func TestLocalEngine_EmbedBatch(t *testing.T) {
	e, _ := NewLocalEngine(16)
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 embeddings, got %d", len(out))
	}
}

func TestLocalEngine_Dimensions(t *testing.T) {
	e, _ := NewLocalEngine(0)
	if e.Dimensions() != 256 {
		t.Fatalf("expected default dimensions=256, got %d", e.Dimensions())
	}
}

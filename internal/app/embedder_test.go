package app

import (
	"context"
	"math"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"google.golang.org/genai"

	"github.com/recall0/recall/internal/config"
	"github.com/recall0/recall/internal/vectorstore"
)

// wideEmbedder mimics a provider emitting more dimensions than the
// documents schema holds, recording the request it saw.
type wideEmbedder struct {
	dim     int
	lastReq *ai.EmbedRequest
}

func (e *wideEmbedder) Name() string { return "wideEmbedder" }

func (e *wideEmbedder) Register(api.Registry) {}

func (e *wideEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.lastReq = req
	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = 1
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: vec}}}, nil
}

func embedOne(t *testing.T, embedder ai.Embedder, text string) []float32 {
	t.Helper()
	resp, err := embedder.Embed(context.Background(), &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(resp.Embeddings) != 1 {
		t.Fatalf("embeddings = %d, want 1", len(resp.Embeddings))
	}
	return resp.Embeddings[0].Embedding
}

func TestPinnedEmbedder_GeminiRequestsSchemaDimensions(t *testing.T) {
	inner := &wideEmbedder{dim: 3072}
	embedder := newPinnedEmbedder(inner, &config.Config{Provider: config.ProviderGemini})

	vec := embedOne(t, embedder, "morning run")

	if len(vec) != int(vectorstore.VectorDimension) {
		t.Errorf("dimensions = %d, want %d", len(vec), vectorstore.VectorDimension)
	}

	opts, ok := inner.lastReq.Options.(*genai.EmbedContentConfig)
	if !ok {
		t.Fatalf("request options = %T, want *genai.EmbedContentConfig", inner.lastReq.Options)
	}
	if opts.OutputDimensionality == nil || *opts.OutputDimensionality != vectorstore.VectorDimension {
		t.Errorf("output dimensionality = %v, want %d", opts.OutputDimensionality, vectorstore.VectorDimension)
	}
}

func TestPinnedEmbedder_TruncatesAndRenormalizes(t *testing.T) {
	inner := &wideEmbedder{dim: 1536}
	embedder := newPinnedEmbedder(inner, &config.Config{Provider: config.ProviderOpenAI})

	vec := embedOne(t, embedder, "morning run")

	if len(vec) != int(vectorstore.VectorDimension) {
		t.Fatalf("dimensions = %d, want %d", len(vec), vectorstore.VectorDimension)
	}
	if inner.lastReq.Options != nil {
		t.Errorf("options = %v, openai requests carry none", inner.lastReq.Options)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-4 {
		t.Errorf("norm = %f, want unit length after truncation", math.Sqrt(norm))
	}
}

func TestPinnedEmbedder_ExactWidthPassesThrough(t *testing.T) {
	inner := &wideEmbedder{dim: int(vectorstore.VectorDimension)}
	embedder := newPinnedEmbedder(inner, &config.Config{Provider: config.ProviderOpenAI})

	vec := embedOne(t, embedder, "morning run")

	if len(vec) != int(vectorstore.VectorDimension) {
		t.Fatalf("dimensions = %d, want %d", len(vec), vectorstore.VectorDimension)
	}
	for i, v := range vec {
		if v != 1 {
			t.Fatalf("vec[%d] = %f, exact-width vectors must not be rescaled", i, v)
		}
	}
}

func TestPinnedEmbedder_NarrowResponseFails(t *testing.T) {
	inner := &wideEmbedder{dim: 128}
	embedder := newPinnedEmbedder(inner, &config.Config{Provider: config.ProviderOpenAI})

	_, err := embedder.Embed(context.Background(), &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText("morning run", nil)},
	})
	if err == nil {
		t.Fatal("expected error for a vector narrower than the schema")
	}
}

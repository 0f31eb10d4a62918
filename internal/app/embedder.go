package app

import (
	"context"
	"fmt"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"google.golang.org/genai"

	"github.com/recall0/recall/internal/config"
	"github.com/recall0/recall/internal/vectorstore"
)

// pinnedEmbedder wraps a provider embedder and forces its output to the
// documents schema's vector width. Gemini models emit 3072 dimensions by
// default and OpenAI's 1536 or 3072; the vector(768) column rejects both.
//
// For Gemini the request carries OutputDimensionality so the truncation
// happens provider-side (Matryoshka Representation Learning). Any
// response that still comes back wider is truncated and renormalized
// here, which is the documented client-side equivalent for MRL-trained
// models.
type pinnedEmbedder struct {
	inner ai.Embedder
	opts  any
	dim   int
}

func newPinnedEmbedder(inner ai.Embedder, cfg *config.Config) ai.Embedder {
	var opts any
	if cfg.Provider != config.ProviderOpenAI {
		dim := vectorstore.VectorDimension
		opts = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	return &pinnedEmbedder{inner: inner, opts: opts, dim: int(vectorstore.VectorDimension)}
}

func (e *pinnedEmbedder) Name() string { return e.inner.Name() }

func (e *pinnedEmbedder) Register(r api.Registry) { e.inner.Register(r) }

func (e *pinnedEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if req.Options == nil {
		req.Options = e.opts
	}

	resp, err := e.inner.Embed(ctx, req)
	if err != nil {
		return nil, err
	}

	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) < e.dim {
			return nil, fmt.Errorf("embedding %d has %d dimensions, need %d", i, len(emb.Embedding), e.dim)
		}
		if len(emb.Embedding) > e.dim {
			emb.Embedding = renormalize(emb.Embedding[:e.dim])
		}
	}
	return resp, nil
}

// renormalize rescales a truncated vector back to unit length so cosine
// distances stay meaningful. A zero vector is returned unchanged.
func renormalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

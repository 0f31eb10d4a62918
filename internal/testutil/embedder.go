package testutil

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// embeddingDim matches the documents.embedding column width.
const embeddingDim = 768

// StaticEmbedder is a deterministic ai.Embedder for tests that need real
// vectors without a provider: identical text always produces identical
// embeddings, so a stored document is its own nearest neighbor.
type StaticEmbedder struct{}

func (StaticEmbedder) Name() string { return "staticEmbedder" }

func (StaticEmbedder) Register(api.Registry) {}

func (StaticEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		var text string
		for _, part := range doc.Content {
			text += part.Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: embedText(text)})
	}
	return resp, nil
}

// embedText hashes character trigrams into a fixed-size unit vector.
func embedText(text string) []float32 {
	vec := make([]float32, embeddingDim)
	runes := []rune(text)
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		vec[h.Sum32()%embeddingDim]++
	}
	if len(runes) < 3 {
		h := fnv.New32a()
		h.Write([]byte(text))
		vec[h.Sum32()%embeddingDim] = 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

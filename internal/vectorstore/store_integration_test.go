package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recall0/recall/internal/retrieval"
	"github.com/recall0/recall/internal/temporal"
	"github.com/recall0/recall/internal/testutil"
)

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	return New(tdb.Pool, testutil.StaticEmbedder{}, testutil.DiscardLogger()), cleanup
}

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	resp, err := testutil.StaticEmbedder{}.Embed(context.Background(), &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	require.NoError(t, err)
	return resp.Embeddings[0].Embedding
}

func TestStore_AddAndQuery_Integration(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	docs := []Document{
		{ID: "d1", UserID: "alice", Type: "diary", Content: "went hiking in the mountains"},
		{ID: "d2", UserID: "alice", Type: "diary", Content: "baked sourdough bread at home"},
		{ID: "d3", UserID: "bob", Type: "diary", Content: "went hiking in the mountains"},
	}
	for _, doc := range docs {
		require.NoError(t, store.Add(ctx, doc))
	}

	items, err := store.Query(ctx, retrieval.VectorQuery{
		Embedding: embed(t, "went hiking in the mountains"),
		ScopeIDs:  []string{"alice"},
		TopK:      5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, items)

	// Scoping: bob's identical record must not appear.
	for _, it := range items {
		assert.Equal(t, "alice", it.UserID)
		assert.Equal(t, retrieval.SourceVector, it.Source)
	}
	// The exact match ranks first with the top score.
	assert.Equal(t, "d1", items[0].ID)
	assert.InDelta(t, 1.0, items[0].Score, 0.01)
}

func TestStore_Query_TypeFilter_Integration(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Document{ID: "h1", UserID: "alice", Type: "health", Content: "slept eight hours"}))
	require.NoError(t, store.Add(ctx, Document{ID: "l1", UserID: "alice", Type: "location", Content: "slept eight hours"}))

	items, err := store.Query(ctx, retrieval.VectorQuery{
		Embedding: embed(t, "slept eight hours"),
		ScopeIDs:  []string{"alice"},
		TopK:      5,
		Filter:    retrieval.NewTypeFilter("health"),
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "h1", items[0].ID)

	// A match-nothing filter returns no rows even with perfect matches.
	items, err = store.Query(ctx, retrieval.VectorQuery{
		Embedding: embed(t, "slept eight hours"),
		ScopeIDs:  []string{"alice"},
		TopK:      5,
		Filter:    retrieval.MatchNone(),
	})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_Query_DateRange_Integration(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Document{
		ID: "in", UserID: "alice", Type: "diary", Content: "morning swim at the lake",
		Metadata: map[string]string{"date": "2024-03-14"},
	}))
	require.NoError(t, store.Add(ctx, Document{
		ID: "out", UserID: "alice", Type: "diary", Content: "morning swim at the lake",
		Metadata: map[string]string{"createdAt": "2024-01-02T08:00:00Z"},
	}))
	require.NoError(t, store.Add(ctx, Document{
		ID: "junk", UserID: "alice", Type: "diary", Content: "morning swim at the lake",
		Metadata: map[string]string{"date": "sometime last spring"},
	}))

	items, err := store.Query(ctx, retrieval.VectorQuery{
		Embedding: embed(t, "morning swim at the lake"),
		ScopeIDs:  []string{"alice"},
		TopK:      5,
		DateRange: &temporal.Range{
			Start: time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 14, 23, 59, 59, 999_000_000, time.UTC),
		},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "in", items[0].ID)
}

func TestStore_Upsert_Integration(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Document{ID: "d1", UserID: "alice", Type: "diary", Content: "first draft"}))
	require.NoError(t, store.Add(ctx, Document{ID: "d1", UserID: "alice", Type: "diary", Content: "second draft"}))

	count, err := store.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	items, err := store.Query(ctx, retrieval.VectorQuery{
		Embedding: embed(t, "second draft"),
		ScopeIDs:  []string{"alice"},
		TopK:      1,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "second draft", items[0].Text)
}

func TestStore_Delete_Integration(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Document{ID: "d1", UserID: "alice", Content: "to be removed"}))
	require.NoError(t, store.Delete(ctx, "d1"))

	err := store.Delete(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
}

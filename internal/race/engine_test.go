package race

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"go.uber.org/goleak"

	"github.com/recall0/recall/internal/assemble"
	"github.com/recall0/recall/internal/circle"
	"github.com/recall0/recall/internal/log"
	"github.com/recall0/recall/internal/retrieval"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// refNow is a Friday; temporal tests elsewhere pin the same instant.
var refNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

// mockEmbedder implements ai.Embedder.
type mockEmbedder struct {
	mu       sync.Mutex
	calls    int
	lastText string
	err      error
}

func (m *mockEmbedder) Name() string { return "mockEmbedder" }

func (m *mockEmbedder) Register(api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.mu.Lock()
	m.calls++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastText = req.Input[0].Content[0].Text
	}
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}},
	}, nil
}

// mockIndex returns its canned items minus whatever the type filter
// excludes, mimicking a real index.
type mockIndex struct {
	mu        sync.Mutex
	items     []retrieval.Item
	err       error
	lastQuery retrieval.VectorQuery
}

func (m *mockIndex) Query(ctx context.Context, q retrieval.VectorQuery) ([]retrieval.Item, error) {
	m.mu.Lock()
	m.lastQuery = q
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	var out []retrieval.Item
	for _, it := range m.items {
		if q.Filter.Allows(it.Type) {
			out = append(out, it)
		}
	}
	return out, nil
}

type mockEvents struct {
	items []retrieval.Item
	err   error
}

func (m *mockEvents) Events(ctx context.Context, userID string, start, end time.Time, limit int) ([]retrieval.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

type mockGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	lastReq  GenerateRequest
	calls    int
}

func (m *mockGenerator) Complete(ctx context.Context, req GenerateRequest) (string, error) {
	m.mu.Lock()
	m.lastReq = req
	m.calls++
	m.mu.Unlock()

	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

type mockDirectory struct {
	circle   *circle.Circle
	profiles map[string]string
}

func (m *mockDirectory) Circle(ctx context.Context, circleID string) (*circle.Circle, error) {
	if m.circle == nil || m.circle.ID != circleID {
		return nil, circle.ErrNotFound
	}
	return m.circle, nil
}

func (m *mockDirectory) Profile(ctx context.Context, userID string) (*circle.Profile, error) {
	name, ok := m.profiles[userID]
	if !ok {
		return nil, circle.ErrNotFound
	}
	return &circle.Profile{DisplayName: name}, nil
}

type testDeps struct {
	embedder *mockEmbedder
	index    *mockIndex
	events   *mockEvents
	gen      *mockGenerator
	dir      *mockDirectory
}

func newTestEngine(t *testing.T, deps testDeps) *Engine {
	t.Helper()

	if deps.embedder == nil {
		deps.embedder = &mockEmbedder{}
	}
	if deps.index == nil {
		deps.index = &mockIndex{}
	}
	if deps.gen == nil {
		deps.gen = &mockGenerator{response: "answer"}
	}

	logger := log.NewNop()
	var events retrieval.EventStore
	if deps.events != nil {
		events = deps.events
	}
	orch := retrieval.NewOrchestrator(deps.index, events, logger)

	var gate *circle.Gate
	var labeler *circle.Labeler
	if deps.dir != nil {
		gate = circle.NewGate(deps.dir, logger)
		labeler = circle.NewLabeler(deps.dir, logger)
	}

	eng, err := New(Config{}, deps.embedder, deps.gen, orch, gate, labeler, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.now = func() time.Time { return refNow }
	return eng
}

func TestQuery_AnswersFromVectors(t *testing.T) {
	index := &mockIndex{items: []retrieval.Item{
		{ID: "v1", Source: retrieval.SourceVector, Score: 0.9, Type: "diary", Text: "went hiking"},
	}}
	gen := &mockGenerator{response: "You went hiking."}
	eng := newTestEngine(t, testDeps{index: index, gen: gen})

	got, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "what did I do"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.Response != "You went hiking." {
		t.Errorf("response = %q", got.Response)
	}
	if len(got.ContextUsed) != 1 || got.ContextUsed[0].ID != "v1" {
		t.Errorf("references = %+v, want v1 only", got.ContextUsed)
	}
	if !strings.Contains(gen.lastReq.Context, "went hiking") {
		t.Errorf("generator context = %q, want retrieved text", gen.lastReq.Context)
	}
	if gen.lastReq.System != systemPrompt {
		t.Error("system prompt not forwarded")
	}
}

func TestQuery_ValidationBeforeExternalCalls(t *testing.T) {
	embedder := &mockEmbedder{}
	gen := &mockGenerator{}
	eng := newTestEngine(t, testDeps{embedder: embedder, gen: gen})

	tests := []struct {
		name string
		req  Request
	}{
		{"empty user id", Request{Query: "hello"}},
		{"empty query", Request{UserID: "u1"}},
		{"unknown timezone", Request{UserID: "u1", Query: "hello", Timezone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := eng.Query(context.Background(), tt.req); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	if embedder.calls != 0 {
		t.Errorf("embedder calls = %d, want 0 for invalid input", embedder.calls)
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0 for invalid input", gen.calls)
	}
}

func TestQuery_EmbeddingFailureIsFatal(t *testing.T) {
	eng := newTestEngine(t, testDeps{
		embedder: &mockEmbedder{err: errors.New("provider down")},
	})

	if _, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "hello"}); !errors.Is(err, ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
}

func TestQuery_VectorFailureIsFatal(t *testing.T) {
	eng := newTestEngine(t, testDeps{
		index: &mockIndex{err: errors.New("index down")},
	})

	if _, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "hello"}); !errors.Is(err, ErrRetrieval) {
		t.Fatalf("err = %v, want ErrRetrieval", err)
	}
}

func TestQuery_EventFailureStillAnswers(t *testing.T) {
	index := &mockIndex{items: []retrieval.Item{
		{ID: "v1", Score: 0.8, Type: "diary", Text: "ran 5km"},
	}}
	gen := &mockGenerator{response: "You ran 5km yesterday."}
	eng := newTestEngine(t, testDeps{
		index:  index,
		events: &mockEvents{err: errors.New("event store down")},
		gen:    gen,
	})

	got, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "what did I do yesterday"})
	if err != nil {
		t.Fatalf("Query: %v, want degraded answer on event-store failure", err)
	}
	if len(got.ContextUsed) != 1 {
		t.Errorf("references = %+v, want the vector match", got.ContextUsed)
	}
	if !strings.Contains(gen.lastReq.Context, "ran 5km") {
		t.Errorf("generator context = %q, want vector-grounded context", gen.lastReq.Context)
	}
}

func TestQuery_TemporalIntentReachesIndex(t *testing.T) {
	index := &mockIndex{}
	eng := newTestEngine(t, testDeps{index: index})

	if _, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "what did I eat yesterday"}); err != nil {
		t.Fatalf("Query: %v", err)
	}

	dr := index.lastQuery.DateRange
	if dr == nil {
		t.Fatal("date range not propagated to index")
	}
	wantStart := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	if !dr.Start.Equal(wantStart) {
		t.Errorf("range start = %v, want %v", dr.Start, wantStart)
	}
}

func TestQuery_FallbackContextOnEmptyResults(t *testing.T) {
	gen := &mockGenerator{response: "I need more data."}
	eng := newTestEngine(t, testDeps{gen: gen})

	got, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "anything"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if gen.lastReq.Context != assemble.Fallback {
		t.Errorf("generator context = %q, want exact fallback sentence", gen.lastReq.Context)
	}
	if len(got.ContextUsed) != 0 {
		t.Errorf("references = %+v, want empty", got.ContextUsed)
	}
}

func TestQuery_GenerationFailure(t *testing.T) {
	eng := newTestEngine(t, testDeps{
		gen: &mockGenerator{err: errors.New("model overloaded")},
	})

	if _, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "hello"}); !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestQuery_AggregationWidensTopK(t *testing.T) {
	index := &mockIndex{}
	eng := newTestEngine(t, testDeps{index: index})

	if _, err := eng.Query(context.Background(), Request{UserID: "u1", Query: "how many times did I go to the gym"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if index.lastQuery.TopK != retrieval.BroadTopK {
		t.Errorf("topK = %d, want %d for count query", index.lastQuery.TopK, retrieval.BroadTopK)
	}
}

func TestQueryWithHistory_ForwardsHistory(t *testing.T) {
	gen := &mockGenerator{response: "answer"}
	embedder := &mockEmbedder{}
	eng := newTestEngine(t, testDeps{gen: gen, embedder: embedder})

	history := []Message{
		{Role: "user", Content: "did I run this week?"},
		{Role: "assistant", Content: "Yes, twice."},
	}
	if _, err := eng.QueryWithHistory(context.Background(), Request{UserID: "u1", Query: "which days?"}, history); err != nil {
		t.Fatalf("QueryWithHistory: %v", err)
	}

	if len(gen.lastReq.History) != 2 || gen.lastReq.History[1].Content != "Yes, twice." {
		t.Errorf("history = %+v, want forwarded turns", gen.lastReq.History)
	}
	// Retrieval embeds only the current question.
	if embedder.lastText != "which days?" {
		t.Errorf("embedded text = %q, want current question only", embedder.lastText)
	}
}

func TestQueryByDataType_FiltersAndWidens(t *testing.T) {
	index := &mockIndex{items: []retrieval.Item{
		{ID: "h1", Score: 0.9, Type: "health", Text: "slept 7h"},
		{ID: "d1", Score: 0.8, Type: "diary", Text: "wrote a letter"},
	}}
	eng := newTestEngine(t, testDeps{index: index})

	got, err := eng.QueryByDataType(context.Background(), Request{UserID: "u1", Query: "how did I sleep"}, "health")
	if err != nil {
		t.Fatalf("QueryByDataType: %v", err)
	}

	if index.lastQuery.TopK != retrieval.BroadTopK {
		t.Errorf("topK = %d, want %d", index.lastQuery.TopK, retrieval.BroadTopK)
	}
	if len(got.ContextUsed) != 1 || got.ContextUsed[0].Type != "health" {
		t.Errorf("references = %+v, want health items only", got.ContextUsed)
	}
}

func TestQueryByDataType_EmptyType(t *testing.T) {
	eng := newTestEngine(t, testDeps{})

	if _, err := eng.QueryByDataType(context.Background(), Request{UserID: "u1", Query: "q"}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestQueryByActivity_BiasesEmbedding(t *testing.T) {
	embedder := &mockEmbedder{}
	index := &mockIndex{}
	eng := newTestEngine(t, testDeps{embedder: embedder, index: index})

	if _, err := eng.QueryByActivity(context.Background(), Request{UserID: "u1", Query: "how often this month"}, "running"); err != nil {
		t.Fatalf("QueryByActivity: %v", err)
	}

	if !strings.HasPrefix(embedder.lastText, "running: ") {
		t.Errorf("embedded text = %q, want activity prefix", embedder.lastText)
	}
	if index.lastQuery.TopK != retrieval.BroadTopK {
		t.Errorf("topK = %d, want %d", index.lastQuery.TopK, retrieval.BroadTopK)
	}
	if !index.lastQuery.Filter.Unrestricted() {
		t.Error("activity query must not hard filter by type")
	}
}

var familyCircle = &circle.Circle{
	ID:        "c1",
	Name:      "Family",
	MemberIDs: []string{"alice", "bob"},
	Sharing:   circle.Sharing{Location: true, Activities: true},
}

func TestQueryCircleContext_NonMemberDenied(t *testing.T) {
	embedder := &mockEmbedder{}
	eng := newTestEngine(t, testDeps{
		embedder: embedder,
		dir:      &mockDirectory{circle: familyCircle},
	})

	_, err := eng.QueryCircleContext(context.Background(), CircleRequest{
		CircleID: "c1", CallerID: "mallory", Query: "where was everyone",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder calls = %d, want 0 after denial", embedder.calls)
	}
}

func TestQueryCircleContext_UnknownCircleDenied(t *testing.T) {
	eng := newTestEngine(t, testDeps{dir: &mockDirectory{}})

	_, err := eng.QueryCircleContext(context.Background(), CircleRequest{
		CircleID: "ghost", CallerID: "alice", Query: "q",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestQueryCircleContext_DisabledCategoryExcluded(t *testing.T) {
	// shareHealth is off: health records never reach the context or the
	// references, even when the index holds them.
	index := &mockIndex{items: []retrieval.Item{
		{ID: "h1", Score: 0.95, Type: "health", Text: "blood pressure reading", UserID: "bob"},
		{ID: "l1", Score: 0.9, Type: "location", Text: "at the lake", UserID: "bob"},
	}}
	gen := &mockGenerator{response: "Bob was at the lake."}
	eng := newTestEngine(t, testDeps{
		index: index,
		gen:   gen,
		dir:   &mockDirectory{circle: familyCircle, profiles: map[string]string{"bob": "Bob"}},
	})

	got, err := eng.QueryCircleContext(context.Background(), CircleRequest{
		CircleID: "c1", CallerID: "alice", Query: "where was everyone",
	})
	if err != nil {
		t.Fatalf("QueryCircleContext: %v", err)
	}

	for _, ref := range got.ContextUsed {
		if ref.Type == "health" {
			t.Errorf("health reference leaked despite sharing off: %+v", ref)
		}
	}
	if strings.Contains(gen.lastReq.Context, "blood pressure") {
		t.Errorf("context = %q, health data leaked", gen.lastReq.Context)
	}
	if !strings.Contains(gen.lastReq.Context, "at the lake") {
		t.Errorf("context = %q, want shared location data", gen.lastReq.Context)
	}
}

func TestQueryCircleContext_CallerLabeledYou(t *testing.T) {
	index := &mockIndex{items: []retrieval.Item{
		{ID: "a1", Score: 0.9, Type: "location", Text: "at the office", UserID: "alice"},
		{ID: "b1", Score: 0.8, Type: "location", Text: "at the lake", UserID: "bob"},
	}}
	gen := &mockGenerator{response: "answer"}
	eng := newTestEngine(t, testDeps{
		index: index,
		gen:   gen,
		dir: &mockDirectory{
			circle:   familyCircle,
			profiles: map[string]string{"alice": "Alice Smith", "bob": "Bob Chen"},
		},
	})

	if _, err := eng.QueryCircleContext(context.Background(), CircleRequest{
		CircleID: "c1", CallerID: "alice", Query: "where was everyone",
	}); err != nil {
		t.Fatalf("QueryCircleContext: %v", err)
	}

	if !strings.Contains(gen.lastReq.Context, "You: at the office") {
		t.Errorf("context = %q, caller must render as You", gen.lastReq.Context)
	}
	if !strings.Contains(gen.lastReq.Context, "Bob Chen: at the lake") {
		t.Errorf("context = %q, members render by display name", gen.lastReq.Context)
	}
}

func TestQueryCircleContext_AllSharingOffMatchesNothing(t *testing.T) {
	index := &mockIndex{items: []retrieval.Item{
		{ID: "l1", Score: 0.9, Type: "location", Text: "at the lake", UserID: "bob"},
	}}
	gen := &mockGenerator{response: "answer"}
	eng := newTestEngine(t, testDeps{
		index: index,
		gen:   gen,
		dir: &mockDirectory{circle: &circle.Circle{
			ID:        "c2",
			MemberIDs: []string{"alice", "bob"},
		}},
	})

	got, err := eng.QueryCircleContext(context.Background(), CircleRequest{
		CircleID: "c2", CallerID: "alice", Query: "where was everyone",
	})
	if err != nil {
		t.Fatalf("QueryCircleContext: %v", err)
	}
	if gen.lastReq.Context != assemble.Fallback {
		t.Errorf("context = %q, want fallback when nothing is shared", gen.lastReq.Context)
	}
	if len(got.ContextUsed) != 0 {
		t.Errorf("references = %+v, want empty", got.ContextUsed)
	}
}

// stalledProfileDir answers Circle immediately but blocks Profile until
// its context is canceled, like a directory backend that stopped
// responding.
type stalledProfileDir struct {
	*mockDirectory
}

func (d stalledProfileDir) Profile(ctx context.Context, userID string) (*circle.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestQueryCircleContext_HungProfileLookupDegrades(t *testing.T) {
	index := &mockIndex{items: []retrieval.Item{
		{ID: "l1", Score: 0.9, Type: "location", Text: "at the lake", UserID: "bob"},
	}}
	gen := &mockGenerator{response: "answer"}
	dir := stalledProfileDir{&mockDirectory{circle: familyCircle}}
	logger := log.NewNop()
	orch := retrieval.NewOrchestrator(index, nil, logger)

	eng, err := New(Config{UpstreamTimeout: 100 * time.Millisecond},
		&mockEmbedder{}, gen, orch,
		circle.NewGate(dir, logger), circle.NewLabeler(dir, logger), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.now = func() time.Time { return refNow }

	start := time.Now()
	got, err := eng.QueryCircleContext(context.Background(), CircleRequest{
		CircleID: "c1", CallerID: "alice", Query: "where was everyone",
	})
	if err != nil {
		t.Fatalf("QueryCircleContext: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("request took %v, want it bounded by the upstream timeout", elapsed)
	}
	if got.Response != "answer" {
		t.Errorf("response = %q", got.Response)
	}
	if !strings.Contains(gen.lastReq.Context, "A circle member: at the lake") {
		t.Errorf("context = %q, want placeholder label for the timed-out lookup", gen.lastReq.Context)
	}
}

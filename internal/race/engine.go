// Package race implements the retrieval-augmented answering engine: it
// turns a natural-language question about a user's personal history into
// a grounded answer by parsing temporal intent, embedding the question,
// retrieving matching records and events, assembling a bounded context
// and handing it to the generation model.
//
// The engine is the only entry point callers use; the pipeline stages
// live in their own packages (temporal, intent, retrieval, circle,
// assemble) and are composed here.
package race

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/recall0/recall/internal/assemble"
	"github.com/recall0/recall/internal/circle"
	"github.com/recall0/recall/internal/intent"
	"github.com/recall0/recall/internal/retrieval"
	"github.com/recall0/recall/internal/temporal"
)

// systemPrompt frames every generation call. The fallback-handling
// instruction pairs with assemble.Fallback.
const systemPrompt = "You are a personal memory assistant. Answer the user's question using only " +
	"the personal context provided below. Mention dates when the context includes them. " +
	"If the context says no relevant data was found, tell the user you need more data " +
	"instead of guessing."

// defaultUpstreamTimeout bounds the embedding and retrieval calls of one
// query when the configuration does not override it.
const defaultUpstreamTimeout = 15 * time.Second

// Message is one prior conversation turn supplied by the caller.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the input to the generation port.
type GenerateRequest struct {
	System  string
	History []Message
	Query   string
	Context string
}

// Generator is the port to the chat-completion model.
type Generator interface {
	Complete(ctx context.Context, req GenerateRequest) (string, error)
}

// Answer is a generated response plus the references backing it.
// ContextUsed mirrors the semantic matches that went into the context;
// extracted events are part of the context text but not referenced.
type Answer struct {
	Response    string               `json:"response"`
	ContextUsed []assemble.Reference `json:"contextUsed"`
}

// Request is a single-user query.
type Request struct {
	UserID string
	Query  string

	// Timezone is an optional IANA name resolving "today" and friends in
	// the caller's local time. Empty selects the engine default.
	Timezone string
}

// CircleRequest is a query over a circle's shared data.
type CircleRequest struct {
	CircleID string
	CallerID string
	Query    string
	Timezone string
}

// Config holds the engine's tunables.
type Config struct {
	// MaxContextLength bounds the assembled context in characters.
	// Zero selects assemble.DefaultMaxLength.
	MaxContextLength int

	// DefaultTimezone is the IANA zone used when a request carries none.
	// Empty means UTC.
	DefaultTimezone string

	// UpstreamTimeout bounds the embedding and retrieval calls of one
	// query. Generation runs under the caller's context untouched.
	UpstreamTimeout time.Duration
}

// Engine composes the pipeline stages behind the query operations.
// It is stateless across requests and safe for concurrent use.
type Engine struct {
	cfg      Config
	embedder ai.Embedder
	gen      Generator
	orch     *retrieval.Orchestrator
	gate     *circle.Gate
	labeler  *circle.Labeler
	logger   *slog.Logger
	loc      *time.Location

	// now is swapped in tests to pin temporal parsing.
	now func() time.Time
}

// New creates an Engine. gate and labeler may be nil when circle queries
// are not deployed; QueryCircleContext then fails with ErrUnauthorized.
func New(cfg Config, embedder ai.Embedder, gen Generator, orch *retrieval.Orchestrator, gate *circle.Gate, labeler *circle.Labeler, logger *slog.Logger) (*Engine, error) {
	if embedder == nil {
		return nil, errors.New("race: embedder is required")
	}
	if gen == nil {
		return nil, errors.New("race: generator is required")
	}
	if orch == nil {
		return nil, errors.New("race: orchestrator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tz := cfg.DefaultTimezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("race: loading default timezone %q: %w", tz, err)
	}

	if cfg.MaxContextLength <= 0 {
		cfg.MaxContextLength = assemble.DefaultMaxLength
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = defaultUpstreamTimeout
	}

	return &Engine{
		cfg:      cfg,
		embedder: embedder,
		gen:      gen,
		orch:     orch,
		gate:     gate,
		labeler:  labeler,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}, nil
}

// Query answers a question against the user's own records.
func (e *Engine) Query(ctx context.Context, req Request) (*Answer, error) {
	return e.QueryWithHistory(ctx, req, nil)
}

// QueryWithHistory answers a question with prior conversation turns
// forwarded to the generation model. History does not influence
// retrieval; only the current question is embedded.
func (e *Engine) QueryWithHistory(ctx context.Context, req Request, history []Message) (*Answer, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	hints := intent.Classify(req.Query)
	var opts []retrieval.Option
	if hints.IsCountQuery || hints.IsAverageQuery || hints.IsComparisonQuery {
		// Aggregations need breadth over precision.
		opts = append(opts, retrieval.WithTopK(retrieval.BroadTopK))
	}
	e.logger.Debug("classified query",
		"user_id", req.UserID,
		"data_type", hints.SuggestedDataType,
		"activity", hints.SuggestedActivity,
		"count", hints.IsCountQuery,
		"average", hints.IsAverageQuery,
		"comparison", hints.IsComparisonQuery)

	return e.run(ctx, pipeline{
		scope:    retrieval.UserScope(req.UserID),
		query:    req.Query,
		timezone: req.Timezone,
		history:  history,
		opts:     opts,
	})
}

// QueryByDataType answers a question restricted to one data category
// such as "health" or "location".
func (e *Engine) QueryByDataType(ctx context.Context, req Request, dataType string) (*Answer, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if dataType == "" {
		return nil, fmt.Errorf("%w: data type must not be empty", ErrInvalidInput)
	}

	return e.run(ctx, pipeline{
		scope:    retrieval.UserScope(req.UserID),
		query:    req.Query,
		timezone: req.Timezone,
		opts: []retrieval.Option{
			retrieval.WithTypeFilter(retrieval.NewTypeFilter(dataType)),
			retrieval.WithTopK(retrieval.BroadTopK),
		},
	})
}

// QueryByActivity answers a question about a named activity. The
// activity biases the embedding and widens retrieval; it does not hard
// filter, since activity mentions live in free text rather than in a
// dedicated type tag.
func (e *Engine) QueryByActivity(ctx context.Context, req Request, activity string) (*Answer, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if activity == "" {
		return nil, fmt.Errorf("%w: activity must not be empty", ErrInvalidInput)
	}

	return e.run(ctx, pipeline{
		scope:     retrieval.UserScope(req.UserID),
		query:     req.Query,
		embedText: activity + ": " + req.Query,
		timezone:  req.Timezone,
		opts:      []retrieval.Option{retrieval.WithTopK(retrieval.BroadTopK)},
	})
}

// QueryCircleContext answers a question against the shared records of a
// circle's members. Membership is verified first and the circle's
// sharing flags restrict which categories retrieval may touch. Results
// carry attribution labels with the caller always rendered as
// circle.CallerLabel.
func (e *Engine) QueryCircleContext(ctx context.Context, req CircleRequest) (*Answer, error) {
	if req.CircleID == "" || req.CallerID == "" {
		return nil, fmt.Errorf("%w: circle id and caller id must not be empty", ErrInvalidInput)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	if e.gate == nil || e.labeler == nil {
		return nil, fmt.Errorf("%w: circle queries are not enabled", ErrUnauthorized)
	}

	c, err := e.gate.Authorize(ctx, req.CircleID, req.CallerID)
	if err != nil {
		switch {
		case errors.Is(err, circle.ErrNotMember),
			errors.Is(err, circle.ErrNotFound),
			errors.Is(err, circle.ErrInvalidCircle):
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
		}
	}

	return e.run(ctx, pipeline{
		scope:    retrieval.CircleScope(c.MemberIDs),
		query:    req.Query,
		timezone: req.Timezone,
		opts: []retrieval.Option{
			retrieval.WithTypeFilter(circle.BuildFilter(c.Sharing)),
			retrieval.WithTopK(retrieval.BroadTopK),
		},
		labels: func(ctx context.Context, items []retrieval.Item) func(string) string {
			ids := make([]string, 0, len(items))
			for _, it := range items {
				ids = append(ids, it.UserID)
			}
			labels := e.labeler.Labels(ctx, ids, req.CallerID)
			return func(userID string) string { return labels[userID] }
		},
	})
}

// pipeline carries one query through the shared stages.
type pipeline struct {
	scope retrieval.Scope
	query string

	// embedText overrides the text sent to the embedder; empty means the
	// query itself.
	embedText string

	timezone string
	history  []Message
	opts     []retrieval.Option

	// labels resolves attribution labels from the retrieved items, after
	// retrieval and before assembly. Nil means no attribution prefixes.
	labels func(ctx context.Context, items []retrieval.Item) func(string) string
}

// run executes parse, embed, retrieve, assemble and generate for one
// already validated request.
func (e *Engine) run(ctx context.Context, p pipeline) (*Answer, error) {
	loc := e.loc
	if p.timezone != "" {
		var err error
		loc, err = time.LoadLocation(p.timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, p.timezone)
		}
	}

	ti := temporal.Parse(p.query, e.now().In(loc))
	if ti.HasIntent {
		e.logger.Debug("temporal intent detected",
			"label", ti.Label,
			"start", ti.Range.Start,
			"end", ti.Range.End)
	}

	upstream, cancel := context.WithTimeout(ctx, e.cfg.UpstreamTimeout)
	defer cancel()

	embedText := p.embedText
	if embedText == "" {
		embedText = p.query
	}
	embedding, err := e.embed(upstream, embedText)
	if err != nil {
		return nil, err
	}

	result, err := e.orch.Retrieve(upstream, p.scope, embedding, ti, p.opts...)
	if err != nil {
		if errors.Is(err, retrieval.ErrInvalidQuery) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	// Label resolution shares the upstream timeout so a hung profile
	// lookup degrades to placeholders instead of stalling the request.
	var labelFn func(string) string
	if p.labels != nil {
		labelFn = p.labels(upstream, result.Vectors)
	}

	out := assemble.Assemble(result.Vectors, result.Events, assemble.Options{
		MaxLength: e.cfg.MaxContextLength,
		LabelFn:   labelFn,
	})

	response, err := e.gen.Complete(ctx, GenerateRequest{
		System:  systemPrompt,
		History: p.history,
		Query:   p.query,
		Context: out.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	e.logger.Info("query answered",
		"scope_size", len(p.scope.UserIDs()),
		"vectors", len(result.Vectors),
		"events", len(result.Events),
		"context_chars", len(out.Context))

	return &Answer{Response: response, ContextUsed: out.References}, nil
}

// embed turns text into a query embedding via the configured provider.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: provider returned no embedding", ErrEmbedding)
	}
	return resp.Embeddings[0].Embedding, nil
}

func validateRequest(req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id must not be empty", ErrInvalidInput)
	}
	if req.Query == "" {
		return fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	return nil
}

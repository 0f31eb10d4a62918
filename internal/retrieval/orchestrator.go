package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/recall0/recall/internal/temporal"
)

// Sentinel errors for retrieval, checked with errors.Is().
var (
	// ErrVectorIndex indicates the vector-index query failed. This is
	// fatal for the whole retrieval: without semantic matches there is
	// nothing to ground an answer in.
	ErrVectorIndex = errors.New("vector index query failed")

	// ErrInvalidQuery indicates a malformed scope or embedding, caught
	// before any store is contacted.
	ErrInvalidQuery = errors.New("invalid retrieval query")
)

const (
	// DefaultTopK is the nearest-neighbor count for plain queries.
	DefaultTopK = 10

	// BroadTopK is used for activity-scoped and circle queries, where
	// recall matters more than precision.
	BroadTopK = 20

	// eventLimit bounds the events fetched per user for a temporal query.
	eventLimit = 50

	// eventFanout bounds concurrent event-store calls for circle scopes.
	eventFanout = 8
)

// Result holds the merged output of one retrieval: vector matches and,
// for temporal queries, extracted events. Either slice may be empty.
type Result struct {
	Vectors []Item
	Events  []Item
}

// Option configures a single Retrieve call.
type Option func(*retrieveConfig)

type retrieveConfig struct {
	topK   int
	filter TypeFilter
}

// WithTopK overrides the nearest-neighbor count for this retrieval.
func WithTopK(k int) Option {
	return func(c *retrieveConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithTypeFilter restricts vector matches to the filter's type tags.
func WithTypeFilter(f TypeFilter) Option {
	return func(c *retrieveConfig) {
		c.filter = f
	}
}

// Orchestrator fans a query out to the vector index and, when temporal
// intent exists, the event store, and merges the results.
//
// Orchestrator is stateless apart from its injected ports and is safe for
// concurrent use by multiple goroutines.
type Orchestrator struct {
	index  VectorIndex
	events EventStore
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator. events may be nil when no event
// store is deployed; temporal queries then return vector matches only.
func NewOrchestrator(index VectorIndex, events EventStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		index:  index,
		events: events,
		logger: logger,
	}
}

// Retrieve issues the vector-index query and, if intent carries a date
// range, a concurrent event-store query across the scope's users.
//
// Failure policy: an event-store failure is recovered locally — it is
// logged and the result simply has no events. A vector-index failure is
// fatal and returned wrapped in ErrVectorIndex. Both calls honor ctx
// cancellation; a timeout is treated the same as an error on each side.
func (o *Orchestrator) Retrieve(ctx context.Context, scope Scope, embedding []float32, intent temporal.Intent, opts ...Option) (Result, error) {
	if scope.Empty() {
		return Result{}, fmt.Errorf("%w: empty scope", ErrInvalidQuery)
	}
	if len(embedding) == 0 {
		return Result{}, fmt.Errorf("%w: empty embedding", ErrInvalidQuery)
	}

	cfg := retrieveConfig{topK: DefaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}

	query := VectorQuery{
		Embedding: embedding,
		ScopeIDs:  scope.UserIDs(),
		TopK:      cfg.topK,
		Filter:    cfg.filter,
	}
	if intent.HasIntent {
		r := intent.Range
		query.DateRange = &r
	}

	var (
		wg        sync.WaitGroup
		vectors   []Item
		vectorErr error
		events    []Item
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		vectors, vectorErr = o.index.Query(ctx, query)
	}()

	if intent.HasIntent && o.events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events = o.collectEvents(ctx, scope.UserIDs(), intent)
		}()
	}

	wg.Wait()

	if vectorErr != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrVectorIndex, vectorErr)
	}

	return Result{Vectors: vectors, Events: events}, nil
}

// collectEvents fans out over the scope's users with bounded concurrency
// and merges their events, newest first. Per-user failures are logged and
// skipped; the retrieval continues with whatever events were fetched.
func (o *Orchestrator) collectEvents(ctx context.Context, userIDs []string, intent temporal.Intent) []Item {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		merged []Item
	)

	sem := make(chan struct{}, eventFanout)
	for _, userID := range userIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			items, err := o.events.Events(ctx, userID, intent.Range.Start, intent.Range.End, eventLimit)
			if err != nil {
				// Degrade, never fail the request over missing events.
				o.logger.Warn("event store query failed, continuing without events",
					"user_id", userID, "label", intent.Label, "error", err)
				return
			}

			mu.Lock()
			merged = append(merged, items...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

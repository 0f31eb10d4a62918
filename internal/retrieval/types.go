// Package retrieval orchestrates parallel retrieval from the semantic
// vector index and the structured event store for a single query.
//
// The orchestrator always issues the vector-index query and, when the query
// carries temporal intent, a concurrent event-store query. The event side
// degrades silently on failure; the vector side is fatal. No state outlives
// a single call.
package retrieval

import (
	"context"
	"time"

	"github.com/recall0/recall/internal/temporal"
)

// Source identifies which store produced an Item.
type Source string

const (
	// SourceVector marks items returned by the semantic vector index.
	SourceVector Source = "vector"

	// SourceEvent marks items returned by the structured event store.
	SourceEvent Source = "event"
)

// DateFields are the metadata keys that may carry an item's timestamp,
// in lookup order. Upstream records predate a unified schema and are not
// guaranteed to share one field name.
var DateFields = []string{"date", "createdAt", "timestamp"}

// Item is the normalized union of a vector match and an extracted event.
// Score holds the similarity score for vector items and the extraction
// confidence for events, both in [0, 1]. An Item has no identity beyond
// its source record and lives for one request only.
type Item struct {
	ID        string
	Source    Source
	Score     float64
	Type      string
	Title     string
	Text      string
	UserID    string
	Timestamp time.Time
	Metadata  map[string]string
}

// ItemDate returns the item's timestamp, preferring the explicit Timestamp
// and falling back to the first parsable DateFields entry in Metadata.
func (it Item) ItemDate() (time.Time, bool) {
	if !it.Timestamp.IsZero() {
		return it.Timestamp, true
	}
	return FirstDate(it.Metadata)
}

// FirstDate returns the first parsable timestamp among DateFields in
// metadata. Accepts RFC 3339 and plain dates; anything else is skipped.
func FirstDate(metadata map[string]string) (time.Time, bool) {
	for _, field := range DateFields {
		raw, ok := metadata[field]
		if !ok || raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Scope identifies whose records a retrieval may touch: a single user or
// the members of a circle.
type Scope struct {
	userIDs []string
}

// UserScope scopes retrieval to one user's records.
func UserScope(userID string) Scope {
	return Scope{userIDs: []string{userID}}
}

// CircleScope scopes retrieval to a set of circle members.
func CircleScope(memberIDs []string) Scope {
	ids := make([]string, len(memberIDs))
	copy(ids, memberIDs)
	return Scope{userIDs: ids}
}

// UserIDs returns the user ids covered by the scope.
func (s Scope) UserIDs() []string {
	return s.userIDs
}

// Empty reports whether the scope covers no users.
func (s Scope) Empty() bool {
	return len(s.userIDs) == 0
}

// NoneType is the type tag a fail-closed filter matches against. No real
// record carries it, so a filter restricted to it returns nothing.
const NoneType = "__none__"

// TypeFilter restricts vector matches to a set of metadata type tags.
// The zero value imposes no restriction. A filter built with MatchNone
// positively excludes every type; it never degrades to a no-op.
type TypeFilter struct {
	allowed []string
	none    bool
}

// NewTypeFilter allows only the given type tags. With no arguments it
// returns the unrestricted zero filter.
func NewTypeFilter(types ...string) TypeFilter {
	if len(types) == 0 {
		return TypeFilter{}
	}
	allowed := make([]string, len(types))
	copy(allowed, types)
	return TypeFilter{allowed: allowed}
}

// MatchNone returns a filter that matches no type at all.
func MatchNone() TypeFilter {
	return TypeFilter{none: true}
}

// Unrestricted reports whether the filter imposes no type restriction.
func (f TypeFilter) Unrestricted() bool {
	return !f.none && len(f.allowed) == 0
}

// Types returns the tags retrieval may match. For a MatchNone filter it
// returns the NoneType sentinel so downstream predicates stay fail-closed.
// For an unrestricted filter it returns nil.
func (f TypeFilter) Types() []string {
	if f.none {
		return []string{NoneType}
	}
	if len(f.allowed) == 0 {
		return nil
	}
	out := make([]string, len(f.allowed))
	copy(out, f.allowed)
	return out
}

// Allows reports whether an item with the given type tag passes the filter.
func (f TypeFilter) Allows(typeTag string) bool {
	if f.none {
		return false
	}
	if len(f.allowed) == 0 {
		return true
	}
	for _, t := range f.allowed {
		if t == typeTag {
			return true
		}
	}
	return false
}

// VectorQuery is the request shape for the vector index port.
// When DateRange is set, the index must accept records whose timestamp
// falls in range under any of the DateFields names (OR semantics).
type VectorQuery struct {
	Embedding []float32
	ScopeIDs  []string
	TopK      int
	Filter    TypeFilter
	DateRange *temporal.Range
}

// VectorIndex is the port to the semantic vector store.
type VectorIndex interface {
	Query(ctx context.Context, q VectorQuery) ([]Item, error)
}

// EventStore is the port to the structured extracted-event store.
type EventStore interface {
	Events(ctx context.Context, userID string, start, end time.Time, limit int) ([]Item, error)
}

// Package circle gates multi-user retrieval behind circle membership and
// per-category sharing settings, and resolves result attribution labels.
//
// A circle is a private multi-user group whose owner controls, per data
// category, what members share with each other. Everything here is
// fail-closed: an unknown circle, a non-member caller or an all-off
// sharing configuration denies access rather than widening it.
package circle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/recall0/recall/internal/retrieval"
)

// Sentinel errors checked with errors.Is().
var (
	// ErrNotFound indicates the circle does not exist.
	ErrNotFound = errors.New("circle not found")

	// ErrNotMember indicates the caller is not a member of the circle.
	ErrNotMember = errors.New("caller is not a circle member")

	// ErrInvalidCircle indicates a circle record violating invariants,
	// such as an empty member set.
	ErrInvalidCircle = errors.New("invalid circle")
)

// Vector type tags gated by the five sharing flags.
const (
	TypeHealth         = "health"
	TypeLocation       = "location"
	TypeSharedActivity = "shared_activity"
	TypeVoice          = "voice"
	TypePhoto          = "photo"
)

// CallerLabel is the attribution label for the caller's own records in a
// circle context, used regardless of profile lookup results.
const CallerLabel = "You"

// placeholderLabel stands in when a member's profile lookup fails.
const placeholderLabel = "A circle member"

// Sharing holds a circle's per-category sharing flags. Each flag gates
// one vector type tag independently.
type Sharing struct {
	Health     bool `json:"shareHealth"`
	Location   bool `json:"shareLocation"`
	Activities bool `json:"shareActivities"`
	VoiceNotes bool `json:"shareVoiceNotes"`
	Photos     bool `json:"sharePhotos"`
}

// Circle is a read-only view of a circle's configuration. Ownership of
// the underlying record stays with the external store.
type Circle struct {
	ID        string
	Name      string
	MemberIDs []string
	Sharing   Sharing
}

// HasMember reports whether userID belongs to the circle.
func (c *Circle) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Profile is the subset of a user profile needed for attribution.
type Profile struct {
	DisplayName string
}

// Directory is the port to circle and profile storage.
type Directory interface {
	// Circle loads a circle by id. Implementations return ErrNotFound
	// (possibly wrapped) for unknown ids.
	Circle(ctx context.Context, circleID string) (*Circle, error)

	// Profile loads a user's profile for display-name resolution.
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// Gate validates circle access before any multi-user retrieval.
type Gate struct {
	dir    Directory
	logger *slog.Logger
}

// NewGate creates a Gate backed by the given directory.
func NewGate(dir Directory, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{dir: dir, logger: logger}
}

// Authorize loads the circle and verifies callerID is a member. It must
// be called before the orchestrator touches any member's data; failures
// are returned as errors, never as silently empty results.
func (g *Gate) Authorize(ctx context.Context, circleID, callerID string) (*Circle, error) {
	c, err := g.dir.Circle(ctx, circleID)
	if err != nil {
		return nil, fmt.Errorf("loading circle %s: %w", circleID, err)
	}

	if len(c.MemberIDs) == 0 {
		return nil, fmt.Errorf("%w: circle %s has no members", ErrInvalidCircle, circleID)
	}
	if !c.HasMember(callerID) {
		g.logger.Warn("circle access denied", "circle_id", circleID, "caller_id", callerID)
		return nil, fmt.Errorf("%w: user %s in circle %s", ErrNotMember, callerID, circleID)
	}

	return c, nil
}

// BuildFilter maps a circle's sharing flags to the retrieval type filter.
// Every enabled flag contributes its fixed type tag. When all flags are
// off the result is a match-nothing filter, never an unrestricted one:
// absence of sharing must exclude, not include.
func BuildFilter(s Sharing) retrieval.TypeFilter {
	var types []string
	if s.Health {
		types = append(types, TypeHealth)
	}
	if s.Location {
		types = append(types, TypeLocation)
	}
	if s.Activities {
		types = append(types, TypeSharedActivity)
	}
	if s.VoiceNotes {
		types = append(types, TypeVoice)
	}
	if s.Photos {
		types = append(types, TypePhoto)
	}

	if len(types) == 0 {
		return retrieval.MatchNone()
	}
	return retrieval.NewTypeFilter(types...)
}

// labelFanout bounds concurrent profile lookups.
const labelFanout = 8

// Labeler resolves result attribution labels for circle contexts.
type Labeler struct {
	dir    Directory
	logger *slog.Logger
}

// NewLabeler creates a Labeler backed by the given directory.
func NewLabeler(dir Directory, logger *slog.Logger) *Labeler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Labeler{dir: dir, logger: logger}
}

// Labels resolves display names for the given user ids with a bounded
// concurrent fan-out. The caller's id always maps to CallerLabel without
// a lookup. A failed lookup degrades that one user to a placeholder; it
// never fails the request.
func (l *Labeler) Labels(ctx context.Context, userIDs []string, callerID string) map[string]string {
	labels := make(map[string]string, len(userIDs)+1)
	labels[callerID] = CallerLabel

	unique := make([]string, 0, len(userIDs))
	seen := map[string]struct{}{callerID: {}}
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	sem := make(chan struct{}, labelFanout)
	for _, userID := range unique {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			label := placeholderLabel
			profile, err := l.dir.Profile(ctx, userID)
			if err != nil {
				l.logger.Warn("profile lookup failed, using placeholder",
					"user_id", userID, "error", err)
			} else if profile.DisplayName != "" {
				label = profile.DisplayName
			}

			mu.Lock()
			labels[userID] = label
			mu.Unlock()
		}()
	}
	wg.Wait()

	return labels
}

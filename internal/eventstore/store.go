// Package eventstore persists structured events extracted from personal
// records (appointments, workouts, meals) and serves the temporal side of
// retrieval.
//
// The Store implements retrieval.EventStore.
package eventstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/recall0/recall/internal/retrieval"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Event is one extracted event. Confidence is the extractor's score in
// [0, 1]; OccurredAt is when the event happened, not when it was stored.
type Event struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Confidence  float64
	OccurredAt  time.Time
}

// Store manages extracted events.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Add inserts an event. A missing ID is generated.
func (s *Store) Add(ctx context.Context, ev Event) error {
	if ev.UserID == "" {
		return fmt.Errorf("event user id must not be empty")
	}
	if ev.Title == "" {
		return fmt.Errorf("event title must not be empty")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO personal_events (id, user_id, title, description, confidence, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			confidence = EXCLUDED.confidence,
			occurred_at = EXCLUDED.occurred_at`,
		ev.ID, ev.UserID, ev.Title, ev.Description, ev.Confidence, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("inserting event %q: %w", ev.ID, err)
	}

	s.logger.Debug("stored event", "id", ev.ID, "title", ev.Title, "occurred_at", ev.OccurredAt)
	return nil
}

// Events implements retrieval.EventStore: one user's events inside the
// window, newest first, capped at limit.
func (s *Store) Events(ctx context.Context, userID string, start, end time.Time, limit int) ([]retrieval.Item, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, description, confidence, occurred_at
		FROM personal_events
		WHERE user_id = $1 AND occurred_at BETWEEN $2 AND $3
		ORDER BY occurred_at DESC
		LIMIT $4`,
		userID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events for %q: %w", userID, err)
	}
	defer rows.Close()

	var items []retrieval.Item
	for rows.Next() {
		var item retrieval.Item
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Text,
			&item.Score, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		item.Source = retrieval.SourceEvent
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}

	return items, nil
}

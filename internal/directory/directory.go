// Package directory is the PostgreSQL implementation of circle and
// profile storage behind circle.Directory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/recall0/recall/internal/circle"
)

// DB is the subset of pgxpool.Pool the directory needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Directory loads circles and profiles from PostgreSQL. It implements
// circle.Directory.
type Directory struct {
	db     DB
	logger *slog.Logger
}

// New creates a Directory.
func New(db DB, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{db: db, logger: logger}
}

// Circle loads a circle with its member ids and sharing flags. Unknown
// ids return circle.ErrNotFound.
func (d *Directory) Circle(ctx context.Context, circleID string) (*circle.Circle, error) {
	row := d.db.QueryRow(ctx, `
		SELECT c.id, c.name,
		       c.share_health, c.share_location, c.share_activities,
		       c.share_voice_notes, c.share_photos,
		       COALESCE(array_agg(m.user_id) FILTER (WHERE m.user_id IS NOT NULL), '{}')
		FROM circles c
		LEFT JOIN circle_members m ON m.circle_id = c.id
		WHERE c.id = $1
		GROUP BY c.id`,
		circleID)

	var c circle.Circle
	err := row.Scan(&c.ID, &c.Name,
		&c.Sharing.Health, &c.Sharing.Location, &c.Sharing.Activities,
		&c.Sharing.VoiceNotes, &c.Sharing.Photos,
		&c.MemberIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", circle.ErrNotFound, circleID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading circle %q: %w", circleID, err)
	}

	return &c, nil
}

// Profile loads a user's profile. Unknown ids return circle.ErrNotFound.
func (d *Directory) Profile(ctx context.Context, userID string) (*circle.Profile, error) {
	var p circle.Profile
	err := d.db.QueryRow(ctx,
		`SELECT display_name FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile %s", circle.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile %q: %w", userID, err)
	}

	return &p, nil
}

// SaveCircle upserts a circle's settings and replaces its member set.
func (d *Directory) SaveCircle(ctx context.Context, c circle.Circle) error {
	if c.ID == "" {
		return fmt.Errorf("circle id must not be empty")
	}

	_, err := d.db.Exec(ctx, `
		INSERT INTO circles (id, name, share_health, share_location, share_activities,
		                     share_voice_notes, share_photos)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			share_health = EXCLUDED.share_health,
			share_location = EXCLUDED.share_location,
			share_activities = EXCLUDED.share_activities,
			share_voice_notes = EXCLUDED.share_voice_notes,
			share_photos = EXCLUDED.share_photos`,
		c.ID, c.Name, c.Sharing.Health, c.Sharing.Location, c.Sharing.Activities,
		c.Sharing.VoiceNotes, c.Sharing.Photos)
	if err != nil {
		return fmt.Errorf("upserting circle %q: %w", c.ID, err)
	}

	if _, err := d.db.Exec(ctx, `DELETE FROM circle_members WHERE circle_id = $1`, c.ID); err != nil {
		return fmt.Errorf("clearing members of %q: %w", c.ID, err)
	}
	for _, userID := range c.MemberIDs {
		if _, err := d.db.Exec(ctx,
			`INSERT INTO circle_members (circle_id, user_id) VALUES ($1, $2)`,
			c.ID, userID); err != nil {
			return fmt.Errorf("adding member %q to %q: %w", userID, c.ID, err)
		}
	}

	d.logger.Debug("saved circle", "id", c.ID, "members", len(c.MemberIDs))
	return nil
}

// SaveProfile upserts a user's profile.
func (d *Directory) SaveProfile(ctx context.Context, userID, displayName string) error {
	if userID == "" {
		return fmt.Errorf("user id must not be empty")
	}
	_, err := d.db.Exec(ctx, `
		INSERT INTO profiles (user_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		userID, displayName)
	if err != nil {
		return fmt.Errorf("upserting profile %q: %w", userID, err)
	}
	return nil
}

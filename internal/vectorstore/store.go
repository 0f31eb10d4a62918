// Package vectorstore persists personal records with their embeddings in
// PostgreSQL + pgvector and serves the semantic side of retrieval.
//
// The Store implements retrieval.VectorIndex. Similarity is cosine, scored
// as 1 - distance so higher is better.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/recall0/recall/internal/retrieval"
)

// VectorDimension is the width of the documents.embedding column. Every
// embedding written or queried must have exactly this many dimensions;
// app setup pins the provider's output to it.
const VectorDimension int32 = 768

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// DB is the subset of pgxpool.Pool the store needs. Defined here so tests
// and transactions can stand in for the pool.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Document is one personal record to index: a diary entry, a photo
// caption, a health note. Metadata may carry the record's own date under
// "date", "createdAt" or "timestamp"; retrieval filters on those fields.
type Document struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Store manages indexed documents. It embeds content on write via the
// configured embedder; query embeddings are supplied by the caller.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store.
func New(db DB, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}
}

// Add embeds the document's content and upserts it.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.UserID == "" {
		return fmt.Errorf("document id and user id must not be empty")
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(doc.Content, nil)},
	})
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return fmt.Errorf("empty embedding returned for document %q", doc.ID)
	}
	embedding := pgvector.NewVector(resp.Embeddings[0].Embedding)

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
	}

	createdAt := pgtype.Timestamptz{Time: doc.CreatedAt, Valid: !doc.CreatedAt.IsZero()}

	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (id, user_id, doc_type, title, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			doc_type = EXCLUDED.doc_type,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`,
		doc.ID, doc.UserID, doc.Type, doc.Title, doc.Content, metadataJSON, embedding, createdAt)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("indexed document", "id", doc.ID, "type", doc.Type, "content_length", len(doc.Content))
	return nil
}

// Query implements retrieval.VectorIndex: cosine nearest neighbors over
// the scoped users, optionally restricted by type tags and a date range.
//
// The date range matches records whose metadata carries a parsable
// timestamp in any of the known date fields; try_timestamptz (defined in
// the schema migrations) absorbs unparsable values as NULL.
func (s *Store) Query(ctx context.Context, q retrieval.VectorQuery) ([]retrieval.Item, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("query embedding must not be empty")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	embedding := pgvector.NewVector(q.Embedding)
	types := q.Filter.Types()

	var from, to pgtype.Timestamptz
	if q.DateRange != nil {
		from = pgtype.Timestamptz{Time: q.DateRange.Start, Valid: true}
		to = pgtype.Timestamptz{Time: q.DateRange.End, Valid: true}
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, doc_type, title, content, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM documents
		WHERE user_id = ANY($2)
		  AND ($3::text[] IS NULL OR doc_type = ANY($3))
		  AND ($4::timestamptz IS NULL OR
		       try_timestamptz(metadata->>'date') BETWEEN $4 AND $5 OR
		       try_timestamptz(metadata->>'createdAt') BETWEEN $4 AND $5 OR
		       try_timestamptz(metadata->>'timestamp') BETWEEN $4 AND $5)
		ORDER BY embedding <=> $1
		LIMIT $6`,
		embedding, q.ScopeIDs, types, from, to, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var items []retrieval.Item
	for rows.Next() {
		var (
			item         retrieval.Item
			metadataJSON []byte
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.Type, &item.Title, &item.Text,
			&metadataJSON, &item.Score); err != nil {
			return nil, fmt.Errorf("scanning vector match: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
				s.logger.Warn("unparsable document metadata", "document_id", item.ID, "error", err)
				item.Metadata = nil
			}
		}
		item.Source = retrieval.SourceVector
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading vector matches: %w", err)
	}

	return items, nil
}

// Delete removes a document by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Count returns the number of documents indexed for a user.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents for %q: %w", userID, err)
	}
	return count, nil
}

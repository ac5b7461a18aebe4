// Package faq holds the knowledge-entry data model and its PostgreSQL
// store. Vector similarity search is backed by pgvector's cosine distance
// operator; embeddings are written by the background indexer and read by
// the query pipeline, with no locking between the two (eventual
// consistency is accepted).
package faq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound indicates the referenced entry does not exist.
var ErrNotFound = errors.New("entry not found")

// EntryType is the content-type identifier for knowledge entries, matching
// the key used in the field-selection configuration.
const EntryType = "faq"

// DB is the database surface Store needs. Defined by the consumer so that
// *pgxpool.Pool, a single *pgx.Conn, or a transaction all satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store manages knowledge entries. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store. A nil logger falls back to slog.Default().
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// SearchNearest returns the k published, embedded entries nearest to the
// query vector under cosine distance, in ascending distance order. An
// empty result is valid: it means the store holds no candidate rows.
func (s *Store) SearchNearest(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("top-k must be positive, got %d", k)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, question, answer,
		       (embedding <=> $1) AS distance
		FROM faqs
		WHERE published_at IS NOT NULL
		  AND embedding IS NOT NULL
		ORDER BY distance ASC
		LIMIT $2`,
		pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m     Match
			docID pgtype.Text
		)
		if err := rows.Scan(&m.Entry.ID, &docID, &m.Entry.Question, &m.Entry.Answer, &m.Distance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		m.Entry.DocumentID = docID.String
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	return matches, nil
}

// SetEmbedding writes the entry's embedding vector. The stable document id
// keys the write when present; the numeric id is the fallback. This is the
// indexer's write path and races with concurrent re-index tasks for the
// same entry: last completed write wins.
func (s *Store) SetEmbedding(ctx context.Context, ref Ref, vec []float32) error {
	var (
		tag pgconn.CommandTag
		err error
	)

	if ref.DocumentID != "" {
		tag, err = s.db.Exec(ctx, `
			UPDATE faqs SET embedding = $1, updated_at = now()
			WHERE document_id = $2`,
			pgvector.NewVector(vec), ref.DocumentID)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE faqs SET embedding = $1, updated_at = now()
			WHERE id = $2`,
			pgvector.NewVector(vec), ref.ID)
	}
	if err != nil {
		return fmt.Errorf("updating embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	s.logger.Debug("embedding saved", "ref", ref, "dim", len(vec))
	return nil
}

// Get returns one entry by stable document id.
func (s *Store) Get(ctx context.Context, documentID string) (Entry, error) {
	var (
		e         Entry
		docID     pgtype.Text
		published pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, document_id, question, answer, published_at, created_at, updated_at
		FROM faqs
		WHERE document_id = $1`,
		documentID).Scan(&e.ID, &docID, &e.Question, &e.Answer, &published, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: document %q", ErrNotFound, documentID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("fetching entry: %w", err)
	}

	e.DocumentID = docID.String
	if published.Valid {
		t := published.Time
		e.PublishedAt = &t
	}
	return e, nil
}

// List returns up to limit entries ordered by id, drafts included. Used by
// the bulk reindex command, which must re-embed unpublished rows too so
// they are retrievable the moment they are published.
func (s *Store) List(ctx context.Context, limit int32) ([]Entry, error) {
	const maxListLimit = 10_000
	if limit <= 0 || limit > maxListLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxListLimit, limit)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, document_id, question, answer, published_at, created_at, updated_at
		FROM faqs
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			docID     pgtype.Text
			published pgtype.Timestamptz
		)
		if err := rows.Scan(&e.ID, &docID, &e.Question, &e.Answer, &published, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning entry row: %w", err)
		}
		e.DocumentID = docID.String
		if published.Valid {
			t := published.Time
			e.PublishedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entry rows: %w", err)
	}

	return entries, nil
}

// String renders a Ref for logs and error messages.
func (r Ref) String() string {
	if r.DocumentID != "" {
		return "doc:" + r.DocumentID
	}
	return fmt.Sprintf("id:%d", r.ID)
}

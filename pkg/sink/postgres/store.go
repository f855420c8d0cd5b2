// Package postgres provides the PostgreSQL status sink. Rows are keyed by a
// derived external identifier so downstream CRM consumers never see raw
// tenant session ids.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/txn2/msgbridge/pkg/sink"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements sink.Sink using PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a PostgreSQL status sink over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// ExternalID derives the stable external identifier for a session id.
func ExternalID(sessionID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("msgbridge:"+sessionID))
}

// Upsert writes the latest status projection for the session.
func (s *Store) Upsert(ctx context.Context, sessionID string, u sink.Update) error {
	query, args, err := psq.Insert("session_status").
		Columns("external_id", "session_id", "status", "artifact", "identity", "updated_at").
		Values(ExternalID(sessionID), sessionID, u.Status, u.Artifact, u.Identity, s.now()).
		Suffix(`ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			artifact = EXCLUDED.artifact,
			identity = EXCLUDED.identity,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building status upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting status for %s: %w", sessionID, err)
	}
	return nil
}

// Get reads the projected status row for a session id.
// Returns nil, nil when no row exists.
func (s *Store) Get(ctx context.Context, sessionID string) (*Row, error) {
	query, args, err := psq.Select("external_id", "session_id", "status", "artifact", "identity", "updated_at").
		From("session_status").
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building status select: %w", err)
	}

	var row Row
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&row.ExternalID, &row.SessionID, &row.Status, &row.Artifact, &row.Identity, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // not-found is nil,nil by convention here
	}
	if err != nil {
		return nil, fmt.Errorf("reading status for %s: %w", sessionID, err)
	}
	return &row, nil
}

// Delete removes the projected status row for a session id.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	query, args, err := psq.Delete("session_status").
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building status delete: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting status for %s: %w", sessionID, err)
	}
	return nil
}

// Row is one projected status record.
type Row struct {
	ExternalID uuid.UUID
	SessionID  string
	Status     string
	Artifact   []byte
	Identity   string
	UpdatedAt  time.Time
}

// Verify interface compliance.
var _ sink.Sink = (*Store)(nil)

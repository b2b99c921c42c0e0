package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/livecapture/internal/session"
	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/andresmejia3/livecapture/internal/utils"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Store keeps completed capture sessions and their photos in PostgreSQL.
type Store struct {
	conn *pgx.Conn
}

// SessionSummary is one row of ListSessions.
type SessionSummary struct {
	ID          uuid.UUID
	StartedAt   time.Time
	CompletedAt time.Time
	Photos      int
	Bytes       int64
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS capture_sessions (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			stored_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS capture_photos (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES capture_sessions(id) ON DELETE CASCADE,
			phase TEXT NOT NULL,
			phase_index INT NOT NULL,
			seq INT NOT NULL,
			digest TEXT NOT NULL,
			data BYTEA NOT NULL,
			UNIQUE (session_id, phase_index, seq)
		);
		CREATE INDEX IF NOT EXISTS capture_photos_session_id_idx ON capture_photos (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Submit stores a completed session.
func (s *Store) Submit(ctx context.Context, r session.Result) error {
	return s.SaveSession(ctx, r)
}

// SaveSession writes the session and all of its photos in one transaction.
// Saving the same session again replaces its photos.
func (s *Store) SaveSession(ctx context.Context, r session.Result) error {
	if len(r.Photos) == 0 {
		return fmt.Errorf("session %s has no photos", r.SessionID)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id := r.SessionID.String()
	if _, err := tx.Exec(ctx, "DELETE FROM capture_photos WHERE session_id = $1::uuid", id); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO capture_sessions (id, started_at, completed_at, stored_at)
		VALUES ($1::uuid, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET completed_at = EXCLUDED.completed_at, stored_at = NOW()
	`, id, r.StartedAt, r.CompletedAt)
	if err != nil {
		return err
	}

	rows := make([][]any, len(r.Photos))
	for i, p := range r.Photos {
		rows[i] = []any{r.SessionID, p.Phase.String(), int(p.Phase), p.Seq, utils.PhotoDigest(p.Data), p.Data}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"capture_photos"},
		[]string{"session_id", "phase", "phase_index", "seq", "digest", "data"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy photos: %w", err)
	}

	return tx.Commit(ctx)
}

// ListSessions returns stored sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id::text, s.started_at, s.completed_at, COUNT(p.id), COALESCE(SUM(LENGTH(p.data)), 0)
		FROM capture_sessions s
		LEFT JOIN capture_photos p ON p.session_id = s.id
		GROUP BY s.id
		ORDER BY s.completed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum SessionSummary
			id  string
		)
		if err := rows.Scan(&id, &sum.StartedAt, &sum.CompletedAt, &sum.Photos, &sum.Bytes); err != nil {
			return nil, err
		}
		if sum.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetSession loads a stored session with its photos in capture order.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (session.Result, error) {
	res := session.Result{SessionID: id}
	err := s.conn.QueryRow(ctx,
		"SELECT started_at, completed_at FROM capture_sessions WHERE id = $1::uuid", id.String(),
	).Scan(&res.StartedAt, &res.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return session.Result{}, err
	}

	rows, err := s.conn.Query(ctx, `
		SELECT phase_index, seq, data FROM capture_photos
		WHERE session_id = $1::uuid
		ORDER BY phase_index, seq
	`, id.String())
	if err != nil {
		return session.Result{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			phase int
			p     session.Photo
		)
		if err := rows.Scan(&phase, &p.Seq, &p.Data); err != nil {
			return session.Result{}, err
		}
		p.Phase = types.ScanPhase(phase)
		res.Photos = append(res.Photos, p)
	}
	return res, rows.Err()
}

// DeleteSession removes a session and its photos.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM capture_sessions WHERE id = $1::uuid", id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS capture_photos CASCADE;
		DROP TABLE IF EXISTS capture_sessions CASCADE;
	`)
	return err
}

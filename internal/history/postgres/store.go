// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/meetrec/internal/history"
)

var _ history.Store = (*Store)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS recording_sessions (
    session_id       UUID         PRIMARY KEY,
    title            TEXT         NOT NULL,
    started_at       TIMESTAMPTZ  NOT NULL,
    ended_at         TIMESTAMPTZ  NOT NULL,
    duration_ms      BIGINT       NOT NULL DEFAULT 0,
    encoding         TEXT         NOT NULL DEFAULT '',
    artifact_size    INTEGER      NOT NULL DEFAULT 0,
    inputs           SMALLINT     NOT NULL DEFAULT 0,
    final_state      TEXT         NOT NULL,
    error_kind       TEXT         NOT NULL DEFAULT '',
    transcription_id UUID,
    translation_id   UUID,
    analysis_id      UUID
);

CREATE INDEX IF NOT EXISTS idx_recording_sessions_started_at
    ON recording_sessions (started_at DESC);
`

// Migrate creates the history table if it does not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is the PostgreSQL history store. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements [history.Store].
func (s *Store) Save(ctx context.Context, e history.Entry) error {
	const q = `
		INSERT INTO recording_sessions
		    (session_id, title, started_at, ended_at, duration_ms, encoding,
		     artifact_size, inputs, final_state, error_kind,
		     transcription_id, translation_id, analysis_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (session_id) DO UPDATE SET
		    title            = EXCLUDED.title,
		    ended_at         = EXCLUDED.ended_at,
		    duration_ms      = EXCLUDED.duration_ms,
		    encoding         = EXCLUDED.encoding,
		    artifact_size    = EXCLUDED.artifact_size,
		    inputs           = EXCLUDED.inputs,
		    final_state      = EXCLUDED.final_state,
		    error_kind       = EXCLUDED.error_kind,
		    transcription_id = COALESCE(EXCLUDED.transcription_id, recording_sessions.transcription_id),
		    translation_id   = COALESCE(EXCLUDED.translation_id, recording_sessions.translation_id),
		    analysis_id      = COALESCE(EXCLUDED.analysis_id, recording_sessions.analysis_id)`

	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.Title,
		e.StartedAt,
		e.EndedAt,
		e.DurationMs,
		e.Encoding,
		e.ArtifactSize,
		e.Inputs,
		e.FinalState,
		e.ErrorKind,
		nullable(e.TranscriptionID),
		nullable(e.TranslationID),
		nullable(e.AnalysisID),
	)
	if err != nil {
		return fmt.Errorf("history store: save: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	const q = `
		SELECT session_id, title, started_at, ended_at, duration_ms, encoding,
		       artifact_size, inputs, final_state, error_kind,
		       transcription_id, translation_id, analysis_id
		FROM   recording_sessions
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}
	return entries, nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanEntry(row pgx.CollectableRow) (history.Entry, error) {
	var (
		e          history.Entry
		tr, tl, an *uuid.UUID
	)
	err := row.Scan(
		&e.SessionID,
		&e.Title,
		&e.StartedAt,
		&e.EndedAt,
		&e.DurationMs,
		&e.Encoding,
		&e.ArtifactSize,
		&e.Inputs,
		&e.FinalState,
		&e.ErrorKind,
		&tr, &tl, &an,
	)
	if err != nil {
		return e, err
	}
	e.TranscriptionID = deref(tr)
	e.TranslationID = deref(tl)
	e.AnalysisID = deref(an)
	return e, nil
}

// nullable maps the zero UUID to SQL NULL.
func nullable(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

// Package history keeps a record of past recording sessions: what was
// recorded, when, for how long, in which encoding, how it ended and which
// backend records it produced.
//
// Entries are keyed by session ID. Saving an entry for a session that already
// has one replaces it, so a session that is stopped, processed and finally
// discarded ends up as a single entry carrying its last state.
//
// Implementations of [Store] live in this package ([MemoryStore]) and in
// history/postgres. A [Journal] feeds a store from controller events without
// ever blocking the controller.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one session's history record.
type Entry struct {
	SessionID uuid.UUID `json:"session_id"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// DurationMs is the recorded time excluding pauses.
	DurationMs int64 `json:"duration_ms"`

	Encoding     string `json:"encoding,omitempty"`
	ArtifactSize int    `json:"artifact_size"`
	Inputs       int    `json:"inputs"`

	// FinalState is the last session state observed: stopped, done, failed
	// or discarded. A recording that produced no audio ends as idle with
	// ErrorKind set.
	FinalState string `json:"final_state"`
	ErrorKind  string `json:"error_kind,omitempty"`

	TranscriptionID uuid.UUID `json:"transcription_id,omitzero"`
	TranslationID   uuid.UUID `json:"translation_id,omitzero"`
	AnalysisID      uuid.UUID `json:"analysis_id,omitzero"`
}

// DefaultLimit is the number of entries [Store.Recent] returns for a
// non-positive limit.
const DefaultLimit = 20

// Store persists history entries. Implementations must be safe for concurrent
// use.
type Store interface {
	// Save inserts e or replaces the entry with the same SessionID.
	Save(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, most recently started first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

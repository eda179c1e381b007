// Package session implements the recording session controller: the state
// machine that ties device negotiation, mixing, chunk recording, the session
// clock and the processing pipeline together for the single local user.
//
// A [Controller] owns at most one session at a time. Operations that suspend
// (acquiring devices, waiting for the final recorder flush, uploading) run
// with the controller mutex released and a busy marker set, so concurrent
// callers are rejected with [ErrBusy] instead of interleaving. Every state
// change is published to registered observers.
package session

import (
	"errors"
	"fmt"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/pipeline"
	"github.com/MrWong99/meetrec/internal/recorder"
	"github.com/MrWong99/meetrec/pkg/audio"
)

// State is a session lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingSources State = "awaitingSources"
	StateRecording       State = "recording"
	StatePaused          State = "paused"
	StateStopped         State = "stopped"
	StateUploading       State = "uploading"
	StateDone            State = "done"
	StateFailed          State = "failed"

	// StateDiscarded is transient. It is published and immediately followed
	// by [StateIdle].
	StateDiscarded State = "discarded"
)

// Active reports whether the state holds live capture resources.
func (s State) Active() bool {
	return s == StateRecording || s == StatePaused
}

// Terminal reports whether the state ends a session's lifecycle as far as
// history is concerned.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateDone, StateFailed, StateDiscarded:
		return true
	}
	return false
}

var (
	// ErrBusy is returned while another operation with a suspension point is
	// still in flight.
	ErrBusy = errors.New("session: operation in progress")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrEmptyTitle is returned by Start when the title is blank.
	ErrEmptyTitle = errors.New("session: title is required")

	// ErrNoArtifact is returned by Process when there is nothing to upload.
	ErrNoArtifact = errors.New("session: no recording to process")

	// ErrDiscarded is returned by an operation whose session was discarded
	// while it was suspended. Its outcome has been dropped.
	ErrDiscarded = errors.New("session: session was discarded")
)

func invalid(op string, s State) error {
	return fmt.Errorf("%w: %s not allowed in state %s", ErrInvalidTransition, op, s)
}

// Error kinds reported alongside user messages.
const (
	KindPermissionDenied  = "permission_denied"
	KindDeviceUnavailable = "device_unavailable"
	KindDeviceBusy        = "device_busy"
	KindEnvironment       = "environment_unsupported"
	KindEmptyRecording    = "empty_recording"
	KindSessionExpired    = "session_expired"
	KindStage             = "stage_failed"
	KindBusy              = "busy"
	KindInvalidTransition = "invalid_transition"
	KindEmptyTitle        = "empty_title"
	KindNoArtifact        = "no_artifact"
	KindDiscarded         = "discarded"
	KindUnexpected        = "unexpected"
)

// Kind classifies err for API clients. It returns "" for a nil error.
func Kind(err error) string {
	var se *pipeline.StageError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, api.ErrSessionExpired):
		return KindSessionExpired
	case errors.As(err, &se):
		return KindStage
	case errors.Is(err, audio.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, audio.ErrDeviceBusy):
		return KindDeviceBusy
	case errors.Is(err, audio.ErrEnvironmentUnsupported):
		return KindEnvironment
	case errors.Is(err, recorder.ErrEmptyRecording):
		return KindEmptyRecording
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrEmptyTitle):
		return KindEmptyTitle
	case errors.Is(err, ErrNoArtifact):
		return KindNoArtifact
	case errors.Is(err, ErrDiscarded):
		return KindDiscarded
	default:
		return KindUnexpected
	}
}

// Describe maps err to a message that tells the user what happened and what
// to do next. It returns "" for a nil error.
func Describe(err error) string {
	switch Kind(err) {
	case "":
		return ""
	case KindSessionExpired:
		return "Session expired. Please login again."
	case KindStage:
		var se *pipeline.StageError
		errors.As(err, &se)
		return stageMessage(se)
	case KindPermissionDenied:
		return "Microphone access was denied. Allow microphone access and try again."
	case KindDeviceUnavailable:
		return "No microphone was found. Connect a microphone and try again."
	case KindDeviceBusy:
		return "The microphone is being used by another application. Close it and try again."
	case KindEnvironment:
		return "Audio capture is not supported on this system."
	case KindEmptyRecording:
		return "No audio was recorded. Check your microphone and record again."
	case KindBusy:
		return "Another action is still in progress. Please wait a moment."
	case KindInvalidTransition:
		return "That action is not available right now."
	case KindEmptyTitle:
		return "Please enter a meeting title before recording."
	case KindNoArtifact:
		return "There is no recording to process. Record a meeting first."
	case KindDiscarded:
		return "The session was discarded."
	default:
		return "Unexpected error: " + err.Error()
	}
}

func stageMessage(se *pipeline.StageError) string {
	var what string
	switch se.Stage {
	case pipeline.StageTranscribe:
		what = "Transcription failed"
	case pipeline.StageTranslate:
		what = "Translation failed"
	case pipeline.StageAnalyze:
		what = "Analysis failed"
	default:
		what = "Processing failed"
	}
	if se.Detail == "" {
		return what + ". You can retry processing."
	}
	return what + ": " + se.Detail + ". You can retry processing."
}

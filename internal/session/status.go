package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is a point-in-time view of the controller.
type Status struct {
	State     State     `json:"state"`
	Busy      bool      `json:"busy"`
	SessionID uuid.UUID `json:"session_id,omitzero"`
	Title     string    `json:"title,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	// ElapsedMs is the recorded time excluding pauses.
	ElapsedMs int64 `json:"elapsed_ms"`

	// Inputs is the number of mixed sources: 1 for microphone only, 2 when
	// system audio is included.
	Inputs int `json:"inputs,omitempty"`

	Encoding string `json:"encoding,omitempty"`

	// ArtifactSize is the number of encoded bytes so far while recording and
	// the finalized size afterwards.
	ArtifactSize int `json:"artifact_size,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	TranscriptionID uuid.UUID `json:"transcription_id,omitzero"`
	TranslationID   uuid.UUID `json:"translation_id,omitzero"`
	AnalysisID      uuid.UUID `json:"analysis_id,omitzero"`
}

// EventKind distinguishes state changes from clock samples.
type EventKind string

const (
	EventTransition EventKind = "transition"
	EventTick       EventKind = "tick"
)

// Event is delivered to observers.
type Event struct {
	Kind EventKind `json:"kind"`

	// From is the previous state of a transition event.
	From State `json:"from,omitempty"`

	// Status is the full snapshot for transitions. Tick events only carry
	// SessionID, State and ElapsedMs.
	Status Status `json:"status"`
}

// Observer receives controller events.
type Observer func(Event)

// Subscribe registers fn and returns a function that removes it.
func (c *Controller) Subscribe(fn Observer) (unsubscribe func()) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.pubMu.Lock()
		defer c.pubMu.Unlock()
		delete(c.observers, id)
	}
}

// transitionLocked moves to next, records the transition and notifies
// observers. c.mu must be held.
func (c *Controller) transitionLocked(ctx context.Context, next State) {
	prev := c.state
	c.state = next
	c.metrics.RecordTransition(ctx, string(prev), string(next))
	c.publish(Event{Kind: EventTransition, From: prev, Status: c.statusLocked()})
}

// publishTick runs on the clock's sampling goroutine and never touches c.mu.
func (c *Controller) publishTick(id uuid.UUID, elapsed time.Duration) {
	c.publish(Event{
		Kind: EventTick,
		Status: Status{
			State:     StateRecording,
			SessionID: id,
			ElapsedMs: elapsed.Milliseconds(),
		},
	})
}

func (c *Controller) publish(ev Event) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for _, fn := range c.observers {
		fn(ev)
	}
}

func (c *Controller) statusLocked() Status {
	st := Status{
		State: c.state,
		Busy:  c.busy,
	}
	if c.lastErr != nil {
		st.Error = Describe(c.lastErr)
		st.ErrorKind = Kind(c.lastErr)
	}
	s := c.sess
	if s == nil {
		return st
	}
	st.SessionID = s.id
	st.Title = s.title
	st.StartedAt = s.startedAt
	st.Inputs = s.inputs
	st.Encoding = s.encoding
	if c.res != nil {
		st.ElapsedMs = c.res.elapsed().Milliseconds()
		if c.res.rec != nil {
			st.ArtifactSize = c.res.rec.Size()
		}
	} else {
		st.ElapsedMs = s.elapsed.Milliseconds()
	}
	if s.artifact != nil {
		st.ArtifactSize = s.artifact.Size()
	}
	if s.result != nil {
		st.TranscriptionID = s.result.TranscriptionID()
		st.TranslationID = s.result.TranslationID()
		st.AnalysisID = s.result.AnalysisID()
	}
	return st
}

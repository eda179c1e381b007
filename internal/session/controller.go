package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/clock"
	"github.com/MrWong99/meetrec/internal/negotiate"
	"github.com/MrWong99/meetrec/internal/observe"
	"github.com/MrWong99/meetrec/internal/pipeline"
	"github.com/MrWong99/meetrec/internal/recorder"
	"github.com/MrWong99/meetrec/pkg/audio/codec"
	"github.com/MrWong99/meetrec/pkg/audio/mixer"
)

// SourceAcquirer negotiates capture devices for a new session.
// [*negotiate.Negotiator] implements it.
type SourceAcquirer interface {
	AcquireSources(ctx context.Context) (negotiate.Sources, error)
}

// Processor uploads a finished recording and runs the remote stages.
// [*pipeline.Pipeline] implements it.
type Processor interface {
	Run(ctx context.Context, creds *api.Credentials, artifact *recorder.Artifact, title string) (*pipeline.Result, error)
}

var (
	_ SourceAcquirer = (*negotiate.Negotiator)(nil)
	_ Processor      = (*pipeline.Pipeline)(nil)
)

// Settings are the per-session tunables. Changes made with
// [Controller.UpdateSettings] apply to the next session.
type Settings struct {
	MicGain    float64
	SystemGain float64

	// Encodings is the recorder's MIME preference list. Empty uses
	// [codec.DefaultPreferences].
	Encodings []string

	Timeslice  time.Duration
	FlushGrace time.Duration
	Codec      codec.Options

	// SampleInterval is how often elapsed time is published while recording.
	SampleInterval time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		MicGain:        mixer.DefaultMicGain,
		SystemGain:     mixer.DefaultSystemGain,
		Timeslice:      recorder.DefaultTimeslice,
		FlushGrace:     recorder.DefaultFlushGrace,
		SampleInterval: clock.DefaultSampleInterval,
	}
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithSettings sets the initial session settings.
func WithSettings(s Settings) Option {
	return func(c *Controller) { c.settings = s }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithNow overrides the time source used for the session clock and
// timestamps. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// session is the data of the current session. It is replaced, never reused.
type session struct {
	id        uuid.UUID
	title     string
	startedAt time.Time
	inputs    int
	encoding  string
	elapsed   time.Duration
	artifact  *recorder.Artifact
	result    *pipeline.Result
}

// Controller is the recording session state machine.
//
// All methods are safe for concurrent use. Observers are invoked
// synchronously in transition order and must neither block nor call back into
// the Controller.
type Controller struct {
	sources   SourceAcquirer
	processor Processor
	metrics   *observe.Metrics
	now       func() time.Time

	mu       sync.Mutex
	settings Settings
	state    State
	busy     bool
	gen      uint64
	sess     *session
	res      *resources
	lastErr  error

	pubMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New creates an idle controller.
func New(sources SourceAcquirer, processor Processor, opts ...Option) *Controller {
	c := &Controller{
		sources:   sources,
		processor: processor,
		now:       time.Now,
		settings:  DefaultSettings(),
		state:     StateIdle,
		observers: make(map[int]Observer),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// UpdateSettings replaces the settings used by subsequent sessions.
func (c *Controller) UpdateSettings(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// Settings returns the settings the next session will use.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// ── Operations ──────────────────────────────────────────────────────────────

// Start begins a new session titled title. A finished session (stopped, done
// or failed) is discarded first. Start returns once recording has begun or
// acquisition failed; on failure the controller is back in idle.
func (c *Controller) Start(ctx context.Context, title string) error {
	title = strings.TrimSpace(title)

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if title == "" {
		c.mu.Unlock()
		return ErrEmptyTitle
	}
	switch c.state {
	case StateIdle:
	case StateStopped, StateDone, StateFailed:
		// Devices were released when the previous session stopped.
		_ = c.discardLocked(ctx).release()
	default:
		s := c.state
		c.mu.Unlock()
		return invalid("start", s)
	}

	c.gen++
	gen := c.gen
	c.sess = &session{id: uuid.New(), title: title, startedAt: c.now()}
	c.lastErr = nil
	c.busy = true
	settings := c.settings
	c.transitionLocked(ctx, StateAwaitingSources)
	c.mu.Unlock()

	srcs, err := c.sources.AcquireSources(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		if err == nil {
			_ = srcs.Stop()
		}
		return ErrDiscarded
	}
	c.busy = false

	if err != nil {
		return c.abortStartLocked(ctx, nil, err)
	}

	res := &resources{sources: srcs}
	res.graph, err = mixer.Build(srcs.Microphone, srcs.System,
		mixer.WithMicGain(settings.MicGain),
		mixer.WithSystemGain(settings.SystemGain),
	)
	if err != nil {
		return c.abortStartLocked(ctx, res, err)
	}
	res.rec, err = recorder.New(res.graph,
		recorder.WithEncodings(settings.Encodings...),
		recorder.WithTimeslice(settings.Timeslice),
		recorder.WithFlushGrace(settings.FlushGrace),
		recorder.WithCodecOptions(settings.Codec),
		recorder.WithMetrics(c.metrics),
	)
	if err != nil {
		return c.abortStartLocked(ctx, res, err)
	}
	if err := res.rec.Start(ctx); err != nil {
		return c.abortStartLocked(ctx, res, err)
	}

	id := c.sess.id
	res.clk = clock.New(
		clock.WithNow(c.now),
		clock.WithSampleInterval(settings.SampleInterval),
		clock.WithOnSample(func(d time.Duration) { c.publishTick(id, d) }),
	)
	res.clk.Start()

	c.res = res
	c.sess.inputs = res.graph.Inputs()
	c.sess.encoding = res.rec.Encoding().MIME
	c.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started",
		"session_id", id,
		"title", c.sess.title,
		"inputs", c.sess.inputs,
		"encoding", c.sess.encoding,
	)
	c.transitionLocked(ctx, StateRecording)
	return nil
}

// abortStartLocked releases partially built resources and returns to idle.
func (c *Controller) abortStartLocked(ctx context.Context, res *resources, err error) error {
	if res != nil {
		if rerr := res.release(); rerr != nil {
			slog.Warn("session: release after failed start", "err", rerr)
		}
	}
	slog.Warn("session: start failed", "session_id", c.sess.id, "err", err)
	c.lastErr = err
	c.sess = nil
	c.transitionLocked(ctx, StateIdle)
	return err
}

// Pause suspends recording and the clock.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	if c.state != StateRecording {
		return invalid("pause", c.state)
	}
	c.res.rec.Pause()
	c.res.clk.Pause()
	c.transitionLocked(ctx, StatePaused)
	return nil
}

// Resume continues a paused session.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	if c.state != StatePaused {
		return invalid("resume", c.state)
	}
	c.res.rec.Resume()
	c.res.clk.Resume()
	c.transitionLocked(ctx, StateRecording)
	return nil
}

// Stop ends capture, finalizes the artifact and releases all devices. When
// nothing was recorded it returns [recorder.ErrEmptyRecording] and the
// controller goes back to idle.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.state.Active() {
		s := c.state
		c.mu.Unlock()
		return invalid("stop", s)
	}
	c.busy = true
	gen := c.gen
	res := c.res
	c.mu.Unlock()

	elapsed := res.clk.Stop()
	artifact, err := res.rec.Stop(ctx)
	if rerr := res.release(); rerr != nil {
		slog.Warn("session: release devices", "err", rerr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return ErrDiscarded
	}
	c.busy = false
	c.res = nil
	c.metrics.ActiveSessions.Add(ctx, -1)
	c.sess.elapsed = elapsed

	if err != nil {
		slog.Warn("session: stop produced no recording", "session_id", c.sess.id, "err", err)
		c.lastErr = err
		// The idle event still describes the failed session so observers
		// such as the history journal can record it.
		c.transitionLocked(ctx, StateIdle)
		c.sess = nil
		return err
	}

	c.sess.artifact = artifact
	c.metrics.RecordArtifact(ctx, artifact.MIMEType(), artifact.Size(), elapsed.Seconds())
	slog.Info("session stopped",
		"session_id", c.sess.id,
		"elapsed", elapsed,
		"bytes", artifact.Size(),
		"segments", artifact.Segments(),
	)
	c.transitionLocked(ctx, StateStopped)
	return nil
}

// Process uploads the retained artifact with creds and runs the pipeline.
// It is also the retry path after a failed run.
func (c *Controller) Process(ctx context.Context, creds *api.Credentials) (*pipeline.Result, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.state != StateStopped && c.state != StateFailed {
		s := c.state
		c.mu.Unlock()
		return nil, invalid("process", s)
	}
	artifact := c.sess.artifact
	if artifact == nil || artifact.Size() == 0 {
		c.mu.Unlock()
		return nil, ErrNoArtifact
	}
	c.busy = true
	gen := c.gen
	title := c.sess.title
	id := c.sess.id
	c.lastErr = nil
	c.transitionLocked(ctx, StateUploading)
	c.mu.Unlock()

	result, err := c.processor.Run(observe.WithSessionID(ctx, id.String()), creds, artifact, title)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil, ErrDiscarded
	}
	c.busy = false

	if err != nil {
		slog.Warn("session: processing failed", "session_id", id, "err", err)
		c.lastErr = err
		c.transitionLocked(ctx, StateFailed)
		return nil, err
	}
	c.sess.result = result
	slog.Info("session processed", "session_id", id, "analysis_id", result.AnalysisID())
	c.transitionLocked(ctx, StateDone)
	return result, nil
}

// Discard tears down the current session in any state and returns the
// controller to idle. It is always accepted. Operations still suspended for
// the discarded session complete with [ErrDiscarded].
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	res := c.discardLocked(ctx)
	c.mu.Unlock()
	return res.release()
}

// discardLocked clears the session and returns the resources the caller must
// release once the mutex is dropped.
func (c *Controller) discardLocked(ctx context.Context) *resources {
	if c.state == StateIdle && c.sess == nil {
		return nil
	}
	c.gen++
	c.busy = false
	res := c.res
	if res != nil && c.sess != nil {
		c.sess.elapsed = res.elapsed()
	}
	c.res = nil
	if res != nil {
		c.metrics.ActiveSessions.Add(ctx, -1)
	}
	if c.sess != nil {
		slog.Info("session discarded", "session_id", c.sess.id, "state", c.state)
	}
	c.lastErr = nil
	c.transitionLocked(ctx, StateDiscarded)
	c.sess = nil
	c.transitionLocked(ctx, StateIdle)
	return res
}

// ── Queries ─────────────────────────────────────────────────────────────────

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether an operation is suspended.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Artifact returns the retained recording and its title. ok is false when
// there is none.
func (c *Controller) Artifact() (artifact *recorder.Artifact, title string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.artifact == nil {
		return nil, "", false
	}
	return c.sess.artifact, c.sess.title, true
}

// Result returns the outcome of the last successful processing run.
func (c *Controller) Result() *pipeline.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.result
}

// LastError returns the error that ended the last failed operation.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

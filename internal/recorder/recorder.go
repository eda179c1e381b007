// Package recorder turns a mixed audio stream into an encoded recording.
//
// A [Recorder] encodes frames as they arrive and emits one segment per
// timeslice. Segments are kept in arrival order and assembled into an
// [Artifact] on [Recorder.Stop]. Pausing drops incoming frames without
// touching the stream, so the capture devices stay open.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/meetrec/internal/observe"
	"github.com/MrWong99/meetrec/pkg/audio"
	"github.com/MrWong99/meetrec/pkg/audio/codec"
)

const (
	// DefaultTimeslice is how often buffered data is emitted as a segment.
	DefaultTimeslice = time.Second

	// DefaultFlushGrace is how long Stop waits for the final flush.
	DefaultFlushGrace = 250 * time.Millisecond
)

// ErrEmptyRecording is returned by [Recorder.Stop] when no audio was captured.
var ErrEmptyRecording = errors.New("recorder: recording contains no audio")

// ErrAlreadyStarted is returned by [Recorder.Start] on a second call.
var ErrAlreadyStarted = errors.New("recorder: already started")

// Option configures a [Recorder].
type Option func(*Recorder)

// WithEncodings sets the encoding preference list (MIME types, best first).
func WithEncodings(prefs ...string) Option {
	return func(r *Recorder) { r.prefs = prefs }
}

// WithTimeslice sets the segment emission period.
func WithTimeslice(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeslice = d
		}
	}
}

// WithFlushGrace sets how long Stop waits for the final flush to arrive.
func WithFlushGrace(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithCodecOptions passes tuning options to the encoder.
func WithCodecOptions(o codec.Options) Option {
	return func(r *Recorder) { r.codecOpts = o }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

type flushRequest struct {
	final bool
	done  chan struct{}
}

// Recorder records one [audio.MixedStream]. A Recorder is single-use.
type Recorder struct {
	stream    audio.MixedStream
	enc       codec.Encoder
	prefs     []string
	codecOpts codec.Options
	timeslice time.Duration
	grace     time.Duration
	metrics   *observe.Metrics

	paused atomic.Bool

	mu       sync.Mutex
	segments [][]byte
	size     int
	err      error

	flushes  chan flushRequest
	quit     chan struct{}
	loopDone chan struct{}

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	artifact  *Artifact
	stopErr   error
}

// New creates a recorder for stream and selects its encoding. The encoding is
// fixed for the lifetime of the recorder.
func New(stream audio.MixedStream, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		stream:    stream,
		timeslice: DefaultTimeslice,
		grace:     DefaultFlushGrace,
		flushes:   make(chan flushRequest, 1),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}

	enc, err := codec.Select(r.prefs, stream.Format(), r.codecOpts)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	r.enc = enc
	return r, nil
}

// Encoding reports the encoding selected for this recording.
func (r *Recorder) Encoding() codec.Encoding { return r.enc.Encoding() }

// Start begins consuming the stream.
func (r *Recorder) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	r.startOnce.Do(func() {
		err = nil
		r.started.Store(true)
		go r.loop(context.WithoutCancel(ctx))
		slog.Info("recorder: started",
			"encoding", r.enc.Encoding().MIME,
			"format", r.stream.Format().String(),
			"timeslice", r.timeslice,
		)
	})
	return err
}

// Pause stops encoding; frames that arrive while paused are dropped.
func (r *Recorder) Pause() { r.paused.Store(true) }

// Resume continues encoding after [Recorder.Pause].
func (r *Recorder) Resume() { r.paused.Store(false) }

// Paused reports whether the recorder is paused.
func (r *Recorder) Paused() bool { return r.paused.Load() }

// RequestFlush asks the recorder to emit everything buffered now. It never
// blocks; a request that is already queued absorbs this one.
func (r *Recorder) RequestFlush() {
	select {
	case r.flushes <- flushRequest{}:
	default:
	}
}

// SegmentCount returns the number of segments recorded so far.
func (r *Recorder) SegmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments)
}

// Size returns the number of encoded bytes recorded so far.
func (r *Recorder) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Stop requests a final flush, waits up to the flush grace period for it,
// ends recording and assembles the artifact. It returns [ErrEmptyRecording]
// when nothing was recorded. Stop does not close the stream. Subsequent calls
// return the first result.
func (r *Recorder) Stop(ctx context.Context) (*Artifact, error) {
	r.stopOnce.Do(func() {
		r.artifact, r.stopErr = r.stop(ctx)
	})
	return r.artifact, r.stopErr
}

func (r *Recorder) stop(ctx context.Context) (*Artifact, error) {
	if !r.started.Load() {
		return nil, ErrEmptyRecording
	}

	req := flushRequest{final: true, done: make(chan struct{})}
	select {
	case r.flushes <- req:
	case <-r.loopDone:
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()
	select {
	case <-req.done:
	case <-grace.C:
		slog.Warn("recorder: final flush did not arrive within grace period", "grace", r.grace)
	case <-ctx.Done():
	}

	close(r.quit)
	<-r.loopDone

	r.mu.Lock()
	segments := r.segments
	encErr := r.err
	r.mu.Unlock()

	if encErr != nil {
		return nil, encErr
	}
	if len(segments) == 0 {
		return nil, ErrEmptyRecording
	}
	body := bytes.Join(segments, nil)
	if len(body) == 0 {
		return nil, ErrEmptyRecording
	}
	data, err := r.enc.Finalize(body)
	if err != nil {
		return nil, fmt.Errorf("recorder: finalize: %w", err)
	}

	a := &Artifact{data: data, encoding: r.enc.Encoding(), segments: len(segments)}
	slog.Info("recorder: stopped",
		"segments", a.Segments(),
		"bytes", a.Size(),
		"encoding", a.MIMEType(),
	)
	return a, nil
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.loopDone)

	ticker := time.NewTicker(r.timeslice)
	defer ticker.Stop()

	frames := r.stream.Frames()
	for {
		select {
		case <-r.quit:
			return

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if r.paused.Load() {
				continue
			}
			if err := r.enc.Encode(audio.BytesToInt16s(frame.Data)); err != nil {
				r.fail(err)
			}

		case <-ticker.C:
			r.emit(ctx, false)

		case req := <-r.flushes:
			r.emit(ctx, req.final)
			if req.done != nil {
				close(req.done)
			}
		}
	}
}

// emit drains the encoder into a new segment. Empty segments are dropped.
func (r *Recorder) emit(ctx context.Context, final bool) {
	data, err := r.enc.Flush(final)
	if err != nil {
		r.fail(err)
		return
	}
	if len(data) == 0 {
		slog.Debug("recorder: discarding empty segment", "final", final)
		r.metrics.EmptySegments.Add(ctx, 1)
		return
	}
	r.mu.Lock()
	r.segments = append(r.segments, data)
	r.size += len(data)
	r.mu.Unlock()
	r.metrics.Segments.Add(ctx, 1)
}

func (r *Recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		slog.Error("recorder: encoding failed", "err", err)
		r.err = fmt.Errorf("recorder: %w", err)
	}
}

package session_test

import (
	"context"
	"encoding/binary"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/meetrec/internal/api"
	"github.com/MrWong99/meetrec/internal/negotiate"
	"github.com/MrWong99/meetrec/internal/observe"
	"github.com/MrWong99/meetrec/internal/pipeline"
	pipemock "github.com/MrWong99/meetrec/internal/pipeline/mock"
	"github.com/MrWong99/meetrec/internal/recorder"
	"github.com/MrWong99/meetrec/internal/session"
	"github.com/MrWong99/meetrec/pkg/audio"
	audiomock "github.com/MrWong99/meetrec/pkg/audio/mock"
)

var testFormat = audio.Format{SampleRate: 48000, Channels: 1}

// fakeTime is a manually advanced time source.
type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// eventLog collects transition events.
type eventLog struct {
	mu     sync.Mutex
	states []session.State
	events []session.Event
}

func (l *eventLog) observe(ev session.Event) {
	if ev.Kind != session.EventTransition {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, ev.Status.State)
	l.events = append(l.events, ev)
}

func (l *eventLog) States() []session.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.states)
}

type fixture struct {
	ctrl    *session.Controller
	host    *audiomock.Host
	mic     *audiomock.Source
	system  *audiomock.Source
	backend *pipemock.Backend
	clock   *fakeTime
	events  *eventLog
}

func newFixture(t *testing.T, configure func(h *audiomock.Host)) *fixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		mic:     audiomock.NewSource(audio.SourceMicrophone, testFormat, 64),
		system:  audiomock.NewSource(audio.SourceSystem, testFormat, 64),
		backend: pipemock.NewSucceeding(),
		clock:   newFakeTime(),
		events:  &eventLog{},
	}
	f.host = &audiomock.Host{MicrophoneResult: f.mic, SystemResult: f.system}
	if configure != nil {
		configure(f.host)
	}

	settings := session.DefaultSettings()
	settings.Encodings = []string{"audio/wav"}
	settings.Timeslice = 10 * time.Millisecond
	settings.FlushGrace = 200 * time.Millisecond
	settings.SampleInterval = time.Hour

	f.ctrl = session.New(
		negotiate.New(f.host, negotiate.Config{Format: testFormat}),
		pipeline.New(f.backend, pipeline.WithMetrics(m)),
		session.WithSettings(settings),
		session.WithMetrics(m),
		session.WithNow(f.clock.Now),
	)
	f.ctrl.Subscribe(f.events.observe)
	t.Cleanup(func() { _ = f.ctrl.Discard(context.Background()) })
	return f
}

// tone returns 20 ms of a constant non-zero signal.
func tone() []byte {
	buf := make([]byte, 960*2)
	for i := 0; i < 960; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(4000)))
	}
	return buf
}

// recordSomething pushes audio and waits until the recorder has encoded it.
func (f *fixture) recordSomething(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.ctrl.Status().ArtifactSize == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recorder did not produce any data")
		}
		f.mic.Push(tone())
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForState(t *testing.T, c *session.Controller, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func creds() *api.Credentials {
	return api.NewCredentials(api.TokenPair{AccessToken: "access", RefreshToken: "refresh"})
}

// ── Recording ───────────────────────────────────────────────────────────────

func TestController_RecordPauseResumeStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ctrl.Start(ctx, "  Weekly sync  "); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := f.ctrl.Status()
	if st.State != session.StateRecording {
		t.Fatalf("state = %s, want recording", st.State)
	}
	if st.Title != "Weekly sync" {
		t.Errorf("title = %q, want %q", st.Title, "Weekly sync")
	}
	if st.Inputs != 2 {
		t.Errorf("inputs = %d, want 2", st.Inputs)
	}
	if st.Encoding != "audio/wav" {
		t.Errorf("encoding = %q, want audio/wav", st.Encoding)
	}

	f.recordSomething(t)
	f.clock.Advance(3 * time.Second)

	if err := f.ctrl.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	f.clock.Advance(2 * time.Second)
	if got := f.ctrl.Status().ElapsedMs; got != 3000 {
		t.Errorf("elapsed while paused = %d, want 3000", got)
	}

	if err := f.ctrl.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	f.clock.Advance(2 * time.Second)

	if err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	st = f.ctrl.Status()
	if st.State != session.StateStopped {
		t.Fatalf("state = %s, want stopped", st.State)
	}
	if st.ElapsedMs != 5000 {
		t.Errorf("elapsed = %d, want 5000", st.ElapsedMs)
	}
	artifact, title, ok := f.ctrl.Artifact()
	if !ok || artifact.Size() == 0 {
		t.Fatal("expected a non-empty artifact")
	}
	if title != "Weekly sync" {
		t.Errorf("artifact title = %q", title)
	}
	if artifact.MIMEType() != "audio/wav" {
		t.Errorf("artifact MIME = %q, want audio/wav", artifact.MIMEType())
	}
	if !f.mic.Stopped() || !f.system.Stopped() {
		t.Error("sources not stopped after Stop")
	}

	want := []session.State{
		session.StateAwaitingSources,
		session.StateRecording,
		session.StatePaused,
		session.StateRecording,
		session.StateStopped,
	}
	if got := f.events.States(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestController_SystemShareCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(h *audiomock.Host) {
		h.SystemResult = nil
		h.SystemError = audio.ErrCaptureDeclined
	})
	ctx := context.Background()

	if err := f.ctrl.Start(ctx, "Standup"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.ctrl.Status().Inputs; got != 1 {
		t.Errorf("inputs = %d, want 1", got)
	}
	f.recordSomething(t)
	if err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, _, ok := f.ctrl.Artifact(); !ok {
		t.Error("expected an artifact from microphone-only recording")
	}
}

func TestController_EmptyRecording(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ctrl.Start(ctx, "Silence"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := f.ctrl.Stop(ctx)
	if !errors.Is(err, recorder.ErrEmptyRecording) {
		t.Fatalf("Stop error = %v, want ErrEmptyRecording", err)
	}

	st := f.ctrl.Status()
	if st.State != session.StateIdle {
		t.Errorf("state = %s, want idle", st.State)
	}
	if st.ErrorKind != session.KindEmptyRecording {
		t.Errorf("error kind = %q, want %q", st.ErrorKind, session.KindEmptyRecording)
	}
	if _, _, ok := f.ctrl.Artifact(); ok {
		t.Error("empty recording must not leave an artifact")
	}
	if f.mic.StopCalls() != 1 || f.system.StopCalls() != 1 {
		t.Errorf("stop calls = mic %d, system %d; want 1 each", f.mic.StopCalls(), f.system.StopCalls())
	}

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1].Status
	f.events.mu.Unlock()
	if last.State != session.StateIdle {
		t.Fatalf("last transition = %s, want idle", last.State)
	}
	if last.SessionID == [16]byte{} {
		t.Error("idle transition after an empty recording has no session ID")
	}
	if last.ErrorKind != session.KindEmptyRecording {
		t.Errorf("idle transition error kind = %q, want %q", last.ErrorKind, session.KindEmptyRecording)
	}
	if last.Title != "Silence" {
		t.Errorf("idle transition title = %q, want %q", last.Title, "Silence")
	}
}

func TestController_StartFailureReleasesSources(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(h *audiomock.Host) {
		h.MicrophoneResult = nil
		h.MicrophoneError = audio.ErrPermissionDenied
	})

	err := f.ctrl.Start(context.Background(), "Retro")
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Start error = %v, want ErrPermissionDenied", err)
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if !f.system.Stopped() {
		t.Error("system source not released after microphone failure")
	}
	if got := session.Describe(f.ctrl.LastError()); got != session.Describe(audio.ErrPermissionDenied) {
		t.Errorf("Describe(LastError) = %q", got)
	}
	want := []session.State{session.StateAwaitingSources, session.StateIdle}
	if got := f.events.States(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestController_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ctrl.Start(ctx, "   "); !errors.Is(err, session.ErrEmptyTitle) {
		t.Errorf("Start(blank) = %v, want ErrEmptyTitle", err)
	}
	if err := f.ctrl.Pause(ctx); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Pause(idle) = %v, want ErrInvalidTransition", err)
	}
	if err := f.ctrl.Resume(ctx); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Resume(idle) = %v, want ErrInvalidTransition", err)
	}
	if err := f.ctrl.Stop(ctx); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Stop(idle) = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.ctrl.Process(ctx, creds()); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Process(idle) = %v, want ErrInvalidTransition", err)
	}

	if err := f.ctrl.Start(ctx, "Planning"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.ctrl.Start(ctx, "Again"); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Start(recording) = %v, want ErrInvalidTransition", err)
	}
	if err := f.ctrl.Resume(ctx); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("Resume(recording) = %v, want ErrInvalidTransition", err)
	}
}

// ── Processing ──────────────────────────────────────────────────────────────

func (f *fixture) recordAndStop(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.ctrl.Start(ctx, "Design review"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.recordSomething(t)
	if err := f.ctrl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestController_ProcessSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.recordAndStop(t)

	res, err := f.ctrl.Process(context.Background(), creds())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	st := f.ctrl.Status()
	if st.State != session.StateDone {
		t.Fatalf("state = %s, want done", st.State)
	}
	if st.AnalysisID != res.AnalysisID() || st.TranscriptionID != res.TranscriptionID() {
		t.Errorf("status IDs = %v/%v, want %v/%v", st.TranscriptionID, st.AnalysisID, res.TranscriptionID(), res.AnalysisID())
	}
	call := f.backend.TranscribeCalls[0]
	if call.Title != "Design review" || call.MIMEType != "audio/wav" || call.Token != "access" {
		t.Errorf("transcribe call = %+v", call)
	}
}

func TestController_TranslateFailureRetainsArtifact(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.recordAndStop(t)
	before, _, _ := f.ctrl.Artifact()

	okTranslation := f.backend.TranslateResult
	f.backend.SetTranslate(nil, &api.Error{StatusCode: 500, Detail: "translator offline"})

	_, err := f.ctrl.Process(context.Background(), creds())
	var se *pipeline.StageError
	if !errors.As(err, &se) || se.Stage != pipeline.StageTranslate {
		t.Fatalf("Process error = %v, want translate StageError", err)
	}
	st := f.ctrl.Status()
	if st.State != session.StateFailed {
		t.Fatalf("state = %s, want failed", st.State)
	}
	if st.ErrorKind != session.KindStage {
		t.Errorf("error kind = %q, want %q", st.ErrorKind, session.KindStage)
	}
	want := "Translation failed: translator offline. You can retry processing."
	if st.Error != want {
		t.Errorf("error = %q, want %q", st.Error, want)
	}
	after, _, ok := f.ctrl.Artifact()
	if !ok || after != before {
		t.Fatal("artifact not retained after stage failure")
	}

	f.backend.SetTranslate(okTranslation, nil)
	if _, err := f.ctrl.Process(context.Background(), creds()); err != nil {
		t.Fatalf("retry Process: %v", err)
	}
	if got := f.ctrl.State(); got != session.StateDone {
		t.Errorf("state after retry = %s, want done", got)
	}
	if got := len(f.backend.StageCalls()); got != 5 {
		t.Errorf("stage calls = %d, want 5 (2 + 3)", got)
	}
}

func TestController_SessionExpired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.recordAndStop(t)
	f.backend.TranscribeFunc = func(context.Context) (*api.Transcription, error) {
		return nil, api.ErrSessionExpired
	}

	_, err := f.ctrl.Process(context.Background(), creds())
	if !api.IsSessionExpired(err) {
		t.Fatalf("Process error = %v, want session expired", err)
	}
	if got := session.Describe(err); got != "Session expired. Please login again." {
		t.Errorf("Describe = %q", got)
	}
	if got := f.ctrl.State(); got != session.StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if _, _, ok := f.ctrl.Artifact(); !ok {
		t.Error("artifact lost after session expiry")
	}
}

func TestController_StartReplacesFinishedSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.recordAndStop(t)
	first := f.ctrl.Status().SessionID

	f.host.MicrophoneResult = audiomock.NewSource(audio.SourceMicrophone, testFormat, 8)
	f.host.SystemResult = nil
	f.host.SystemError = audio.ErrCaptureDeclined

	if err := f.ctrl.Start(context.Background(), "Second"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := f.ctrl.Status()
	if st.SessionID == first {
		t.Error("session ID was reused")
	}
	if _, _, ok := f.ctrl.Artifact(); ok {
		t.Error("previous artifact survived a new start")
	}
	states := f.events.States()
	tail := states[len(states)-4:]
	want := []session.State{session.StateDiscarded, session.StateIdle, session.StateAwaitingSources, session.StateRecording}
	if !slices.Equal(tail, want) {
		t.Errorf("transitions tail = %v, want %v", tail, want)
	}
}

// ── Discard and concurrency ─────────────────────────────────────────────────

func TestController_DiscardIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ctrl.Start(ctx, "Sync"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.ctrl.Discard(ctx); err != nil {
			t.Fatalf("Discard #%d: %v", i+1, err)
		}
	}
	st := f.ctrl.Status()
	if st.State != session.StateIdle || st.SessionID != [16]byte{} {
		t.Errorf("status after discard = %+v, want empty idle", st)
	}
	if f.mic.StopCalls() != 1 || f.system.StopCalls() != 1 {
		t.Errorf("stop calls = mic %d, system %d; want 1 each", f.mic.StopCalls(), f.system.StopCalls())
	}
	want := []session.State{
		session.StateAwaitingSources,
		session.StateRecording,
		session.StateDiscarded,
		session.StateIdle,
	}
	if got := f.events.States(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestController_DiscardKeepsElapsed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.ctrl.Start(ctx, "Standup"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(3 * time.Second)
	if err := f.ctrl.Discard(ctx); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	var discarded *session.Status
	for i := range f.events.events {
		if f.events.events[i].Status.State == session.StateDiscarded {
			discarded = &f.events.events[i].Status
		}
	}
	if discarded == nil {
		t.Fatal("no discarded transition published")
	}
	if discarded.ElapsedMs != 3000 {
		t.Errorf("discarded ElapsedMs = %d, want 3000", discarded.ElapsedMs)
	}
}

func TestController_BusyDuringAcquisition(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	f := newFixture(t, nil)
	f.host.MicrophoneFunc = func(audio.CaptureRequest) (audio.Source, error) {
		<-release
		return f.mic, nil
	}
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Start(ctx, "Slow devices") }()
	waitForState(t, f.ctrl, session.StateAwaitingSources)

	if err := f.ctrl.Pause(ctx); !errors.Is(err, session.ErrBusy) {
		t.Errorf("Pause = %v, want ErrBusy", err)
	}
	if err := f.ctrl.Start(ctx, "Other"); !errors.Is(err, session.ErrBusy) {
		t.Errorf("Start = %v, want ErrBusy", err)
	}
	if err := f.ctrl.Stop(ctx); !errors.Is(err, session.ErrBusy) {
		t.Errorf("Stop = %v, want ErrBusy", err)
	}
	if !f.ctrl.Status().Busy {
		t.Error("status does not report busy")
	}

	if err := f.ctrl.Discard(ctx); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, session.ErrDiscarded) {
		t.Fatalf("Start = %v, want ErrDiscarded", err)
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if !f.mic.Stopped() || !f.system.Stopped() {
		t.Error("sources acquired for a discarded session were not released")
	}
}

func TestController_DiscardDuringUpload(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.recordAndStop(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.TranscribeFunc = func(context.Context) (*api.Transcription, error) {
		close(entered)
		<-release
		return f.backend.TranscribeResult, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Process(context.Background(), creds())
		done <- err
	}()
	<-entered
	if got := f.ctrl.State(); got != session.StateUploading {
		t.Fatalf("state = %s, want uploading", got)
	}
	if _, err := f.ctrl.Process(context.Background(), creds()); !errors.Is(err, session.ErrBusy) {
		t.Errorf("second Process = %v, want ErrBusy", err)
	}
	if err := f.ctrl.Discard(context.Background()); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, session.ErrDiscarded) {
		t.Errorf("Process = %v, want ErrDiscarded", err)
	}
	if got := f.ctrl.State(); got != session.StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if f.ctrl.Result() != nil {
		t.Error("result of a discarded session was stored")
	}
}

func TestController_Unsubscribe(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	var mu sync.Mutex
	count := 0
	unsubscribe := f.ctrl.Subscribe(func(session.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err := f.ctrl.Start(context.Background(), "Once"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	unsubscribe()
	if err := f.ctrl.Discard(context.Background()); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("events after unsubscribe = %d, want 2", count)
	}
}

// Package mock provides in-memory mock implementations of the [audio.Host]
// and [audio.Source] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := mock.NewSource(audio.SourceMicrophone, audio.Format{SampleRate: 48000, Channels: 1}, 64)
//	host := &mock.Host{
//	    MicrophoneResult: mic,
//	    SystemError:      audio.ErrCaptureDeclined,
//	}
//	src, err := host.CaptureMicrophone(ctx, audio.CaptureRequest{})
//	mic.Push(pcm)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Host   = (*Host)(nil)
	_ audio.Source = (*Source)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Frames are injected with
// [Source.Push]; Stop closes the frame channel exactly once.
type Source struct {
	mu sync.Mutex

	kind   audio.SourceKind
	format audio.Format
	frames chan audio.AudioFrame
	sent   time.Duration

	stopped bool

	// LabelValue is returned by [Source.Label].
	LabelValue string

	// StopError is returned by every call to [Source.Stop].
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewSource creates a mock source of the given kind and format whose frame
// channel has the given buffer capacity.
func NewSource(kind audio.SourceKind, format audio.Format, buffer int) *Source {
	return &Source{
		kind:       kind,
		format:     format,
		frames:     make(chan audio.AudioFrame, buffer),
		LabelValue: "mock " + kind.String(),
	}
}

// Kind implements [audio.Source].
func (s *Source) Kind() audio.SourceKind { return s.kind }

// Label implements [audio.Source]. Returns LabelValue.
func (s *Source) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LabelValue
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.frames }

// Stop implements [audio.Source]. The first call closes the frame channel.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.stopped {
		s.stopped = true
		close(s.frames)
	}
	return s.StopError
}

// Push delivers data as one frame in the source's format. It reports false
// when the source is stopped or the channel buffer is full.
func (s *Source) Push(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	frame := audio.AudioFrame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  s.sent,
	}
	select {
	case s.frames <- frame:
	default:
		return false
	}
	if s.format.SampleRate > 0 && s.format.Channels > 0 {
		samples := len(data) / 2 / s.format.Channels
		s.sent += time.Duration(samples) * time.Second / time.Duration(s.format.SampleRate)
	}
	return true
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StopCalls returns CallCountStop under the lock.
func (s *Source) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// ─── Host ─────────────────────────────────────────────────────────────────────

// CaptureCall records the arguments of a single capture invocation.
type CaptureCall struct {
	// Kind is the kind of source that was requested.
	Kind audio.SourceKind

	// Request is the request passed to the capture method.
	Request audio.CaptureRequest
}

// Host is a mock implementation of [audio.Host].
//
// When a *Func field is set it takes precedence over the matching
// Result/Error pair, which lets tests hand out a fresh source per session.
type Host struct {
	mu sync.Mutex

	// CheckError is returned by [Host.Check].
	CheckError error

	// SystemResult and SystemError are returned by [Host.CaptureSystem].
	SystemResult audio.Source
	SystemError  error
	SystemFunc   func(req audio.CaptureRequest) (audio.Source, error)

	// MicrophoneResult and MicrophoneError are returned by [Host.CaptureMicrophone].
	MicrophoneResult audio.Source
	MicrophoneError  error
	MicrophoneFunc   func(req audio.CaptureRequest) (audio.Source, error)

	// CallCountCheck records how many times Check was called.
	CallCountCheck int

	// CaptureCalls records all capture invocations in call order.
	CaptureCalls []CaptureCall
}

// Check implements [audio.Host]. Returns CheckError.
func (h *Host) Check(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountCheck++
	return h.CheckError
}

// CaptureSystem implements [audio.Host].
func (h *Host) CaptureSystem(_ context.Context, req audio.CaptureRequest) (audio.Source, error) {
	h.mu.Lock()
	h.CaptureCalls = append(h.CaptureCalls, CaptureCall{Kind: audio.SourceSystem, Request: req})
	fn, src, err := h.SystemFunc, h.SystemResult, h.SystemError
	h.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// CaptureMicrophone implements [audio.Host].
func (h *Host) CaptureMicrophone(_ context.Context, req audio.CaptureRequest) (audio.Source, error) {
	h.mu.Lock()
	h.CaptureCalls = append(h.CaptureCalls, CaptureCall{Kind: audio.SourceMicrophone, Request: req})
	fn, src, err := h.MicrophoneFunc, h.MicrophoneResult, h.MicrophoneError
	h.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Calls returns a copy of CaptureCalls under the lock.
func (h *Host) Calls() []CaptureCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CaptureCall, len(h.CaptureCalls))
	copy(out, h.CaptureCalls)
	return out
}

// Package audio defines the interfaces and types for capture-device access and
// stream handling within meetrec.
//
// The primary abstractions are:
//
//   - [Host]: the capture environment. It opens microphone and system-audio
//     (loopback) captures and reports whether media capture is available at all.
//   - [Source]: one live capture track. It delivers PCM [AudioFrame] values
//     until it is stopped.
//   - [MixedStream]: the single output of a mixing graph that combines one or
//     more sources.
//
// Implementations of [Host] live in backend packages (e.g., audio/portaudio).
// The interfaces are intentionally narrow so that the negotiator and recorder
// can be exercised with the in-memory doubles in audio/mock.
package audio

import (
	"context"
	"errors"
)

// SourceKind classifies a capture [Source].
type SourceKind int

const (
	// SourceMicrophone is the local microphone. Every recording has one.
	SourceMicrophone SourceKind = iota

	// SourceSystem is system or shared-application audio captured through a
	// loopback or monitor device. It is optional.
	SourceSystem
)

// String returns the human-readable name of the source kind.
func (k SourceKind) String() string {
	switch k {
	case SourceMicrophone:
		return "microphone"
	case SourceSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Processing lists the voice-processing features requested for a capture.
// Backends that cannot provide a feature ignore the flag and say so in their
// logs; the request itself is part of the negotiation contract.
type Processing struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureRequest describes a capture the negotiator asks the [Host] for.
type CaptureRequest struct {
	// Device optionally names a specific device. Empty selects the backend default.
	Device string

	// Format is the requested PCM format. Backends may deliver a different
	// format; consumers must read [Source.Format].
	Format Format

	// Processing lists the requested voice-processing features.
	Processing Processing
}

// Sentinel errors returned by [Host] implementations. Callers should use
// [errors.Is] since backends wrap them with device details.
var (
	// ErrPermissionDenied means the user or the operating system refused access
	// to the capture device.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable means no suitable capture device exists.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDeviceBusy means the device exists but is held by another consumer.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrEnvironmentUnsupported means the host exposes no media-capture
	// capability at all.
	ErrEnvironmentUnsupported = errors.New("audio: environment unsupported")

	// ErrCaptureDeclined means a system-audio capture was not granted (the
	// request was cancelled or system capture is disabled).
	ErrCaptureDeclined = errors.New("audio: capture declined")

	// ErrNoAudioTrack means a system capture was granted but carries no audio.
	ErrNoAudioTrack = errors.New("audio: capture has no audio track")
)

// Source is one live capture track.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Kind reports whether this is a microphone or a system source.
	Kind() SourceKind

	// Label returns a human-readable device name for logs.
	Label() string

	// Format reports the PCM format of the frames delivered by Frames.
	Format() Format

	// Frames returns the read-only channel of captured frames. The channel is
	// closed after Stop is called or when the device fails.
	Frames() <-chan AudioFrame

	// Stop stops the capture and releases the device. It is safe to call Stop
	// more than once; subsequent calls are no-ops and return nil.
	Stop() error
}

// Host is the capture environment.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// Check reports whether media capture is available. It returns an error
	// wrapping [ErrEnvironmentUnsupported] when it is not.
	Check(ctx context.Context) error

	// CaptureSystem opens a system-audio capture. It returns an error wrapping
	// [ErrCaptureDeclined] or [ErrNoAudioTrack] when no system audio can be
	// captured.
	CaptureSystem(ctx context.Context, req CaptureRequest) (Source, error)

	// CaptureMicrophone opens a microphone capture. Failures wrap one of
	// [ErrPermissionDenied], [ErrDeviceUnavailable], [ErrDeviceBusy] or
	// [ErrEnvironmentUnsupported].
	CaptureMicrophone(ctx context.Context, req CaptureRequest) (Source, error)
}

// Package portaudio implements [audio.Host] on top of PortAudio via
// github.com/gordonklaus/portaudio.
//
// Microphone capture opens the default input device (or a named one).
// System audio is captured from a loopback input: a PulseAudio/PipeWire
// "Monitor of …" source, a WASAPI "Stereo Mix" device, or a virtual device such
// as BlackHole on macOS. When no such device exists the capture reports
// [audio.ErrNoAudioTrack], which the negotiator treats as "no system audio".
//
// PortAudio keeps an internal reference count for Initialize/Terminate, so
// every open stream holds one reference and releases it when stopped.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Host = (*Host)(nil)

// DisabledDevice is the device name that turns system-audio capture off.
// Requests for it fail with [audio.ErrCaptureDeclined].
const DisabledDevice = "none"

// defaultFramesPerBuffer is 20 ms at 48 kHz.
const defaultFramesPerBuffer = 960

// defaultLoopbackHints are lower-case substrings identifying loopback inputs.
var defaultLoopbackHints = []string{"monitor of", "monitor", "loopback", "stereo mix", "blackhole", "soundflower"}

// Option configures a [Host].
type Option func(*Host)

// WithFramesPerBuffer sets the number of frames read per blocking read.
func WithFramesPerBuffer(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.framesPerBuffer = n
		}
	}
}

// WithLoopbackHints replaces the substrings used to auto-detect a loopback
// device for system audio. Matching is case-insensitive.
func WithLoopbackHints(hints ...string) Option {
	return func(h *Host) {
		h.loopbackHints = make([]string, 0, len(hints))
		for _, hint := range hints {
			h.loopbackHints = append(h.loopbackHints, strings.ToLower(hint))
		}
	}
}

// Host is a PortAudio-backed [audio.Host]. It is safe for concurrent use.
type Host struct {
	framesPerBuffer int
	loopbackHints   []string

	warnProcessing sync.Once
}

// New creates a PortAudio host. No PortAudio resources are held until a
// capture is opened.
func New(opts ...Option) *Host {
	h := &Host{
		framesPerBuffer: defaultFramesPerBuffer,
		loopbackHints:   defaultLoopbackHints,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Check implements [audio.Host]. It initialises PortAudio, verifies that at
// least one host API with an input device exists, and releases it again.
func (h *Host) Check(_ context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", audio.ErrEnvironmentUnsupported)
	}
	defer portaudio.Terminate()

	apis, err := portaudio.HostApis()
	if err != nil || len(apis) == 0 {
		return fmt.Errorf("portaudio: no host api: %w", audio.ErrEnvironmentUnsupported)
	}
	return nil
}

// CaptureMicrophone implements [audio.Host].
func (h *Host) CaptureMicrophone(ctx context.Context, req audio.CaptureRequest) (audio.Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", audio.ErrEnvironmentUnsupported)
	}

	dev, err := h.microphoneDevice(req.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	h.logProcessing(req.Processing)

	src, err := h.open(ctx, audio.SourceMicrophone, dev, req.Format)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	return src, nil
}

// CaptureSystem implements [audio.Host].
func (h *Host) CaptureSystem(ctx context.Context, req audio.CaptureRequest) (audio.Source, error) {
	if strings.EqualFold(req.Device, DisabledDevice) {
		return nil, fmt.Errorf("portaudio: system capture disabled: %w", audio.ErrCaptureDeclined)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", audio.ErrEnvironmentUnsupported)
	}

	dev, err := h.loopbackDevice(req.Device)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	src, err := h.open(ctx, audio.SourceSystem, dev, req.Format)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	return src, nil
}

// microphoneDevice resolves the named input device, or the default input
// device when name is empty.
func (h *Host) microphoneDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", classify(err))
		}
		if dev == nil || dev.MaxInputChannels < 1 {
			return nil, fmt.Errorf("portaudio: no default input device: %w", audio.ErrDeviceUnavailable)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", classify(err))
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && dev.Name == name {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: input device %q not found: %w", name, audio.ErrDeviceUnavailable)
}

// loopbackDevice resolves the named device, or the first input device whose
// name matches one of the loopback hints.
func (h *Host) loopbackDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", classify(err))
	}
	if dev := matchLoopback(devices, name, h.loopbackHints); dev != nil {
		return dev, nil
	}
	if name != "" {
		return nil, fmt.Errorf("portaudio: system device %q not found: %w", name, audio.ErrNoAudioTrack)
	}
	return nil, fmt.Errorf("portaudio: no loopback input device: %w", audio.ErrNoAudioTrack)
}

// matchLoopback picks the capture device for system audio.
func matchLoopback(devices []*portaudio.DeviceInfo, name string, hints []string) *portaudio.DeviceInfo {
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		if name != "" {
			if dev.Name == name {
				return dev
			}
			continue
		}
		lower := strings.ToLower(dev.Name)
		for _, hint := range hints {
			if strings.Contains(lower, hint) {
				return dev
			}
		}
	}
	return nil
}

// logProcessing notes once that PortAudio delivers unprocessed input.
func (h *Host) logProcessing(p audio.Processing) {
	if !p.EchoCancellation && !p.NoiseSuppression && !p.AutoGainControl {
		return
	}
	h.warnProcessing.Do(func() {
		slog.Info("portaudio: voice processing is left to the OS audio stack",
			"echo_cancellation", p.EchoCancellation,
			"noise_suppression", p.NoiseSuppression,
			"auto_gain", p.AutoGainControl,
		)
	})
}

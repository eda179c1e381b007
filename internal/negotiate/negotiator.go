// Package negotiate acquires the capture sources for a recording session.
//
// The [Negotiator] asks the [audio.Host] for system audio first and the
// microphone second. System audio is optional: a declined request, a capture
// without audio, or any other system-side failure leaves the session
// microphone-only. Microphone failures are fatal and are reported as one of
// the [audio] sentinel errors. Nothing acquired before a failure stays open.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// Sources is the result of a successful negotiation.
type Sources struct {
	// Microphone is always present.
	Microphone audio.Source

	// System is nil when no system audio is captured.
	System audio.Source
}

// All returns the non-nil sources, microphone first.
func (s Sources) All() []audio.Source {
	if s.System == nil {
		return []audio.Source{s.Microphone}
	}
	return []audio.Source{s.Microphone, s.System}
}

// Stop stops every source and returns the joined errors. Sources tolerate
// repeated Stop calls, so Stop is idempotent as well.
func (s Sources) Stop() error {
	var errs []error
	for _, src := range s.All() {
		if src == nil {
			continue
		}
		if err := src.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config holds the capture preferences.
type Config struct {
	// Format is the PCM format requested from both captures.
	Format audio.Format

	// MicrophoneDevice selects a microphone by name; empty uses the default.
	MicrophoneDevice string

	// SystemDevice selects the loopback device by name; empty auto-detects.
	SystemDevice string
}

// Negotiator acquires sources from an [audio.Host].
type Negotiator struct {
	host audio.Host
	cfg  Config
}

// New creates a Negotiator for host.
func New(host audio.Host, cfg Config) *Negotiator {
	return &Negotiator{host: host, cfg: cfg}
}

// AcquireSources negotiates the session's sources. On error no source is left
// running.
func (n *Negotiator) AcquireSources(ctx context.Context) (Sources, error) {
	if err := n.host.Check(ctx); err != nil {
		return Sources{}, fmt.Errorf("negotiate: %w", asEnvironment(err))
	}

	system := n.acquireSystem(ctx)

	mic, err := n.host.CaptureMicrophone(ctx, audio.CaptureRequest{
		Device: n.cfg.MicrophoneDevice,
		Format: n.cfg.Format,
		Processing: audio.Processing{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	})
	switch {
	case err == nil && mic == nil:
		err = fmt.Errorf("%w: capture returned no source", audio.ErrDeviceUnavailable)
	case err == nil && ctx.Err() != nil:
		err = ctx.Err()
		_ = mic.Stop()
	}
	if err != nil {
		if system != nil {
			if stopErr := system.Stop(); stopErr != nil {
				slog.Warn("negotiate: release system audio after microphone failure", "err", stopErr)
			}
		}
		return Sources{}, fmt.Errorf("negotiate: microphone: %w", err)
	}

	srcs := Sources{Microphone: mic, System: system}
	slog.Info("negotiate: sources acquired",
		"microphone", mic.Label(),
		"system_audio", system != nil,
	)
	return srcs, nil
}

// acquireSystem requests the system-audio capture. Every failure degrades to
// microphone-only.
func (n *Negotiator) acquireSystem(ctx context.Context) audio.Source {
	src, err := n.host.CaptureSystem(ctx, audio.CaptureRequest{
		Device: n.cfg.SystemDevice,
		Format: n.cfg.Format,
	})
	switch {
	case err == nil && src == nil:
		slog.Warn("negotiate: system capture returned no source, recording microphone only")
		return nil
	case err == nil:
		return src
	case errors.Is(err, audio.ErrCaptureDeclined):
		slog.Warn("negotiate: system audio not shared, recording microphone only", "reason", err)
	case errors.Is(err, audio.ErrNoAudioTrack):
		slog.Warn("negotiate: shared capture has no audio, recording microphone only", "reason", err)
	default:
		slog.Warn("negotiate: system audio unavailable, recording microphone only", "err", err)
	}
	return nil
}

// asEnvironment makes sure a failed capability check carries
// [audio.ErrEnvironmentUnsupported].
func asEnvironment(err error) error {
	if errors.Is(err, audio.ErrEnvironmentUnsupported) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrEnvironmentUnsupported, err)
}

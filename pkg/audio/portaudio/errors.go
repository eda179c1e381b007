package portaudio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/meetrec/pkg/audio"
)

// classify maps a PortAudio error onto the [audio] error taxonomy while
// keeping the original error in the chain.
func classify(err error) error {
	return fmt.Errorf("%w: %w", kindOf(err), err)
}

// kindOf returns the [audio] sentinel matching err.
func kindOf(err error) error {
	// ALSA, CoreAudio and WASAPI report privacy denials as host errors.
	var hostErr portaudio.UnanticipatedHostError
	if errors.As(err, &hostErr) {
		return audio.ErrPermissionDenied
	}

	var paErr portaudio.Error
	if !errors.As(err, &paErr) {
		return audio.ErrDeviceUnavailable
	}
	switch paErr {
	case portaudio.DeviceUnavailable:
		return audio.ErrDeviceBusy
	case portaudio.NotInitialized, portaudio.HostApiNotFound, portaudio.InvalidHostApi:
		return audio.ErrEnvironmentUnsupported
	default:
		return audio.ErrDeviceUnavailable
	}
}
